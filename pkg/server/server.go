// Package server provides the HTTP API over sessions: upload a dataset,
// submit cleaning steps, review previews, undo, and commit.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/cleanflow/cleanflow/pkg/dataset"
	cferr "github.com/cleanflow/cleanflow/pkg/errors"
	"github.com/cleanflow/cleanflow/pkg/lifecycle"
	"github.com/cleanflow/cleanflow/pkg/session"
	"github.com/cleanflow/cleanflow/pkg/step"
)

// tenantHeader carries the caller's tenant id. Every session route requires
// it; sessions are invisible across tenants.
const tenantHeader = "X-Tenant-ID"

// Server handles HTTP requests for the cleaning workflow.
type Server struct {
	mgr      *session.Manager
	loader   *dataset.Loader
	limits   dataset.Limits
	shutdown *lifecycle.ShutdownManager
	mux      *http.ServeMux
}

// NewServer creates an HTTP server over a session manager. The shutdown
// manager may be nil, in which case requests are never rejected for drain.
func NewServer(mgr *session.Manager, loader *dataset.Loader, limits dataset.Limits, sd *lifecycle.ShutdownManager) *Server {
	s := &Server{
		mgr:      mgr,
		loader:   loader,
		limits:   limits,
		shutdown: sd,
		mux:      http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures HTTP handlers.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/actions", s.handleActions)
	s.mux.HandleFunc("/api/keys", s.handleKeys)
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/api/sessions/", s.handleSession)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+tenantHeader)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if s.shutdown != nil {
		if !s.shutdown.StartRequest() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		defer s.shutdown.EndRequest()
	}

	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.shutdown != nil && s.shutdown.IsDraining() {
		status = "draining"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"sessions": s.mgr.Len(),
	})
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"actions": step.List(),
	})
}

// handleKeys registers a tenant-supplied model API key (BYOK).
func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tenant := r.Header.Get(tenantHeader)
	if tenant == "" {
		http.Error(w, "missing "+tenantHeader+" header", http.StatusBadRequest)
		return
	}

	var req struct {
		Kind string `json:"kind"`
		Key  string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Kind == "" || req.Key == "" {
		http.Error(w, "body must include kind and key", http.StatusBadRequest)
		return
	}

	s.mgr.Models().SetTenantKey(tenant, req.Kind, req.Key)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSessions creates a session from an uploaded file.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tenant := r.Header.Get(tenantHeader)
	if tenant == "" {
		http.Error(w, "missing "+tenantHeader+" header", http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(s.limits.MaxBytes); err != nil {
		http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	frame, err := s.ingestUpload(r, file, header.Filename)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sess, err := s.mgr.Create(tenant, header.Filename, frame)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := sess.Preview()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ingestUpload spools the upload to a temp file and loads it through the
// extension-appropriate reader.
func (s *Server) ingestUpload(r *http.Request, file io.Reader, name string) (*dataset.Frame, error) {
	ext := strings.ToLower(filepath.Ext(name))

	tmp, err := os.CreateTemp("", "cleanflow-upload-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("failed to spool upload: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, io.LimitReader(file, s.limits.MaxBytes+1)); err != nil {
		return nil, fmt.Errorf("failed to spool upload: %w", err)
	}

	switch ext {
	case ".csv":
		return s.loader.LoadCSV(r.Context(), tmp.Name())
	case ".xlsx":
		return s.loader.LoadXLSX(r.Context(), tmp.Name())
	default:
		return nil, cferr.New(cferr.CodeFormatUnknown, "unsupported file extension").
			WithContext("name", name)
	}
}

// handleSession routes /api/sessions/{id}[/op].
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	tenant := r.Header.Get(tenantHeader)
	if tenant == "" {
		http.Error(w, "missing "+tenantHeader+" header", http.StatusBadRequest)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	op := ""
	if len(parts) == 2 {
		op = parts[1]
	}

	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	sess, err := s.mgr.Get(tenant, id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	switch {
	case op == "" && r.Method == http.MethodGet:
		res, err := sess.Preview()
		s.respond(w, res, err)

	case op == "" && r.Method == http.MethodDelete:
		s.mgr.Discard(tenant, id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "discarded"})

	case op == "steps" && r.Method == http.MethodPost:
		var steps []step.Step
		if err := json.NewDecoder(r.Body).Decode(&steps); err != nil {
			http.Error(w, "invalid step list: "+err.Error(), http.StatusBadRequest)
			return
		}
		res, err := sess.Submit(r.Context(), steps)
		s.respond(w, res, err)

	case op == "undo" && r.Method == http.MethodPost:
		res, err := sess.Undo()
		s.respond(w, res, err)

	case op == "redo" && r.Method == http.MethodPost:
		res, err := sess.Redo()
		s.respond(w, res, err)

	case op == "rewind" && r.Method == http.MethodPost:
		var req struct {
			Position int `json:"position"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "body must include position", http.StatusBadRequest)
			return
		}
		res, err := sess.RewindTo(req.Position)
		s.respond(w, res, err)

	case op == "commit" && r.Method == http.MethodPost:
		res, err := sess.Commit(r.Context())
		s.respond(w, res, err)

	case op == "history" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"history": sess.History(),
		})

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) respond(w http.ResponseWriter, res *session.Result, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// writeError maps error codes to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch cferr.GetCode(err) {
	case cferr.CodeInvalidStep, cferr.CodeColumnMissing, cferr.CodeTypeMismatch,
		cferr.CodeFileNotFound, cferr.CodeFileTooLarge, cferr.CodeFormatUnknown, cferr.CodeDatasetEmpty:
		status = http.StatusBadRequest
	case cferr.CodeInvalidTransition, cferr.CodeNothingToUndo, cferr.CodeNothingToRedo:
		status = http.StatusConflict
	case cferr.CodeSessionNotFound:
		status = http.StatusNotFound
	case cferr.CodeQuotaExceeded:
		status = http.StatusTooManyRequests
	case cferr.CodeStoreUnavailable:
		status = http.StatusServiceUnavailable
	case cferr.CodeStepExecution:
		status = http.StatusUnprocessableEntity
	}

	body := map[string]interface{}{"error": err.Error()}
	if code := cferr.GetCode(err); code != "" {
		body["code"] = string(code)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
