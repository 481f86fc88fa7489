package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	cferr "github.com/cleanflow/cleanflow/pkg/errors"
	"github.com/cleanflow/cleanflow/pkg/models"
)

func TestRuleClassifier(t *testing.T) {
	c := NewRuleClassifier([]Rule{
		{Label: "grocery", Keywords: []string{"whole foods", "safeway"}},
		{Label: "transport", Keywords: []string{"uber", "lyft"}},
	}, "misc")

	labels, err := c.Classify(context.Background(), []string{
		"WHOLE FOODS #123",
		"Uber Trip 4:55pm",
		"something else",
	})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	want := []string{"grocery", "transport", "misc"}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("Value %d: want %s, got %s", i, want[i], labels[i])
		}
	}
}

func TestRuleClassifierFirstRuleWins(t *testing.T) {
	c := NewRuleClassifier([]Rule{
		{Label: "first", Keywords: []string{"x"}},
		{Label: "second", Keywords: []string{"x"}},
	}, "")

	labels, _ := c.Classify(context.Background(), []string{"x marks the spot"})
	if labels[0] != "first" {
		t.Errorf("Expected first matching rule, got %s", labels[0])
	}
}

func TestRuleClassifierDefaultFallback(t *testing.T) {
	c := NewRuleClassifier(nil, "")
	labels, _ := c.Classify(context.Background(), []string{"anything"})
	if labels[0] != "other" {
		t.Errorf("Expected default fallback 'other', got %s", labels[0])
	}
}

func TestRemoteClassifier(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req classifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		labels := make([]string, len(req.Values))
		for i := range req.Values {
			labels[i] = "remote"
		}
		json.NewEncoder(w).Encode(classifyResponse{Labels: labels})
	}))
	defer srv.Close()

	c := NewRemoteClassifier(srv.URL, "sk-test", 0)
	labels, err := c.Classify(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(labels) != 2 || labels[0] != "remote" {
		t.Errorf("Unexpected labels: %v", labels)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("API key not sent: %q", gotAuth)
	}
}

func TestRemoteClassifierServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(classifyResponse{Error: "model overloaded"})
	}))
	defer srv.Close()

	c := NewRemoteClassifier(srv.URL, "sk-test", 0)
	if _, err := c.Classify(context.Background(), []string{"a"}); err == nil {
		t.Errorf("Expected error on 502")
	}
}

func TestRemoteClassifierLabelCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(classifyResponse{Labels: []string{"only-one"}})
	}))
	defer srv.Close()

	c := NewRemoteClassifier(srv.URL, "sk-test", 0)
	if _, err := c.Classify(context.Background(), []string{"a", "b"}); err == nil {
		t.Errorf("Expected error on label count mismatch")
	}
}

func TestRemoteConstructorRequiresKey(t *testing.T) {
	ctor := RemoteConstructor("https://example.invalid/classify", 0)

	_, err := ctor(context.Background(), models.Options{Tenant: "acme", Kind: "gpt"})
	if !cferr.IsCode(err, cferr.CodeModelConstruct) {
		t.Errorf("Expected ModelConstruct without a key, got %v", err)
	}

	if _, err := ctor(context.Background(), models.Options{Tenant: "acme", Kind: "gpt", APIKey: "sk"}); err != nil {
		t.Errorf("Construction with key failed: %v", err)
	}
}

func TestRuleConstructor(t *testing.T) {
	ctor := RuleConstructor([]Rule{{Label: "l", Keywords: []string{"k"}}}, "")
	instance, err := ctor(context.Background(), models.Options{Tenant: "acme"})
	if err != nil {
		t.Fatalf("Construction failed: %v", err)
	}
	if _, ok := instance.(*RuleClassifier); !ok {
		t.Errorf("Expected *RuleClassifier, got %T", instance)
	}
}
