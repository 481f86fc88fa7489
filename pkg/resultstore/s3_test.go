package resultstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeBucket is a minimal S3-compatible object endpoint: path-style PUT,
// GET, and HEAD over an in-memory map, counting writes.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		content, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		b.puts++
		b.objects[r.URL.Path] = content
		w.WriteHeader(http.StatusOK)

	case http.MethodHead:
		content, ok := b.objects[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(content)))
		w.WriteHeader(http.StatusOK)

	case http.MethodGet:
		content, ok := b.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(content)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (b *fakeBucket) putCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.puts
}

func newFakeS3Store(t *testing.T) (*S3Store, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{objects: make(map[string][]byte)}
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	store, err := NewS3Store(context.Background(), S3Config{
		Region:           "us-east-1",
		Bucket:           "artifacts",
		Prefix:           "results/",
		Endpoint:         srv.URL,
		UsePathStyle:     true,
		AccessKeyID:      "test",
		SecretAccessKey:  "test",
		OperationTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewS3Store failed: %v", err)
	}
	return store, bucket
}

func TestS3StorePutWriteOnce(t *testing.T) {
	store, bucket := newFakeS3Store(t)
	ctx := context.Background()

	if err := store.Put(ctx, "abc123", []byte("first")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, "abc123", []byte("second")); err != nil {
		t.Fatalf("Repeat put failed: %v", err)
	}

	if n := bucket.putCount(); n != 1 {
		t.Errorf("Expected 1 object write, got %d", n)
	}

	content, ok, err := store.Get(ctx, "abc123")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if string(content) != "first" {
		t.Errorf("Expected first write to win, got %q", content)
	}
}

func TestS3StoreGetMissing(t *testing.T) {
	store, _ := newFakeS3Store(t)

	_, ok, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get returned error for missing key: %v", err)
	}
	if ok {
		t.Errorf("Expected miss for unknown key")
	}
}

func TestS3StoreExists(t *testing.T) {
	store, _ := newFakeS3Store(t)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "k")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Errorf("Expected key to be absent before write")
	}

	if err := store.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	ok, err = store.Exists(ctx, "k")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Errorf("Expected key to exist after write")
	}
}
