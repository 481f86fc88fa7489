// Package resultstore provides the content-addressed, write-once result
// tier. Artifacts are keyed by a deterministic hash over (source content
// identity, analysis parameters); a write for an existing key is a no-op
// that returns the existing key, never an overwrite.
package resultstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Store is the durable result tier. Implementations must be write-once:
// Put for an existing key returns the key without touching the stored
// bytes, and Get is idempotent and side-effect-free.
type Store interface {
	// Put stores content under key unless the key already exists.
	Put(ctx context.Context, key string, content []byte) error

	// Get retrieves content. ok is false on a miss; err reports backend
	// failures only.
	Get(ctx context.Context, key string) (content []byte, ok bool, err error)

	// Exists reports whether a key has been written.
	Exists(ctx context.Context, key string) (bool, error)

	Close() error
}

// Key computes the content address for an artifact: a sha256 over the
// source's content identity and a canonical rendering of the analysis
// parameters. Parameter order never affects the key.
func Key(contentID string, params map[string]interface{}) string {
	h := sha256.New()
	h.Write([]byte(contentID))
	h.Write([]byte{0})

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		// JSON gives a stable scalar rendering; nested maps are re-keyed.
		b, err := json.Marshal(canonicalize(params[k]))
		if err != nil {
			b = []byte(fmt.Sprintf("%v", params[k]))
		}
		h.Write(b)
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}

// canonicalize sorts nested maps so marshaling is deterministic.
func canonicalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]interface{}, 0, len(t)*2)
		for _, k := range keys {
			out = append(out, k, canonicalize(t[k]))
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return v
	}
}
