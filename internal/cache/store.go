// Package cache implements the adapter response cache: a TTL+LRU in-memory
// tier with an optional remote second tier, plus the canonical key
// derivation shared by all tiers.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Store is the contract shared by cache tiers. Get returns (nil, false) for
// both missing and expired keys; backends that can fail (the remote tier)
// treat failures as misses so caching never breaks a call.
type Store interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
	Stats() Stats
	Close() error
}

// Stats is a point-in-time snapshot of cache effectiveness. Counters are
// best-effort: they are not transactional with data mutation.
type Stats struct {
	TotalRequests int64   `json:"totalRequests"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hitRate"`
	CurrentSize   int     `json:"currentSize"`
	MaxSize       int     `json:"maxSize"`
}

// Key derives the cache key for one adapter call: the tool id, a colon, and
// the first 16 hex characters of sha256(toolID || canonicalJSON(args)). Two
// argument maps produce the same key iff their canonical JSON forms are
// byte-equal.
func Key(toolID string, args map[string]interface{}) string {
	canonical, err := CanonicalJSON(args)
	if err != nil {
		// Args came from decoded JSON, so this cannot happen; fall back to a
		// non-colliding uncached-style key.
		canonical = []byte(fmt.Sprintf("%v", args))
	}
	sum := sha256.Sum256(append([]byte(toolID), canonical...))
	return toolID + ":" + hex.EncodeToString(sum[:])[:16]
}

// CanonicalJSON serializes a value with recursively sorted object keys and
// preserved array order.
func CanonicalJSON(value interface{}) ([]byte, error) {
	var b strings.Builder
	if err := writeCanonical(&b, value); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func writeCanonical(b *strings.Builder, value interface{}) error {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(keyJSON)
			b.WriteByte(':')
			if err := writeCanonical(b, v[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil
	case []interface{}:
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		b.Write(encoded)
		return nil
	}
}
