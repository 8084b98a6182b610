// Package jwk implements auth resolution backed by JSON Web Keys: a
// KeySet loaded from a JWKS file on disk, key lookup by key id, and JWT
// verification against the resolved key.
package jwk

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/exp/maps"
)

// jwksDocument mirrors the subset of RFC 7517 the store reads.
type jwksDocument struct {
	Keys []jwksEntry `json:"keys"`
}

type jwksEntry struct {
	KeyType   string `json:"kty"`
	KeyID     string `json:"kid"`
	Algorithm string `json:"alg"`
	Key       string `json:"k"`
}

// KeySet is a read-only mapping from key id to symmetric key material.
// It is built once at startup and shared by reference; there is no
// reload path.
type KeySet struct {
	keys map[string][]byte
}

// LoadKeySet reads a JWKS file and validates every entry up front.
//
// Entries without a key id, and entries repeating an already-seen key id
// (the first occurrence wins), are skipped with a warning. A key that is
// not symmetric ("oct") or whose material does not decode fails the
// load, so a lookup can never hit an invalid key later.
func LoadKeySet(path string, logger *slog.Logger) (*KeySet, error) {
	if logger == nil {
		logger = slog.Default()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key set %s: %w", path, err)
	}
	var doc jwksDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse key set %s: %w", path, err)
	}

	keys := make(map[string][]byte, len(doc.Keys))
	seen := mapset.NewSet[string]()
	for i, entry := range doc.Keys {
		if entry.KeyID == "" {
			logger.Warn("skipping key set entry without a key id", "path", path, "index", i)
			continue
		}
		if !seen.Add(entry.KeyID) {
			logger.Warn("skipping duplicate key id, keeping the first", "path", path, "kid", entry.KeyID)
			continue
		}
		if entry.KeyType != "oct" {
			return nil, fmt.Errorf("key %q in %s: unsupported key type %q, only octet keys are supported", entry.KeyID, path, entry.KeyType)
		}
		material, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(entry.Key, "="))
		if err != nil {
			return nil, fmt.Errorf("key %q in %s: decode key material: %w", entry.KeyID, path, err)
		}
		keys[entry.KeyID] = material
	}

	logger.Info("loaded key set", "path", path, "keys", len(keys))
	return &KeySet{keys: keys}, nil
}

// Key returns the key material for the given id.
func (s *KeySet) Key(kid string) ([]byte, bool) {
	key, ok := s.keys[kid]
	return key, ok
}

// KeyIDs lists the ids in the set, in no particular order.
func (s *KeySet) KeyIDs() []string { return maps.Keys(s.keys) }

// Len reports the number of keys in the set.
func (s *KeySet) Len() int { return len(s.keys) }
