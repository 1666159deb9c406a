// Package cachekey derives the content-addressed keys under which backend
// responses are cached. Keys are stable: two requests that differ only in
// JSON field order hash to the same key.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Derive returns the cache key for an (application, request payload) pair:
// sha256 of "{app}:{canonical payload}" rendered as lowercase hex.
//
// The payload is canonicalised by re-marshalling the decoded field map;
// encoding/json emits map keys in sorted order at every nesting level, so
// semantically identical payloads always serialise identically.
func Derive(appName string, payload map[string]any) string {
	canonical, err := json.Marshal(payload)
	if err != nil {
		// Payloads come from json.Unmarshal and always re-marshal; an
		// unmarshalable value here means a programming error upstream.
		canonical = []byte("{}")
	}

	h := sha256.New()
	h.Write([]byte(appName))
	h.Write([]byte(":"))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}
