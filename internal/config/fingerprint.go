package config

import (
	"encoding/json"
	"hash/fnv"
)

// fingerprint is an FNV-64a digest of v's JSON form. Maps marshal with
// sorted keys, so decoded task options compare independent of key order
// and whitespace. Anything that does not marshal yields 0.
func fingerprint(v any) uint64 {
	b, err := json.Marshal(v)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// optionsFingerprint decodes raw task options before hashing them. Invalid
// JSON is hashed byte for byte.
func optionsFingerprint(raw json.RawMessage) uint64 {
	if len(raw) == 0 {
		return 0
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fingerprint(string(raw))
	}
	return fingerprint(v)
}
