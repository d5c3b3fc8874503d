// Package message builds canonical messages and resolves them against the
// store by their dedup key.
package message

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

// Meta holds protocol specific auxiliary fields.
type Meta map[string]any

// DedupKey is "<externalMessageID>-<md5(source+value+meta)>". Equal inputs give
// equal keys no matter which process computes them.
func DedupKey(externalMessageID string, source model.Source, value, meta string) string {
	sum := md5.Sum([]byte(string(source) + value + meta))
	return externalMessageID + "-" + hex.EncodeToString(sum[:])
}

// encodeMeta serializes meta with sorted keys. A nil map encodes as "" unless
// always is set, in which case it encodes as "{}".
func encodeMeta(meta Meta, always bool) string {
	if meta == nil {
		if always {
			return "{}"
		}
		return ""
	}
	b, err := json.Marshal(map[string]any(meta))
	if err != nil {
		// only reachable with unsupported value types, which decoders never set
		return "{}"
	}
	return string(b)
}

// Compact drops blank string values so that missing optional fields are omitted.
func Compact(meta Meta) Meta {
	out := make(Meta, len(meta))
	for k, v := range meta {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}
