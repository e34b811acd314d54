package envelope

import (
	"bytes"
	"encoding/json"
	"strings"
)

// The envelope payload is untyped nested JSON. Accessors report shape
// mismatches as a second return instead of panicking so that a malformed
// structure is a branch, not an exception path.

func asArray(v any) ([]any, bool) {
	arr, ok := v.([]any)
	return arr, ok
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// targetField returns the free-text field at inner[0][0], when present.
func targetField(inner []any) (string, bool) {
	if len(inner) == 0 {
		return "", false
	}
	row, ok := asArray(inner[0])
	if !ok || len(row) == 0 {
		return "", false
	}
	return asString(row[0])
}

// setTargetField assigns inner[0][0] in place. The shape must have been
// checked by targetField first.
func setTargetField(inner []any, s string) bool {
	if len(inner) == 0 {
		return false
	}
	row, ok := asArray(inner[0])
	if !ok || len(row) == 0 {
		return false
	}
	row[0] = s
	return true
}

// marshalJSON serializes without HTML escaping so the output stays
// byte-compatible with the upstream client's serializer.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
