package store

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
)

// marshalBody converts a document value to JSON TEXT for storage.
// The value must encode to a JSON object. HTML escaping is disabled so
// stored bodies match what callers wrote byte for byte.
func marshalBody(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	data := bytes.TrimSpace(buf.Bytes())
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("marshal body: %T does not encode to a JSON object", v)
	}
	return data, nil
}

// unmarshalObject parses a stored body into a generic map.
func unmarshalObject(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("unmarshal body: %w", err)
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return obj, nil
}

// mergeBodies overlays the top-level keys of patch onto base.
func mergeBodies(base, patch []byte) ([]byte, error) {
	baseObj, err := unmarshalObject(base)
	if err != nil {
		return nil, err
	}
	patchObj, err := unmarshalObject(patch)
	if err != nil {
		return nil, err
	}
	for k, v := range patchObj {
		baseObj[k] = v
	}
	return marshalBody(baseObj)
}
