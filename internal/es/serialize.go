package es

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ToDicter is implemented by payload objects that know how to render
// themselves as a map; the serializer uses it for custom types.
type ToDicter interface {
	ToDict(keys []string, depth int) map[string]any
}

// Encode renders a request body for Elasticsearch. Beyond plain JSON it
// encodes time.Time as UTC RFC3339 with a Z suffix, time.Duration as
// total seconds, and ToDicter values via their ToDict.
func Encode(v any) (io.Reader, error) {
	data, err := json.Marshal(sanitize(v))
	if err != nil {
		return nil, fmt.Errorf("encode es body: %w", err)
	}
	return bytes.NewReader(data), nil
}

// EncodeBytes is Encode returning the raw bytes, for NDJSON assembly.
func EncodeBytes(v any) ([]byte, error) {
	data, err := json.Marshal(sanitize(v))
	if err != nil {
		return nil, fmt.Errorf("encode es body: %w", err)
	}
	return data, nil
}

func sanitize(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format("2006-01-02T15:04:05Z")
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	case time.Duration:
		return t.Seconds()
	case ToDicter:
		return sanitize(t.ToDict(nil, 1))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = sanitize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sanitize(e)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sanitize(e)
		}
		return out
	default:
		return v
	}
}
