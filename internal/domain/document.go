package domain

import (
	"fmt"
	"strings"
)

// TypeKey is the document key carrying the lowercased source model name.
const TypeKey = "_type"

// Document is a source record as seen by the indexer and the views.
// It carries the primary key under the model's pk field and the source
// model name under "_type".
type Document map[string]any

// Type returns the document's model name, or the fallback if absent.
func (d Document) Type(fallback string) string {
	if t, ok := d[TypeKey].(string); ok && t != "" {
		return strings.ToLower(t)
	}
	return strings.ToLower(fallback)
}

// PK returns the stringified primary key stored under pkField.
func (d Document) PK(pkField string) string {
	v, ok := d[pkField]
	if !ok {
		return ""
	}
	return Stringify(v)
}

// Copy returns a shallow copy of the document.
func (d Document) Copy() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Stringify renders a scalar the way it is stored as an ES _id.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64:
		// JSON numbers decode as float64; integral pks keep their int form.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
