// Package model holds the process-wide model registry: per-model field
// descriptors, privacy field sets, and the storage interface the
// framework consumes as a black box.
package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ramses-tech/nefertari/internal/domain"
)

// FieldParams describes one model field for request validation and
// before-event subscribers.
type FieldParams struct {
	Type      string // "string", "int", "float", "bool", "datetime"
	Required  bool
	MinLength int
	MaxLength int
	Default   any
	// Relationship names the related model for relationship fields.
	Relationship string
}

// Info describes a registered model.
type Info struct {
	// Name is the model class name; documents are indexed under its
	// lowercased form.
	Name    string
	PKField string
	// IndexEnabled marks models replicated into Elasticsearch.
	IndexEnabled bool

	PublicFields []string
	AuthFields   []string
	HiddenFields []string

	Fields map[string]FieldParams
}

// TypeName returns the lowercased model name used as the ES type.
func (i Info) TypeName() string { return strings.ToLower(i.Name) }

// IsRelationshipField reports whether the field points at another model.
func (i Info) IsRelationshipField(name string) bool {
	f, ok := i.Fields[name]
	return ok && f.Relationship != ""
}

// RelationshipModel returns the related model name for a field.
func (i Info) RelationshipModel(name string) (string, bool) {
	f, ok := i.Fields[name]
	if !ok || f.Relationship == "" {
		return "", false
	}
	return f.Relationship, true
}

// NullValues returns the per-field null defaults declared on the model.
func (i Info) NullValues() map[string]any {
	out := make(map[string]any)
	for name, f := range i.Fields {
		out[name] = f.Default
	}
	return out
}

// Validate checks a document body against the model's field
// descriptors: required fields present, strings within length bounds.
func (i Info) Validate(doc domain.Document) error {
	bad := make(map[string]string)
	for name, f := range i.Fields {
		v, ok := doc[name]
		if !ok || v == nil || v == "" {
			if f.Required {
				bad[name] = "is required"
			}
			continue
		}
		if s, isStr := v.(string); isStr {
			if f.MinLength > 0 && len(s) < f.MinLength {
				bad[name] = fmt.Sprintf("shorter than %d characters", f.MinLength)
			}
			if f.MaxLength > 0 && len(s) > f.MaxLength {
				bad[name] = fmt.Sprintf("longer than %d characters", f.MaxLength)
			}
		}
	}
	if len(bad) > 0 {
		return &domain.ValidationError{Fields: bad}
	}
	return nil
}

// Registry maps model names to their Info. It is populated during
// startup and read-only afterwards.
type Registry struct {
	models map[string]Info
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]Info)}
}

// Register adds a model. Re-registering a name is an error.
func (r *Registry) Register(info Info) error {
	key := strings.ToLower(info.Name)
	if _, ok := r.models[key]; ok {
		return fmt.Errorf("model %q already registered", info.Name)
	}
	if info.PKField == "" {
		info.PKField = "id"
	}
	r.models[key] = info
	return nil
}

// MustRegister adds a model or panics. Intended for startup wiring.
func (r *Registry) MustRegister(info Info) {
	if err := r.Register(info); err != nil {
		panic(err)
	}
}

// Resolve looks a model up by name, case-insensitively.
func (r *Registry) Resolve(typeName string) (Info, bool) {
	info, ok := r.models[strings.ToLower(typeName)]
	return info, ok
}

// Names returns the registered model names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.models))
	for _, info := range r.models {
		out = append(out, info.Name)
	}
	sort.Strings(out)
	return out
}
