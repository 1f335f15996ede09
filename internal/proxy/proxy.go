// Package proxy provides a uniform view over heterogeneous payload maps:
// keyed access plus a depth-limited ToDict conversion that tags every
// emitted map with its type name.
package proxy

import "github.com/ramses-tech/nefertari/internal/domain"

// DefaultDepth limits ToDict recursion when no depth is given.
const DefaultDepth = 1

// Proxy wraps a payload map under a type name.
type Proxy struct {
	name string
	data map[string]any
}

// New creates a proxy over data with the given type name.
func New(name string, data map[string]any) *Proxy {
	if data == nil {
		data = make(map[string]any)
	}
	return &Proxy{name: name, data: data}
}

// Name returns the proxy's type name.
func (p *Proxy) Name() string { return p.name }

// Get returns the value stored under key.
func (p *Proxy) Get(key string) (any, bool) {
	v, ok := p.data[key]
	return v, ok
}

// Set stores a value under key.
func (p *Proxy) Set(key string, v any) {
	p.data[key] = v
}

// Keys returns the payload keys.
func (p *Proxy) Keys() []string {
	out := make([]string, 0, len(p.data))
	for k := range p.data {
		out = append(out, k)
	}
	return out
}

// ToDict renders the payload as a map carrying "_type". keys restricts
// the output to the named top-level keys; depth limits recursion into
// nested proxies. At depth 0 nested proxies are emitted as-is.
func (p *Proxy) ToDict(keys []string, depth int) map[string]any {
	var keep map[string]bool
	if len(keys) > 0 {
		keep = make(map[string]bool, len(keys))
		for _, k := range keys {
			keep[k] = true
		}
	}

	out := make(map[string]any, len(p.data)+1)
	for k, v := range p.data {
		if keep != nil && !keep[k] {
			continue
		}
		out[k] = convert(v, depth)
	}
	out[domain.TypeKey] = p.name
	return out
}

func convert(v any, depth int) any {
	switch t := v.(type) {
	case *Proxy:
		if depth <= 0 {
			return t
		}
		return t.ToDict(nil, depth-1)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = convert(e, depth)
		}
		return out
	default:
		return v
	}
}

// FromDict builds a proxy tree from a plain map: nested maps become
// proxies named after their "_type" key (or the parent's name), and
// lists of maps become lists of proxies.
func FromDict(name string, data map[string]any) *Proxy {
	p := New(typeName(data, name), make(map[string]any, len(data)))
	for k, v := range data {
		if k == domain.TypeKey {
			continue
		}
		p.data[k] = fromValue(name, v)
	}
	return p
}

func fromValue(parent string, v any) any {
	switch t := v.(type) {
	case map[string]any:
		return FromDict(parent, t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromValue(parent, e)
		}
		return out
	default:
		return v
	}
}

func typeName(data map[string]any, fallback string) string {
	if t, ok := data[domain.TypeKey].(string); ok && t != "" {
		return t
	}
	return fallback
}
