// Package params implements typed extraction and validation over the
// loosely-typed string maps that arrive as HTTP query parameters.
package params

import (
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/ramses-tech/nefertari/internal/domain"
)

// DatetimeLayout is the only accepted datetime parameter format.
const DatetimeLayout = "2006-01-02T15:04:05Z"

// Params is a request-scoped parameter map. Values are strings, lists
// of strings, or typed scalars after coercion.
type Params map[string]any

// FromQuery builds Params from URL query values. Keys given more than
// once become lists.
func FromQuery(q url.Values) Params {
	p := make(Params, len(q))
	for k, vs := range q {
		switch len(vs) {
		case 0:
			p[k] = ""
		case 1:
			p[k] = vs[0]
		default:
			p[k] = append([]string(nil), vs...)
		}
	}
	return p
}

// Copy returns a shallow copy.
func (p Params) Copy() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Has reports whether the key is present.
func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Pop removes the key and returns its value.
func (p Params) Pop(name string) (any, bool) {
	v, ok := p[name]
	if ok {
		delete(p, name)
	}
	return v, ok
}

// Subset returns a new map restricted to the given keys. Keys prefixed
// with "-" are excluded instead; include and exclude modes do not mix
// within one call beyond that rule.
func (p Params) Subset(keys ...string) Params {
	include := make(map[string]bool)
	exclude := make(map[string]bool)
	for _, k := range keys {
		if rest, ok := strings.CutPrefix(k, "-"); ok {
			exclude[rest] = true
		} else {
			include[k] = true
		}
	}

	out := make(Params)
	for k, v := range p {
		if exclude[k] {
			continue
		}
		if len(include) > 0 && !include[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// AsList splits a comma-separated value, trims whitespace, and drops
// empty tokens. A value that is already a list is returned element-wise.
func (p Params) AsList(name string) []string {
	v, ok := p[name]
	if !ok {
		return nil
	}
	var raw []string
	switch t := v.(type) {
	case []string:
		raw = t
	case string:
		raw = strings.Split(t, ",")
	default:
		raw = []string{domain.Stringify(t)}
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// AsBool parses the value as a boolean, falling back to def. When set
// is true the coerced value is written back into the map.
func (p Params) AsBool(name string, def, set bool) bool {
	out := def
	if v, ok := p[name]; ok {
		switch t := v.(type) {
		case bool:
			out = t
		case string:
			switch strings.ToLower(t) {
			case "true", "1", "t", "yes", "y", "on", "":
				out = true
			case "false", "0", "f", "no", "n", "off":
				out = false
			}
		}
	}
	if set {
		p[name] = out
	}
	return out
}

// AsInt parses the value as an integer, falling back to def.
func (p Params) AsInt(name string, def int, set bool) int {
	out := def
	if v, ok := p[name]; ok {
		switch t := v.(type) {
		case int:
			out = t
		case float64:
			out = int(t)
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
				out = n
			}
		}
	}
	if set {
		p[name] = out
	}
	return out
}

// AsFloat parses the value as a float, falling back to def.
func (p Params) AsFloat(name string, def float64, set bool) float64 {
	out := def
	if v, ok := p[name]; ok {
		switch t := v.(type) {
		case float64:
			out = t
		case int:
			out = float64(t)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				out = f
			}
		}
	}
	if set {
		p[name] = out
	}
	return out
}

// AsDict parses "k:v,k:v2" into a map. A key that repeats collects its
// values into a list, in input order.
func (p Params) AsDict(name string) map[string]any {
	out := make(map[string]any)
	for _, pair := range p.AsList(name) {
		k, v, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		switch prev := out[k].(type) {
		case nil:
			out[k] = v
		case []string:
			out[k] = append(prev, v)
		case string:
			out[k] = []string{prev, v}
		}
	}
	return out
}

// ProcessInt coerces the named parameter to int in place. A missing key
// takes the default when one is given, and is otherwise left absent.
func (p Params) ProcessInt(name string, def ...int) error {
	v, ok := p[name]
	if !ok {
		if len(def) > 0 {
			p[name] = def[0]
		}
		return nil
	}
	switch t := v.(type) {
	case int:
		return nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return domain.NewBadParam(name, "expected an integer")
		}
		p[name] = n
		return nil
	default:
		return domain.NewBadParam(name, "expected an integer")
	}
}

// ProcessFloat coerces the named parameter to float64 in place.
func (p Params) ProcessFloat(name string, def ...float64) error {
	v, ok := p[name]
	if !ok {
		if len(def) > 0 {
			p[name] = def[0]
		}
		return nil
	}
	switch t := v.(type) {
	case float64:
		return nil
	case int:
		p[name] = float64(t)
		return nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return domain.NewBadParam(name, "expected a number")
		}
		p[name] = f
		return nil
	default:
		return domain.NewBadParam(name, "expected a number")
	}
}

// ProcessBool coerces the named parameter to bool in place. An empty
// string counts as true, matching flag-style parameters like "?_count".
func (p Params) ProcessBool(name string, def ...bool) error {
	v, ok := p[name]
	if !ok {
		if len(def) > 0 {
			p[name] = def[0]
		}
		return nil
	}
	switch t := v.(type) {
	case bool:
		return nil
	case string:
		switch strings.ToLower(t) {
		case "true", "1", "t", "yes", "y", "on", "":
			p[name] = true
		case "false", "0", "f", "no", "n", "off":
			p[name] = false
		default:
			return domain.NewBadParam(name, "expected a boolean")
		}
		return nil
	default:
		return domain.NewBadParam(name, "expected a boolean")
	}
}

// ProcessDatetime coerces the named parameter to time.Time in place.
// Only the exact YYYY-MM-DDTHH:MM:SSZ form is accepted.
func (p Params) ProcessDatetime(name string, def ...time.Time) error {
	v, ok := p[name]
	if !ok {
		if len(def) > 0 {
			p[name] = def[0]
		}
		return nil
	}
	switch t := v.(type) {
	case time.Time:
		return nil
	case string:
		ts, err := time.Parse(DatetimeLayout, t)
		if err != nil {
			return domain.NewBadParam(name, "expected datetime in "+DatetimeLayout+" format")
		}
		p[name] = ts.UTC()
		return nil
	default:
		return domain.NewBadParam(name, "expected a datetime")
	}
}

// Conv coerces one CSV token of a list parameter.
type Conv func(string) (any, error)

// IntConv coerces a token to int.
func IntConv(s string) (any, error) { return strconv.Atoi(s) }

// FloatConv coerces a token to float64.
func FloatConv(s string) (any, error) { return strconv.ParseFloat(s, 64) }

// StringConv keeps the token as-is.
func StringConv(s string) (any, error) { return s, nil }

// ProcessList coerces a CSV parameter into a list element-wise. With
// pop the key is removed; without it the coerced list is stored back.
func (p Params) ProcessList(name string, conv Conv, pop bool) ([]any, error) {
	if conv == nil {
		conv = StringConv
	}
	items := p.AsList(name)
	out := make([]any, 0, len(items))
	for _, s := range items {
		v, err := conv(s)
		if err != nil {
			return nil, domain.NewBadParam(name, "bad list element "+strconv.Quote(s))
		}
		out = append(out, v)
	}
	if pop {
		delete(p, name)
	} else if p.Has(name) {
		p[name] = out
	}
	return out, nil
}

// PopByValues removes every entry whose value equals v.
func (p Params) PopByValues(v any) {
	for k, pv := range p {
		if reflect.DeepEqual(pv, v) {
			delete(p, k)
		}
	}
}

// MGet gathers all keys starting with "prefix." into a flat sub-map,
// with defaults filled for keys the request did not supply.
func (p Params) MGet(prefix string, defaults Params) Params {
	out := make(Params, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	pre := prefix + "."
	for k, v := range p {
		if rest, ok := strings.CutPrefix(k, pre); ok && rest != "" {
			out[rest] = v
		}
	}
	return out
}

// DottedToNested expands dotted keys into nested maps:
// {a.b.c:1, a.d:2} becomes {a:{b:{c:1}, d:2}}. A scalar/map collision
// between keys is an error.
func DottedToNested(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		parts := strings.Split(k, ".")
		node := out
		for i, part := range parts {
			if i == len(parts)-1 {
				if _, exists := node[part]; exists {
					return nil, domain.NewBadParam(k, "conflicts with another key")
				}
				node[part] = v
				break
			}
			switch child := node[part].(type) {
			case nil:
				next := make(map[string]any)
				node[part] = next
				node = next
			case map[string]any:
				node = child
			default:
				return nil, domain.NewBadParam(k, "conflicts with another key")
			}
		}
	}
	return out, nil
}
