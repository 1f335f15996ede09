package view

import (
	"context"
	"strings"

	"github.com/ramses-tech/nefertari/internal/domain"
	"github.com/ramses-tech/nefertari/internal/params"
	"github.com/ramses-tech/nefertari/internal/query"
	"github.com/ramses-tech/nefertari/internal/wrappers"
)

// forbiddenFieldsError reports aggregation fields the caller may not
// read.
type forbiddenFieldsError struct {
	fields []string
}

func (e *forbiddenFieldsError) Error() string {
	return "Not enough permissions to aggregate on fields: " + strings.Join(e.fields, ", ")
}

func (e *forbiddenFieldsError) Unwrap() error { return domain.ErrForbidden }

// aggregate intercepts an index request carrying aggregation params and
// routes it to the aggregation endpoint instead. handled is false when
// no aggregation key is present.
func (v *View) aggregate(ctx context.Context, c *wrappers.Context) (any, bool, error) {
	nested, err := params.DottedToNested(c.Params)
	if err != nil {
		return nil, false, err
	}

	var aggs map[string]any
	for _, key := range query.AggregationKeys {
		sub, present := nested[key]
		if !present {
			continue
		}
		tree, ok := sub.(map[string]any)
		if !ok {
			return nil, false, domain.NewBadParam(key, "must be a nested aggregation tree")
		}
		aggs = tree
		break
	}
	if aggs == nil {
		return nil, false, nil
	}

	if v.auth {
		if err := v.checkAggregationFields(c, aggs); err != nil {
			return nil, false, err
		}
	}

	res, err := v.finder.Aggregate(ctx, v.info.TypeName(), aggs, stripAggregations(c.Params))
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// checkAggregationFields runs the privacy filter over every "field"
// leaf of the aggregation tree; any dropped field is a denial.
func (v *View) checkAggregationFields(c *wrappers.Context, aggs map[string]any) error {
	fields := collectFieldLeaves(aggs, nil)
	if len(fields) == 0 {
		return nil
	}

	probe := domain.Document{domain.TypeKey: v.info.TypeName()}
	for _, f := range fields {
		probe[f] = true
	}
	filtered, err := wrappers.ApplyPrivacy(v.registry, true)(c, map[string]any(probe))
	if err != nil {
		return err
	}
	kept, _ := filtered.(map[string]any)

	var denied []string
	for _, f := range fields {
		if _, ok := kept[f]; !ok {
			denied = append(denied, f)
		}
	}
	if len(denied) > 0 {
		return &forbiddenFieldsError{fields: denied}
	}
	return nil
}

// collectFieldLeaves gathers the values under "field" keys recursively,
// deduplicated in encounter order.
func collectFieldLeaves(node map[string]any, acc []string) []string {
	for k, val := range node {
		if k == "field" {
			if s, ok := val.(string); ok && !containsString(acc, s) {
				acc = append(acc, s)
			}
			continue
		}
		switch t := val.(type) {
		case map[string]any:
			acc = collectFieldLeaves(t, acc)
		case []any:
			for _, e := range t {
				if m, ok := e.(map[string]any); ok {
					acc = collectFieldLeaves(m, acc)
				}
			}
		}
	}
	return acc
}

func containsString(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

// stripAggregations drops the dotted aggregation params before the
// remaining filters build the search query.
func stripAggregations(p params.Params) params.Params {
	out := p.Copy()
	for k := range out {
		for _, key := range query.AggregationKeys {
			if k == key || strings.HasPrefix(k, key+".") {
				delete(out, k)
			}
		}
	}
	return out
}
