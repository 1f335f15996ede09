// Package query translates HTTP query-string parameters into
// Elasticsearch search requests and runs them: lucene query_string
// assembly, sorting, pagination, source filtering, boosts, counts, and
// aggregations.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ramses-tech/nefertari/internal/domain"
	"github.com/ramses-tech/nefertari/internal/es"
	"github.com/ramses-tech/nefertari/internal/params"
)

// Reserved query parameters.
const (
	ParamStart        = "_start"
	ParamLimit        = "_limit"
	ParamPage         = "_page"
	ParamFields       = "_fields"
	ParamCount        = "_count"
	ParamSort         = "_sort"
	ParamSearchFields = "_search_fields"
	ParamRefreshIndex = "_refresh_index"
	ParamRawTerms     = "_raw_terms"
)

// AggregationKeys are the reserved names carrying an aggregation tree.
var AggregationKeys = []string{"_aggregations", "_aggs"}

// reserved lists every parameter stripped before the lucene expression
// is built from the remaining field filters.
var reserved = []string{
	ParamStart, ParamLimit, ParamPage, ParamFields, ParamCount,
	ParamSort, ParamSearchFields, ParamRefreshIndex, ParamRawTerms,
	"_aggregations", "_aggs",
}

// Results is a collection page decorated with search metadata.
type Results struct {
	Items  []domain.Document
	Total  int
	Start  int
	Fields []string
	Took   int
}

// searcher is the consumer interface for the ES client.
type searcher interface {
	Search(ctx context.Context, sp es.SearchParams) (*es.SearchResult, error)
	Count(ctx context.Context, sp es.SearchParams) (int, error)
	MGet(ctx context.Context, docType string, ids []string, withSource bool) ([]es.MGetDoc, error)
}

// Translator turns param maps into ES requests against one client.
type Translator struct {
	client searcher
	logger *zap.Logger
}

// New creates a translator.
func New(client *es.Client, logger *zap.Logger) *Translator {
	return &Translator{client: client, logger: logger}
}

// BuildQueryString assembles the lucene expression from the non-reserved
// parameters: values equal to "_all" are dropped, keys starting with
// "__" are private markers, list values expand to OR groups, terms join
// with AND, and _raw_terms is appended verbatim.
func BuildQueryString(p params.Params) string {
	rawTerms, _ := p[ParamRawTerms].(string)

	filters := p.Subset(prefixDash(reserved)...)

	keys := make([]string, 0, len(filters))
	for k := range filters {
		if strings.HasPrefix(k, "__") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var terms []string
	for _, k := range keys {
		switch v := filters[k].(type) {
		case []string:
			parts := make([]string, 0, len(v))
			for _, vv := range v {
				if vv == "_all" {
					continue
				}
				parts = append(parts, k+":"+vv)
			}
			if len(parts) > 0 {
				terms = append(terms, strings.Join(parts, " OR "))
			}
		default:
			s := domain.Stringify(v)
			if s == "_all" {
				continue
			}
			terms = append(terms, k+":"+s)
		}
	}

	expr := strings.Join(terms, " AND ")
	if rawTerms != "" {
		expr = strings.TrimSpace(expr + " " + rawTerms)
	}
	return expr
}

// buildBody wraps the lucene expression into a search body, with the
// match_all fallback for an empty expression. Search-field boosts are
// attached under query_string.fields, highest priority last in the
// input and strongest boost.
func buildBody(p params.Params) map[string]any {
	expr := BuildQueryString(p)
	if expr == "" {
		return map[string]any{"query": map[string]any{"match_all": map[string]any{}}}
	}

	qs := map[string]any{"query": expr}
	if fields := p.AsList(ParamSearchFields); len(fields) > 0 {
		boosted := make([]string, len(fields))
		for i, f := range fields {
			boosted[len(fields)-1-i] = fmt.Sprintf("%s^%d", f, len(fields)-i)
		}
		qs["fields"] = boosted
	}
	return map[string]any{"query": map[string]any{"query_string": qs}}
}

// translateSort maps "_sort=+a,-b,c" to ES sort clauses a:asc,b:desc,c:asc.
func translateSort(p params.Params) []string {
	fields := p.AsList(ParamSort)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		switch {
		case strings.HasPrefix(f, "-"):
			out = append(out, f[1:]+":desc")
		case strings.HasPrefix(f, "+"):
			out = append(out, f[1:]+":asc")
		default:
			out = append(out, f+":asc")
		}
	}
	return out
}

// resolvePagination computes (start, size). Giving both _start and
// _page is an error; negatives are errors; _page without _limit is an
// error. A nil size means the caller must fall back to a full scan.
func resolvePagination(p params.Params) (int, *int, error) {
	if err := p.ProcessInt(ParamStart); err != nil {
		return 0, nil, err
	}
	if err := p.ProcessInt(ParamPage); err != nil {
		return 0, nil, err
	}
	if err := p.ProcessInt(ParamLimit); err != nil {
		return 0, nil, err
	}

	hasStart := p.Has(ParamStart)
	hasPage := p.Has(ParamPage)
	if hasStart && hasPage {
		return 0, nil, domain.NewBadParam(ParamPage, "cannot be used together with _start")
	}

	var size *int
	if p.Has(ParamLimit) {
		limit := p[ParamLimit].(int)
		if limit < 0 {
			return 0, nil, domain.NewBadParam(ParamLimit, "must not be negative")
		}
		size = &limit
	}

	start := 0
	switch {
	case hasStart:
		start = p[ParamStart].(int)
	case hasPage:
		if size == nil {
			return 0, nil, domain.NewBadParam(ParamPage, "requires _limit")
		}
		start = p[ParamPage].(int) * *size
	}
	if start < 0 || (hasPage && p[ParamPage].(int) < 0) {
		return 0, nil, domain.NewBadParam(ParamStart, "must not be negative")
	}
	return start, size, nil
}

// Translate builds the full search request from a param map. When
// _limit is absent the size becomes the current document count, turning
// the request into a full-collection scan.
func (t *Translator) Translate(ctx context.Context, docType string, p params.Params) (es.SearchParams, int, []string, error) {
	p = p.Copy()

	start, size, err := resolvePagination(p)
	if err != nil {
		return es.SearchParams{}, 0, nil, err
	}

	sp := es.SearchParams{
		DocType: docType,
		Body:    buildBody(p),
		Sort:    translateSort(p),
	}

	var fields []string
	if p.Has(ParamFields) {
		fields = p.AsList(ParamFields)
		sp.SourceInclude = append(append([]string{}, fields...), domain.TypeKey)
	}

	if size == nil {
		total, err := t.countOrZero(ctx, docType, sp.Body)
		if err != nil {
			return es.SearchParams{}, 0, nil, err
		}
		size = &total
	}
	sp.From = &start
	sp.Size = size
	return sp, start, fields, nil
}

// GetCollection runs the translated search. With _count present it
// returns the integer count instead of documents.
func (t *Translator) GetCollection(ctx context.Context, docType string, p params.Params, raiseOnEmpty bool) (any, error) {
	if p.Has(ParamCount) {
		return t.DoCount(ctx, docType, p)
	}

	sp, start, fields, err := t.Translate(ctx, docType, p)
	if err != nil {
		return nil, err
	}

	res, err := t.client.Search(ctx, sp)
	if err != nil {
		if errors.Is(err, domain.ErrIndexNotFound) {
			if raiseOnEmpty {
				return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, docType)
			}
			return &Results{Start: start, Fields: fields}, nil
		}
		return nil, err
	}

	if len(res.Hits) == 0 && raiseOnEmpty {
		return nil, fmt.Errorf("%w: no %s found", domain.ErrNotFound, docType)
	}

	items := make([]domain.Document, 0, len(res.Hits))
	for _, h := range res.Hits {
		items = append(items, h.Source)
	}
	return &Results{
		Items:  items,
		Total:  res.Total,
		Start:  start,
		Fields: fields,
		Took:   res.Took,
	}, nil
}

// DoCount strips pagination and sorting, then counts. A missing index
// counts as zero.
func (t *Translator) DoCount(ctx context.Context, docType string, p params.Params) (int, error) {
	p = p.Subset("-"+ParamCount, "-"+ParamStart, "-"+ParamPage, "-"+ParamLimit, "-"+ParamSort)
	return t.countOrZero(ctx, docType, buildBody(p))
}

func (t *Translator) countOrZero(ctx context.Context, docType string, body map[string]any) (int, error) {
	n, err := t.client.Count(ctx, es.SearchParams{DocType: docType, Body: body})
	if err != nil {
		if errors.Is(err, domain.ErrIndexNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// GetByIDs fetches documents by primary key via mget. Missing ids are
// an error only when raiseOnEmpty is set.
func (t *Translator) GetByIDs(ctx context.Context, docType string, ids []string, raiseOnEmpty bool) (*Results, error) {
	docs, err := t.client.MGet(ctx, docType, ids, true)
	if err != nil {
		if errors.Is(err, domain.ErrIndexNotFound) {
			if raiseOnEmpty {
				return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, docType)
			}
			return &Results{}, nil
		}
		return nil, err
	}

	items := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		if !d.Found {
			if raiseOnEmpty {
				return nil, fmt.Errorf("%w: %s %q", domain.ErrNotFound, docType, d.ID)
			}
			continue
		}
		items = append(items, d.Source)
	}
	return &Results{Items: items, Total: len(items)}, nil
}

// Aggregate merges the aggregation tree with the standard query and
// runs a hits-free search. A missing index is a 404 here: there is
// nothing meaningful to aggregate.
func (t *Translator) Aggregate(ctx context.Context, docType string, aggs map[string]any, p params.Params) (map[string]any, error) {
	body := buildBody(p)
	body["aggregations"] = aggs
	zero := 0

	res, err := t.client.Search(ctx, es.SearchParams{
		DocType: docType,
		Body:    body,
		Size:    &zero,
	})
	if err != nil {
		if errors.Is(err, domain.ErrIndexNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, docType)
		}
		return nil, err
	}
	return res.Aggregations, nil
}

// Refreshing reports whether the request asked for an index refresh
// after a write.
func Refreshing(p params.Params) bool {
	return p.AsBool(ParamRefreshIndex, false, false)
}

func prefixDash(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = "-" + k
	}
	return out
}
