// Package es wraps the official Elasticsearch transport with index
// naming, error translation, and a body serializer aware of the
// framework's payload types.
package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"go.uber.org/zap"

	"github.com/ramses-tech/nefertari/internal/domain"
	"github.com/ramses-tech/nefertari/internal/metrics"
)

// Config holds connection parameters for the Elasticsearch client.
type Config struct {
	// Hosts is a comma-separated host:port list.
	Hosts string
	// IndexName prefixes every per-type index: "<IndexName>_<type>".
	IndexName string
	// Sniff enables node discovery on start and on an interval.
	Sniff            bool
	SniffIntervalSec int
}

// Client is a thin wrapper over the official ES client. It owns index
// naming for document types and translates transport failures into the
// framework's error kinds.
type Client struct {
	es     *elasticsearch.Client
	prefix string
	logger *zap.Logger
}

// NewClient builds a client with a connection pool over the configured
// hosts.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Hosts == "" {
		return nil, fmt.Errorf("elasticsearch hosts is required")
	}

	var addrs []string
	for _, h := range strings.Split(cfg.Hosts, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if !strings.Contains(h, "://") {
			h = "http://" + h
		}
		addrs = append(addrs, h)
	}

	esCfg := elasticsearch.Config{
		Addresses:            addrs,
		DiscoverNodesOnStart: cfg.Sniff,
	}
	if cfg.Sniff && cfg.SniffIntervalSec > 0 {
		esCfg.DiscoverNodesInterval = time.Duration(cfg.SniffIntervalSec) * time.Second
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("create es client: %w", err)
	}

	return &Client{es: es, prefix: cfg.IndexName, logger: logger}, nil
}

// IndexFor maps a document type to its index name. A comma-separated
// type list yields a comma-separated index list.
func (c *Client) IndexFor(docType string) []string {
	types := strings.Split(strings.ToLower(docType), ",")
	out := make([]string, 0, len(types))
	for _, t := range types {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		out = append(out, c.prefix+"_"+t)
	}
	return out
}

// Ping checks cluster reachability.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return domain.NewTransport(0, err.Error())
	}
	defer res.Body.Close()
	if res.IsError() {
		return c.fail("ping", res)
	}
	return nil
}

// IndexExists reports whether the index for docType exists.
func (c *Client) IndexExists(ctx context.Context, docType string) (bool, error) {
	res, err := c.es.Indices.Exists(c.IndexFor(docType), c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, domain.NewTransport(0, err.Error())
	}
	defer res.Body.Close()
	return !res.IsError(), nil
}

// Search runs a translated search request and parses hits, total, took,
// and aggregations.
func (c *Client) Search(ctx context.Context, sp SearchParams) (*SearchResult, error) {
	opts := []func(*esapi.SearchRequest){
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.IndexFor(sp.DocType)...),
		c.es.Search.WithTrackTotalHits(true),
	}
	if sp.Body != nil {
		body, err := Encode(sp.Body)
		if err != nil {
			return nil, err
		}
		opts = append(opts, c.es.Search.WithBody(body))
	}
	if sp.From != nil {
		opts = append(opts, c.es.Search.WithFrom(*sp.From))
	}
	if sp.Size != nil {
		opts = append(opts, c.es.Search.WithSize(*sp.Size))
	}
	if len(sp.Sort) > 0 {
		opts = append(opts, c.es.Search.WithSort(sp.Sort...))
	}
	if len(sp.SourceInclude) > 0 {
		opts = append(opts, c.es.Search.WithSourceIncludes(sp.SourceInclude...))
	}

	start := time.Now()
	res, err := c.es.Search(opts...)
	if err != nil {
		metrics.ObserveES("search", 0, time.Since(start))
		return nil, domain.NewTransport(0, err.Error())
	}
	defer res.Body.Close()
	metrics.ObserveES("search", res.StatusCode, time.Since(start))

	if res.IsError() {
		return nil, c.fail("search", res)
	}

	var raw struct {
		Took int `json:"took"`
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string          `json:"_id"`
				Source domain.Document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
		Aggregations map[string]any `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := &SearchResult{
		Took:         raw.Took,
		Total:        raw.Hits.Total.Value,
		Hits:         make([]Hit, 0, len(raw.Hits.Hits)),
		Aggregations: raw.Aggregations,
	}
	for _, h := range raw.Hits.Hits {
		out.Hits = append(out.Hits, Hit{ID: h.ID, Source: h.Source})
	}
	return out, nil
}

// Count returns the number of documents matching the query body.
func (c *Client) Count(ctx context.Context, sp SearchParams) (int, error) {
	opts := []func(*esapi.CountRequest){
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(c.IndexFor(sp.DocType)...),
	}
	if sp.Body != nil {
		body, err := Encode(sp.Body)
		if err != nil {
			return 0, err
		}
		opts = append(opts, c.es.Count.WithBody(body))
	}

	start := time.Now()
	res, err := c.es.Count(opts...)
	if err != nil {
		metrics.ObserveES("count", 0, time.Since(start))
		return 0, domain.NewTransport(0, err.Error())
	}
	defer res.Body.Close()
	metrics.ObserveES("count", res.StatusCode, time.Since(start))

	if res.IsError() {
		return 0, c.fail("count", res)
	}

	var raw struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return raw.Count, nil
}

// MGet fetches documents by id. withSource false asks only for ids,
// which is how index_missing diffs the index cheaply.
func (c *Client) MGet(ctx context.Context, docType string, ids []string, withSource bool) ([]MGetDoc, error) {
	docs := make([]map[string]any, len(ids))
	for i, id := range ids {
		docs[i] = map[string]any{"_id": id, "_source": withSource}
	}
	body, err := Encode(map[string]any{"docs": docs})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := c.es.Mget(body,
		c.es.Mget.WithContext(ctx),
		c.es.Mget.WithIndex(c.IndexFor(docType)[0]),
	)
	if err != nil {
		metrics.ObserveES("mget", 0, time.Since(start))
		return nil, domain.NewTransport(0, err.Error())
	}
	defer res.Body.Close()
	metrics.ObserveES("mget", res.StatusCode, time.Since(start))

	if res.IsError() {
		return nil, c.fail("mget", res)
	}

	var raw struct {
		Docs []struct {
			ID     string          `json:"_id"`
			Found  bool            `json:"found"`
			Source domain.Document `json:"_source"`
		} `json:"docs"`
	}
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode mget response: %w", err)
	}

	out := make([]MGetDoc, 0, len(raw.Docs))
	for _, d := range raw.Docs {
		out = append(out, MGetDoc{ID: d.ID, Found: d.Found, Source: d.Source})
	}
	return out, nil
}

// Bulk submits one _bulk request. A response with errors:true becomes a
// single BulkError carrying the failing items.
func (c *Client) Bulk(ctx context.Context, actions []BulkAction, refresh bool) error {
	if len(actions) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, a := range actions {
		meta := map[string]map[string]any{
			a.OpType: {
				"_index": c.IndexFor(a.Type)[0],
				"_id":    a.ID,
			},
		}
		line, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
		if a.OpType != OpDelete {
			src, err := EncodeBytes(map[string]any(a.Source))
			if err != nil {
				return err
			}
			buf.Write(src)
			buf.WriteByte('\n')
		}
		metrics.CountBulkDocs(a.OpType, 1)
	}

	opts := []func(*esapi.BulkRequest){
		c.es.Bulk.WithContext(ctx),
	}
	if refresh {
		opts = append(opts, c.es.Bulk.WithRefresh("true"))
	}

	start := time.Now()
	res, err := c.es.Bulk(&buf, opts...)
	if err != nil {
		metrics.ObserveES("bulk", 0, time.Since(start))
		return domain.NewTransport(0, err.Error())
	}
	defer res.Body.Close()
	metrics.ObserveES("bulk", res.StatusCode, time.Since(start))

	if res.IsError() {
		return c.fail("bulk", res)
	}

	var raw struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !raw.Errors {
		return nil
	}

	be := &domain.BulkError{}
	for _, item := range raw.Items {
		for _, r := range item {
			if r.Error != nil {
				be.Items = append(be.Items, domain.BulkItemError{
					ID:     r.ID,
					Status: r.Status,
					Reason: r.Error.Reason,
				})
			}
		}
	}
	return be
}

// fail translates an error response. A 404 caused by a missing index is
// reported as ErrIndexNotFound so callers can treat it as an empty
// collection or create the index.
func (c *Client) fail(op string, res *esapi.Response) error {
	data, _ := io.ReadAll(res.Body)

	var raw struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &raw)

	if raw.Error.Type == "index_not_found_exception" {
		return fmt.Errorf("%w: %s", domain.ErrIndexNotFound, raw.Error.Reason)
	}

	reason := raw.Error.Reason
	if reason == "" {
		reason = strings.TrimSpace(string(data))
	}
	c.logger.Warn("es request failed",
		zap.String("op", op),
		zap.Int("status", res.StatusCode),
		zap.String("reason", reason),
	)
	return domain.NewTransport(res.StatusCode, reason)
}
