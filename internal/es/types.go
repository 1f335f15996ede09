package es

import "github.com/ramses-tech/nefertari/internal/domain"

// SearchParams is a fully translated Elasticsearch search request.
type SearchParams struct {
	// DocType selects the target index; a comma-separated list searches
	// several types in one request.
	DocType string
	Body    map[string]any
	From    *int
	Size    *int
	Sort    []string
	// SourceInclude restricts the returned _source fields.
	SourceInclude []string
}

// Hit is one search hit.
type Hit struct {
	ID     string
	Source domain.Document
}

// SearchResult is a parsed search response.
type SearchResult struct {
	Took         int
	Total        int
	Hits         []Hit
	Aggregations map[string]any
}

// MGetDoc is one entry of an mget response.
type MGetDoc struct {
	ID     string
	Found  bool
	Source domain.Document
}

// Bulk op types.
const (
	OpIndex  = "index"
	OpDelete = "delete"
)

// BulkAction is one atomic item of a _bulk request.
type BulkAction struct {
	OpType string
	Type   string
	ID     string
	Source domain.Document
}
