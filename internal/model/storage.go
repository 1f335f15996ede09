package model

import (
	"context"

	"github.com/ramses-tech/nefertari/internal/domain"
)

// Related is one batch of documents related to a saved object, grouped
// by their model.
type Related struct {
	TypeName string
	Docs     []domain.Document
}

// Storage is the primary-store interface the framework consumes. The
// ORM behind it is a black box; the framework only reads documents out
// of it and mirrors them into Elasticsearch.
type Storage interface {
	// GetCollection returns documents of a model matching the filters.
	GetCollection(ctx context.Context, typeName string, filters map[string]any) ([]domain.Document, error)
	// GetItem returns one document by primary key.
	GetItem(ctx context.Context, typeName, id string) (domain.Document, error)
	// GetOrCreate finds a document matching the filters or creates it
	// from defaults. The bool reports whether a create happened.
	GetOrCreate(ctx context.Context, typeName string, filters map[string]any, defaults domain.Document) (domain.Document, bool, error)
	// Save upserts a document and returns the stored form.
	Save(ctx context.Context, typeName string, doc domain.Document) (domain.Document, error)
	// Count returns the number of documents matching the filters.
	Count(ctx context.Context, typeName string, filters map[string]any) (int, error)
	// DeleteMany removes documents by primary key and returns how many
	// were deleted.
	DeleteMany(ctx context.Context, typeName string, ids []string) (int, error)
	// GetRelatedDocuments returns the documents related to doc, grouped
	// by model, for relation indexing.
	GetRelatedDocuments(ctx context.Context, typeName string, doc domain.Document) ([]Related, error)
}
