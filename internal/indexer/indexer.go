// Package indexer prepares, chunks, and submits Elasticsearch bulk
// operations for source documents supplied by the primary store.
package indexer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ramses-tech/nefertari/internal/domain"
	"github.com/ramses-tech/nefertari/internal/es"
	"github.com/ramses-tech/nefertari/internal/model"
)

// DefaultChunkSize bounds one bulk submission when settings give none.
const DefaultChunkSize = 500

// bulkClient is the consumer interface for the ES client.
type bulkClient interface {
	Bulk(ctx context.Context, actions []es.BulkAction, refresh bool) error
	MGet(ctx context.Context, docType string, ids []string, withSource bool) ([]es.MGetDoc, error)
	IndexExists(ctx context.Context, docType string) (bool, error)
}

// Indexer submits documents of one model into its index. It is
// stateless per invocation; concurrent calls are serialized only by ES.
type Indexer struct {
	client    bulkClient
	registry  *model.Registry
	storage   model.Storage
	docType   string
	pkField   string
	chunkSize int
	logger    *zap.Logger
}

// New creates an indexer bound to a model.
func New(client *es.Client, registry *model.Registry, storage model.Storage, docType string, chunkSize int, logger *zap.Logger) (*Indexer, error) {
	return newIndexer(client, registry, storage, docType, chunkSize, logger)
}

func newIndexer(client bulkClient, registry *model.Registry, storage model.Storage, docType string, chunkSize int, logger *zap.Logger) (*Indexer, error) {
	info, ok := registry.Resolve(docType)
	if !ok {
		return nil, fmt.Errorf("unknown model %q", docType)
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Indexer{
		client:    client,
		registry:  registry,
		storage:   storage,
		docType:   info.TypeName(),
		pkField:   info.PKField,
		chunkSize: chunkSize,
		logger:    logger,
	}, nil
}

// For returns an indexer bound to another model, sharing the client.
func (ix *Indexer) For(docType string) (*Indexer, error) {
	return newIndexer(ix.client, ix.registry, ix.storage, docType, ix.chunkSize, ix.logger)
}

// PrepBulkDocuments produces one bulk action per document. The type
// defaults to the indexer's model and may be overridden per document by
// its _type key; the _id is the stringified primary key.
func (ix *Indexer) PrepBulkDocuments(op string, docs []domain.Document) ([]es.BulkAction, error) {
	actions := make([]es.BulkAction, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			return nil, fmt.Errorf("bulk document must be a mapping")
		}
		pk := doc.PK(ix.pkField)
		if pk == "" {
			return nil, fmt.Errorf("bulk document has no %q primary key", ix.pkField)
		}
		actions = append(actions, es.BulkAction{
			OpType: op,
			Type:   doc.Type(ix.docType),
			ID:     pk,
			Source: doc,
		})
	}
	return actions, nil
}

// Index submits documents in chunks of at most the configured size.
// Failing items across all chunks surface as one BulkError; successful
// chunks stay indexed.
func (ix *Indexer) Index(ctx context.Context, docs []domain.Document, refresh bool) error {
	actions, err := ix.PrepBulkDocuments(es.OpIndex, docs)
	if err != nil {
		return err
	}
	return ix.submit(ctx, actions, refresh)
}

// Delete removes documents by primary key.
func (ix *Indexer) Delete(ctx context.Context, ids []string, refresh bool) error {
	actions := make([]es.BulkAction, 0, len(ids))
	for _, id := range ids {
		actions = append(actions, es.BulkAction{OpType: es.OpDelete, Type: ix.docType, ID: id})
	}
	return ix.submit(ctx, actions, refresh)
}

func (ix *Indexer) submit(ctx context.Context, actions []es.BulkAction, refresh bool) error {
	var failed []domain.BulkItemError
	for start := 0; start < len(actions); start += ix.chunkSize {
		end := start + ix.chunkSize
		if end > len(actions) {
			end = len(actions)
		}
		if err := ix.client.Bulk(ctx, actions[start:end], refresh); err != nil {
			var be *domain.BulkError
			if errors.As(err, &be) {
				failed = append(failed, be.Items...)
				continue
			}
			return err
		}
	}
	if len(failed) > 0 {
		return &domain.BulkError{Items: failed}
	}
	return nil
}

// IndexMissing indexes only the documents whose primary key is not yet
// in the index, diffed via mget. A missing index means everything is
// missing. Returns how many documents were submitted.
func (ix *Indexer) IndexMissing(ctx context.Context, docs []domain.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.PK(ix.pkField))
	}

	// No index yet means everything is missing and mget is pointless.
	exists, err := ix.client.IndexExists(ctx, ix.docType)
	if err != nil {
		return 0, err
	}

	found := make(map[string]bool)
	if exists {
		resp, err := ix.client.MGet(ctx, ix.docType, ids, false)
		if err != nil {
			return 0, err
		}
		for _, d := range resp {
			if d.Found {
				found[d.ID] = true
			}
		}
	}

	missing := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		if !found[doc.PK(ix.pkField)] {
			missing = append(missing, doc)
		}
	}
	if len(missing) == 0 {
		ix.logger.Debug("nothing to index", zap.String("type", ix.docType))
		return 0, nil
	}
	return len(missing), ix.Index(ctx, missing, false)
}

// IndexRelations indexes the documents related to a saved object, per
// related model, skipping models without indexing enabled.
func (ix *Indexer) IndexRelations(ctx context.Context, doc domain.Document) error {
	related, err := ix.storage.GetRelatedDocuments(ctx, ix.docType, doc)
	if err != nil {
		return fmt.Errorf("get related documents: %w", err)
	}

	for _, batch := range related {
		info, ok := ix.registry.Resolve(batch.TypeName)
		if !ok || !info.IndexEnabled || len(batch.Docs) == 0 {
			continue
		}
		sub, err := ix.For(batch.TypeName)
		if err != nil {
			return err
		}
		if err := sub.Index(ctx, batch.Docs, false); err != nil {
			return err
		}
	}
	return nil
}

// BulkIndexRelations indexes the relations of many saved objects,
// deduplicated by primary key per related model.
func (ix *Indexer) BulkIndexRelations(ctx context.Context, docs []domain.Document) error {
	byType := make(map[string]map[string]domain.Document)
	for _, doc := range docs {
		related, err := ix.storage.GetRelatedDocuments(ctx, ix.docType, doc)
		if err != nil {
			return fmt.Errorf("get related documents: %w", err)
		}
		for _, batch := range related {
			info, ok := ix.registry.Resolve(batch.TypeName)
			if !ok || !info.IndexEnabled {
				continue
			}
			bucket := byType[batch.TypeName]
			if bucket == nil {
				bucket = make(map[string]domain.Document)
				byType[batch.TypeName] = bucket
			}
			for _, d := range batch.Docs {
				bucket[d.PK(info.PKField)] = d
			}
		}
	}

	for typeName, bucket := range byType {
		sub, err := ix.For(typeName)
		if err != nil {
			return err
		}
		batch := make([]domain.Document, 0, len(bucket))
		for _, d := range bucket {
			batch = append(batch, d)
		}
		if err := sub.Index(ctx, batch, false); err != nil {
			return err
		}
	}
	return nil
}
