// Package redisorm is the reference primary-store adapter: documents
// persisted as JSON values in Redis via rueidis, one key per document.
// The framework consumes it only through model.Storage.
package redisorm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/ramses-tech/nefertari/internal/domain"
	"github.com/ramses-tech/nefertari/internal/model"
)

// Compile-time check: Store implements model.Storage.
var _ model.Storage = (*Store)(nil)

// Config holds connection parameters for the Redis store.
type Config struct {
	Addrs     []string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// Store persists model documents in Redis.
type Store struct {
	client   rueidis.Client
	prefix   string
	registry *model.Registry
}

// NewStore creates a Redis store via rueidis.
func NewStore(cfg Config, registry *model.Registry) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "nefertari:"
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Store{client: client, prefix: cfg.KeyPrefix, registry: registry}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	cmd := s.b().Ping().Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() {
	s.client.Close()
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for database: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

func (s *Store) do(ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult {
	return s.client.Do(ctx, cmd)
}

func (s *Store) b() rueidis.Builder {
	return s.client.B()
}

func (s *Store) key(typeName, id string) string {
	return s.prefix + typeName + ":" + id
}

func (s *Store) pattern(typeName string) string {
	return s.prefix + typeName + ":*"
}

// counterKey holds the sequence used for generated primary keys.
func (s *Store) counterKey(typeName string) string {
	return s.prefix + typeName + ":_seq"
}

func (s *Store) resolve(typeName string) (model.Info, error) {
	info, ok := s.registry.Resolve(typeName)
	if !ok {
		return model.Info{}, fmt.Errorf("unknown model %q", typeName)
	}
	return info, nil
}

// GetItem returns one document by primary key.
func (s *Store) GetItem(ctx context.Context, typeName, id string) (domain.Document, error) {
	info, err := s.resolve(typeName)
	if err != nil {
		return nil, err
	}

	cmd := s.b().Get().Key(s.key(info.TypeName(), id)).Build()
	data, err := s.do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, fmt.Errorf("%w: %s %q", domain.ErrNotFound, info.TypeName(), id)
		}
		return nil, fmt.Errorf("get %s %q: %w", info.TypeName(), id, err)
	}
	return decodeDocument(data)
}

// GetCollection returns documents matching the filters. An empty filter
// map returns the whole collection.
func (s *Store) GetCollection(ctx context.Context, typeName string, filters map[string]any) ([]domain.Document, error) {
	info, err := s.resolve(typeName)
	if err != nil {
		return nil, err
	}

	keys, err := s.scan(ctx, s.pattern(info.TypeName()))
	if err != nil {
		return nil, err
	}

	docs, err := s.getMulti(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := docs[:0]
	for _, doc := range docs {
		if matches(doc, filters) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// GetOrCreate finds a document matching the filters or creates one from
// the filters merged with defaults.
func (s *Store) GetOrCreate(ctx context.Context, typeName string, filters map[string]any, defaults domain.Document) (domain.Document, bool, error) {
	docs, err := s.GetCollection(ctx, typeName, filters)
	if err != nil {
		return nil, false, err
	}
	if len(docs) > 0 {
		return docs[0], false, nil
	}

	doc := make(domain.Document, len(filters)+len(defaults))
	for k, v := range defaults {
		doc[k] = v
	}
	for k, v := range filters {
		doc[k] = v
	}
	saved, err := s.Save(ctx, typeName, doc)
	if err != nil {
		return nil, false, err
	}
	return saved, true, nil
}

// Save upserts a document. A missing primary key is generated from a
// per-type sequence.
func (s *Store) Save(ctx context.Context, typeName string, doc domain.Document) (domain.Document, error) {
	info, err := s.resolve(typeName)
	if err != nil {
		return nil, err
	}

	doc = doc.Copy()
	doc[domain.TypeKey] = info.TypeName()

	pk := doc.PK(info.PKField)
	if pk == "" {
		next, err := s.do(ctx, s.b().Incr().Key(s.counterKey(info.TypeName())).Build()).AsInt64()
		if err != nil {
			return nil, fmt.Errorf("next %s id: %w", info.TypeName(), err)
		}
		pk = strconv.FormatInt(next, 10)
		doc[info.PKField] = pk
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s %q: %w", info.TypeName(), pk, err)
	}
	cmd := s.b().Set().Key(s.key(info.TypeName(), pk)).Value(string(data)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return nil, fmt.Errorf("save %s %q: %w", info.TypeName(), pk, err)
	}
	return doc, nil
}

// Count returns the number of documents matching the filters.
func (s *Store) Count(ctx context.Context, typeName string, filters map[string]any) (int, error) {
	docs, err := s.GetCollection(ctx, typeName, filters)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// DeleteMany removes documents by primary key in one DoMulti round-trip
// and reports how many existed.
func (s *Store) DeleteMany(ctx context.Context, typeName string, ids []string) (int, error) {
	info, err := s.resolve(typeName)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	cmds := make([]rueidis.Completed, len(ids))
	for i, id := range ids {
		cmds[i] = s.b().Del().Key(s.key(info.TypeName(), id)).Build()
	}

	deleted := 0
	for i, res := range s.client.DoMulti(ctx, cmds...) {
		n, err := res.AsInt64()
		if err != nil {
			return deleted, fmt.Errorf("delete %s %q: %w", info.TypeName(), ids[i], err)
		}
		deleted += int(n)
	}
	return deleted, nil
}

// GetRelatedDocuments resolves the documents referenced by the doc's
// relationship fields, grouped by related model. Values may be a single
// id or a list of ids.
func (s *Store) GetRelatedDocuments(ctx context.Context, typeName string, doc domain.Document) ([]model.Related, error) {
	info, err := s.resolve(typeName)
	if err != nil {
		return nil, err
	}

	var out []model.Related
	for field := range info.Fields {
		related, ok := info.RelationshipModel(field)
		if !ok {
			continue
		}
		ids := relationIDs(doc[field])
		if len(ids) == 0 {
			continue
		}

		relInfo, err := s.resolve(related)
		if err != nil {
			return nil, err
		}
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.key(relInfo.TypeName(), id)
		}
		docs, err := s.getMulti(ctx, keys)
		if err != nil {
			return nil, err
		}
		if len(docs) > 0 {
			out = append(out, model.Related{TypeName: relInfo.Name, Docs: docs})
		}
	}
	return out, nil
}

// scan iterates keys matching a pattern.
func (s *Store) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		cmd := s.b().Scan().Cursor(cursor).Match(pattern).Count(100).Build()
		res, err := s.do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		keys = append(keys, res.Elements...)
		cursor = res.Cursor
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// getMulti fetches documents for many keys in one DoMulti round-trip,
// skipping keys that vanished mid-scan.
func (s *Store) getMulti(ctx context.Context, keys []string) ([]domain.Document, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]rueidis.Completed, len(keys))
	for i, key := range keys {
		cmds[i] = s.b().Get().Key(key).Build()
	}

	docs := make([]domain.Document, 0, len(keys))
	for i, res := range s.client.DoMulti(ctx, cmds...) {
		data, err := res.AsBytes()
		if err != nil {
			if rueidis.IsRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("get %s: %w", keys[i], err)
		}
		doc, err := decodeDocument(data)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func decodeDocument(data []byte) (domain.Document, error) {
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// matches applies equality filters, comparing stringified values so
// query-string filters match typed document fields.
func matches(doc domain.Document, filters map[string]any) bool {
	for k, want := range filters {
		have, ok := doc[k]
		if !ok {
			return false
		}
		if domain.Stringify(have) != domain.Stringify(want) {
			return false
		}
	}
	return true
}

func relationIDs(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s := domain.Stringify(e); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	default:
		if s := domain.Stringify(t); s != "" {
			return []string{s}
		}
		return nil
	}
}
