package view

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ramses-tech/nefertari/internal/domain"
	"github.com/ramses-tech/nefertari/internal/query"
	"github.com/ramses-tech/nefertari/internal/wrappers"
)

// rawResult skips the after chain; aggregations have their own shape.
type rawResult struct {
	value any
}

// Index serves GET on the collection. Aggregation parameters divert the
// request to the aggregation endpoint.
func (v *View) Index(ctx context.Context, c *wrappers.Context) (any, error) {
	if res, handled, err := v.aggregate(ctx, c); err != nil {
		return nil, err
	} else if handled {
		return rawResult{res}, nil
	}
	return v.finder.GetCollection(ctx, v.info.TypeName(), c.Params, false)
}

// Show serves GET on one item, read from the index.
func (v *View) Show(ctx context.Context, c *wrappers.Context) (any, error) {
	res, err := v.finder.GetByIDs(ctx, v.info.TypeName(), []string{v.itemID(c)}, true)
	if err != nil {
		return nil, err
	}
	return res.Items[0], nil
}

// Create serves POST: validate the body against the model schema, save,
// and mirror into the index.
func (v *View) Create(ctx context.Context, c *wrappers.Context) (any, error) {
	doc := v.bodyDocument(c)
	if err := v.info.Validate(doc); err != nil {
		return nil, err
	}

	saved, err := v.storage.Save(ctx, v.info.TypeName(), doc)
	if err != nil {
		return nil, err
	}
	if err := v.indexSaved(ctx, c, saved); err != nil {
		return nil, err
	}
	return saved, nil
}

// Update serves PATCH on one item: merge body fields into the stored
// document.
func (v *View) Update(ctx context.Context, c *wrappers.Context) (any, error) {
	return v.updateItem(ctx, c, false)
}

// Replace serves PUT on one item: fields absent from the body reset to
// the model's null values.
func (v *View) Replace(ctx context.Context, c *wrappers.Context) (any, error) {
	return v.updateItem(ctx, c, true)
}

func (v *View) updateItem(ctx context.Context, c *wrappers.Context, replace bool) (any, error) {
	existing, err := v.storage.GetItem(ctx, v.info.TypeName(), v.itemID(c))
	if err != nil {
		return nil, err
	}

	if replace {
		for name, null := range v.info.NullValues() {
			existing[name] = null
		}
	}
	for k, val := range v.bodyDocument(c) {
		existing[k] = val
	}

	saved, err := v.storage.Save(ctx, v.info.TypeName(), existing)
	if err != nil {
		return nil, err
	}
	if err := v.indexSaved(ctx, c, saved); err != nil {
		return nil, err
	}
	return saved, nil
}

// Delete serves DELETE on one item.
func (v *View) Delete(ctx context.Context, c *wrappers.Context) (any, error) {
	id := v.itemID(c)
	n, err := v.storage.DeleteMany(ctx, v.info.TypeName(), []string{id})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s %q", domain.ErrNotFound, v.info.TypeName(), id)
	}
	if v.info.IndexEnabled {
		if err := v.indexer.Delete(ctx, []string{id}, query.Refreshing(c.Params)); err != nil {
			return nil, err
		}
	}
	return deletedMessage(v.info.Name, n), nil
}

// UpdateMany serves PUT/PATCH on the collection: update every document
// matching the query filters. The first unconfirmed call returns the
// match count and a confirmation URL.
func (v *View) UpdateMany(ctx context.Context, c *wrappers.Context) (any, error) {
	docs, confirm, err := v.matchedDocuments(ctx, c)
	if err != nil || confirm != nil {
		return confirm, err
	}

	fields := v.bodyDocument(c)
	for _, doc := range docs {
		for k, val := range fields {
			doc[k] = val
		}
		saved, err := v.storage.Save(ctx, v.info.TypeName(), doc)
		if err != nil {
			return nil, err
		}
		if err := v.indexSaved(ctx, c, saved); err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"message": fmt.Sprintf("Updated %d %s(s) objects", len(docs), v.info.Name),
	}, nil
}

// DeleteMany serves DELETE on the collection, with the same
// confirmation flow.
func (v *View) DeleteMany(ctx context.Context, c *wrappers.Context) (any, error) {
	docs, confirm, err := v.matchedDocuments(ctx, c)
	if err != nil || confirm != nil {
		return confirm, err
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.PK(v.info.PKField))
	}
	n, err := v.storage.DeleteMany(ctx, v.info.TypeName(), ids)
	if err != nil {
		return nil, err
	}
	if v.info.IndexEnabled && len(ids) > 0 {
		if err := v.indexer.Delete(ctx, ids, query.Refreshing(c.Params)); err != nil {
			return nil, err
		}
	}
	return deletedMessage(v.info.Name, n), nil
}

// matchedDocuments resolves the documents a bulk action targets. When
// the call lacks __confirmation it short-circuits with the match count.
func (v *View) matchedDocuments(ctx context.Context, c *wrappers.Context) ([]domain.Document, *wrappers.Confirmation, error) {
	if !c.Params.Has(ConfirmationParam) {
		n, err := v.finder.DoCount(ctx, v.info.TypeName(), c.Params)
		if err != nil {
			return nil, nil, err
		}
		return nil, &wrappers.Confirmation{Count: n}, nil
	}

	p := c.Params.Subset("-" + ConfirmationParam)
	res, err := v.finder.GetCollection(ctx, v.info.TypeName(), p, false)
	if err != nil {
		return nil, nil, err
	}
	results, ok := res.(*query.Results)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected collection result %T", res)
	}
	return results.Items, nil, nil
}

// bodyDocument extracts the writable fields of the request: the parsed
// JSON body when one was sent, otherwise the non-reserved params.
func (v *View) bodyDocument(c *wrappers.Context) domain.Document {
	doc := make(domain.Document)
	if len(c.Body) > 0 {
		for k, val := range c.Body {
			doc[k] = val
		}
		return doc
	}
	for k, val := range c.Params {
		if strings.HasPrefix(k, "_") {
			continue
		}
		doc[k] = val
	}
	return doc
}

func (v *View) indexSaved(ctx context.Context, c *wrappers.Context, doc domain.Document) error {
	if !v.info.IndexEnabled {
		return nil
	}
	if err := v.indexer.Index(ctx, []domain.Document{doc}, query.Refreshing(c.Params)); err != nil {
		return err
	}
	return v.indexer.IndexRelations(ctx, doc)
}

func (v *View) itemID(c *wrappers.Context) string {
	return chi.URLParam(c.Request, v.idName)
}

func deletedMessage(name string, n int) map[string]any {
	return map[string]any{
		"message": fmt.Sprintf("Deleted %d %s(s) objects", n, name),
	}
}
