// Package view dispatches REST actions through the before/after
// wrapper pipeline: CRUD handlers over the primary store and the
// Elasticsearch read side, the aggregation detector, and the
// polymorphic multi-collection search.
package view

import (
	"context"

	"go.uber.org/zap"

	"github.com/ramses-tech/nefertari/internal/domain"
	"github.com/ramses-tech/nefertari/internal/indexer"
	"github.com/ramses-tech/nefertari/internal/model"
	"github.com/ramses-tech/nefertari/internal/params"
	"github.com/ramses-tech/nefertari/internal/query"
	"github.com/ramses-tech/nefertari/internal/wrappers"
)

// Action names, string-keyed the way routes refer to them.
const (
	ActionIndex      = "index"
	ActionShow       = "show"
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionReplace    = "replace"
	ActionDelete     = "delete"
	ActionUpdateMany = "update_many"
	ActionDeleteMany = "delete_many"
)

// ConfirmationParam opts in to destructive bulk operations. MethodParam
// carries the tunneled method on confirmation URLs.
const (
	ConfirmationParam = "__confirmation"
	MethodParam       = "_m"
)

// ACL reports whether a principal may run an action. nil allows all.
type ACL func(user *domain.User, action string) bool

// Handler binds an action method to its wrapper chains.
type Handler struct {
	Fn     func(ctx context.Context, c *wrappers.Context) (any, error)
	Before []wrappers.Before
	After  []wrappers.After
}

// finder is the consumer interface for the query translator.
type finder interface {
	GetCollection(ctx context.Context, docType string, p params.Params, raiseOnEmpty bool) (any, error)
	GetByIDs(ctx context.Context, docType string, ids []string, raiseOnEmpty bool) (*query.Results, error)
	DoCount(ctx context.Context, docType string, p params.Params) (int, error)
	Aggregate(ctx context.Context, docType string, aggs map[string]any, p params.Params) (map[string]any, error)
}

// docIndexer is the consumer interface for the bulk indexer.
type docIndexer interface {
	Index(ctx context.Context, docs []domain.Document, refresh bool) error
	Delete(ctx context.Context, ids []string, refresh bool) error
	IndexRelations(ctx context.Context, doc domain.Document) error
}

// Options tune one view instance.
type Options struct {
	// Auth enables the privacy and public-limit wrappers.
	Auth bool
	// PublicMaxLimit caps page windows for anonymous callers.
	PublicMaxLimit int
	ACL            ACL
	// ObjectURL resolves canonical item URLs from the resource tree.
	ObjectURL wrappers.URLBuilder
	// IDName is the URL parameter holding the item id.
	IDName string
	Logger *zap.Logger
}

// View serves one model's REST actions.
type View struct {
	info     model.Info
	registry *model.Registry
	finder   finder
	storage  model.Storage
	indexer  docIndexer
	acl      ACL
	auth     bool
	idName   string
	logger   *zap.Logger
	handlers map[string]*Handler
}

// New creates a view over a registered model.
func New(info model.Info, registry *model.Registry, translator *query.Translator, storage model.Storage, ix *indexer.Indexer, opts Options) *View {
	return newView(info, registry, translator, storage, ix, opts)
}

func newView(info model.Info, registry *model.Registry, f finder, storage model.Storage, ix docIndexer, opts Options) *View {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.IDName == "" {
		opts.IDName = "id"
	}
	v := &View{
		info:     info,
		registry: registry,
		finder:   f,
		storage:  storage,
		indexer:  ix,
		acl:      opts.ACL,
		auth:     opts.Auth,
		idName:   opts.IDName,
		logger:   opts.Logger,
	}
	v.handlers = defaultHandlers(v, opts)
	return v
}

// defaultHandlers wires the per-action wrapper chains. Order matters:
// results are shaped, decorated, and only then privacy-filtered.
func defaultHandlers(v *View, opts Options) map[string]*Handler {
	objectURL := opts.ObjectURL
	if objectURL == nil {
		objectURL = func(string, string) (string, bool) { return "", false }
	}

	indexAfter := []wrappers.After{
		wrappers.WrapInDict,
		wrappers.AddMeta,
		wrappers.AddObjectURL(objectURL),
		wrappers.AddETag,
	}
	showAfter := []wrappers.After{wrappers.WrapInDict, wrappers.AddMeta, wrappers.AddETag}
	confirmAfter := []wrappers.After{wrappers.AddConfirmationURL}

	var indexBefore []wrappers.Before
	if opts.Auth {
		privacy := wrappers.ApplyPrivacy(v.registry, true)
		indexAfter = append(indexAfter, privacy)
		showAfter = append(showAfter, privacy)
		indexBefore = append(indexBefore, wrappers.SetPublicLimits(opts.PublicMaxLimit))
		// Totals are capped on the raw results, ahead of shaping.
		indexAfter = append([]wrappers.After{wrappers.SetTotal(opts.PublicMaxLimit)}, indexAfter...)
	}

	return map[string]*Handler{
		ActionIndex:      {Fn: v.Index, Before: indexBefore, After: indexAfter},
		ActionShow:       {Fn: v.Show, After: showAfter},
		ActionCreate:     {Fn: v.Create},
		ActionUpdate:     {Fn: v.Update},
		ActionReplace:    {Fn: v.Replace},
		ActionDelete:     {Fn: v.Delete, After: confirmAfter},
		ActionUpdateMany: {Fn: v.UpdateMany, After: confirmAfter},
		ActionDeleteMany: {Fn: v.DeleteMany, After: confirmAfter},
	}
}

// AddBefore attaches a wrapper to an action's before chain. prepend
// inserts it at the front, otherwise registration order is kept.
func (v *View) AddBefore(action string, prepend bool, fn wrappers.Before) {
	h, ok := v.handlers[action]
	if !ok {
		return
	}
	if prepend {
		h.Before = append([]wrappers.Before{fn}, h.Before...)
		return
	}
	h.Before = append(h.Before, fn)
}

// AddAfter attaches a wrapper to an action's after chain.
func (v *View) AddAfter(action string, prepend bool, fn wrappers.After) {
	h, ok := v.handlers[action]
	if !ok {
		return
	}
	if prepend {
		h.After = append([]wrappers.After{fn}, h.After...)
		return
	}
	h.After = append(h.After, fn)
}

// TypeName returns the lowercased model name the view serves.
func (v *View) TypeName() string { return v.info.TypeName() }

// ModelInfo returns the served model's descriptor.
func (v *View) ModelInfo() model.Info { return v.info }

// AccessControl returns the view's ACL, nil when unrestricted.
func (v *View) AccessControl() ACL { return v.acl }

// Actions returns the action names the view responds to.
func (v *View) Actions() []string {
	out := make([]string, 0, len(v.handlers))
	for a := range v.handlers {
		out = append(out, a)
	}
	return out
}
