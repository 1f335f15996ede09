package view

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ramses-tech/nefertari/internal/domain"
	"github.com/ramses-tech/nefertari/internal/model"
	"github.com/ramses-tech/nefertari/internal/query"
	"github.com/ramses-tech/nefertari/internal/wrappers"
)

// PolyMember is one collection selectable in a polymorphic search.
type PolyMember struct {
	Info model.Info
	ACL  ACL
	// Singular members are dropped from polymorphic selection.
	Singular bool
}

// PolymorphicView serves GET /{a,b,...}: one search across the indices
// of several sibling collections.
type PolymorphicView struct {
	members  map[string]PolyMember
	registry *model.Registry
	finder   finder
	logger   *zap.Logger
	handler  *Handler
	// collectionsParam is the URL parameter carrying the CSV list.
	collectionsParam string
}

// NewPolymorphic creates the polymorphic view over the given members,
// keyed by collection name.
func NewPolymorphic(members map[string]PolyMember, registry *model.Registry, translator *query.Translator, opts Options) *PolymorphicView {
	return newPolymorphic(members, registry, translator, opts)
}

func newPolymorphic(members map[string]PolyMember, registry *model.Registry, f finder, opts Options) *PolymorphicView {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	pv := &PolymorphicView{
		members:          members,
		registry:         registry,
		finder:           f,
		logger:           opts.Logger,
		collectionsParam: "collections",
	}

	objectURL := opts.ObjectURL
	if objectURL == nil {
		objectURL = func(string, string) (string, bool) { return "", false }
	}
	after := []wrappers.After{
		wrappers.WrapInDict,
		wrappers.AddMeta,
		wrappers.AddObjectURL(objectURL),
		wrappers.AddETag,
	}
	var before []wrappers.Before
	if opts.Auth {
		after = append(after, wrappers.ApplyPrivacy(registry, true))
		after = append([]wrappers.After{wrappers.SetTotal(opts.PublicMaxLimit)}, after...)
		before = append(before, wrappers.SetPublicLimits(opts.PublicMaxLimit))
	}
	pv.handler = &Handler{Fn: pv.Index, Before: before, After: after}
	return pv
}

// Handle returns the http handler for the polymorphic route.
func (pv *PolymorphicView) Handle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		csv := chi.URLParam(r, pv.collectionsParam)
		types, err := pv.selectTypes(domain.UserFromContext(r.Context()), csv)
		if err != nil {
			renderError(w, r, pv.logger, err)
			return
		}
		serve(pv.logger, strings.Join(types, ","), "", ActionIndex, pv.handler, w, r)
	}
}

// Index runs the multi-index search. The view's TypeName carries the
// comma-joined type list, which the ES client fans out to the matching
// indices.
func (pv *PolymorphicView) Index(ctx context.Context, c *wrappers.Context) (any, error) {
	return pv.finder.GetCollection(ctx, c.TypeName, c.Params, false)
}

// selectTypes resolves the CSV collection list: unknown, singular, and
// non-indexed members are dropped; a denial on any member denies all.
func (pv *PolymorphicView) selectTypes(user *domain.User, csv string) ([]string, error) {
	var types []string
	seen := make(map[string]bool)
	for _, name := range strings.Split(csv, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		m, ok := pv.members[name]
		if !ok || m.Singular || !m.Info.IndexEnabled {
			continue
		}
		if m.ACL != nil && !m.ACL(user, ActionIndex) {
			return nil, fmt.Errorf("%w: no index permission on %s", domain.ErrForbidden, name)
		}
		if t := m.Info.TypeName(); !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("%w: no searchable collections selected", domain.ErrNotFound)
	}
	return types, nil
}
