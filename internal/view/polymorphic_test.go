package view

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ramses-tech/nefertari/internal/domain"
	"github.com/ramses-tech/nefertari/internal/model"
	"github.com/ramses-tech/nefertari/internal/query"
)

func polyView(t *testing.T, f *mockFinder) *PolymorphicView {
	t.Helper()
	reg := viewRegistry(t)
	stories, _ := reg.Resolve("story")

	denyUsers := func(_ *domain.User, _ string) bool { return false }
	members := map[string]PolyMember{
		"stories": {Info: stories},
		"users":   {Info: model.Info{Name: "User", IndexEnabled: true}, ACL: denyUsers},
		"drafts":  {Info: model.Info{Name: "Draft", IndexEnabled: false}},
		"profile": {Info: model.Info{Name: "Profile", IndexEnabled: true}, Singular: true},
	}
	return newPolymorphic(members, reg, f, Options{Logger: zap.NewNop()})
}

func doPolyRequest(pv *PolymorphicView, csv string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/"+csv, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("collections", csv)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()
	pv.Handle()(w, req)
	return w
}

func TestPolymorphicDeniedOnAnyMember(t *testing.T) {
	pv := polyView(t, &mockFinder{})
	if w := doPolyRequest(pv, "stories,users"); w.Code != http.StatusForbidden {
		t.Fatalf("code = %d; one denial must deny all", w.Code)
	}
}

func TestPolymorphicSearch(t *testing.T) {
	f := &mockFinder{collection: &query.Results{
		Items: []domain.Document{
			{"id": 1, domain.TypeKey: "story"},
			{"id": 2, domain.TypeKey: "story"},
		},
		Total: 2,
	}}
	pv := polyView(t, f)

	w := doPolyRequest(pv, "stories,stories")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	if f.lastDocType != "story" {
		t.Fatalf("docType = %q; repeated collections collapse to one type", f.lastDocType)
	}
}

func TestPolymorphicDropsUnsearchable(t *testing.T) {
	f := &mockFinder{collection: &query.Results{}}
	pv := polyView(t, f)

	if w := doPolyRequest(pv, "stories,drafts,profile,unknown"); w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if f.lastDocType != "story" {
		t.Fatalf("docType = %q; singular and non-indexed members must be dropped", f.lastDocType)
	}
}

func TestPolymorphicNothingSelected(t *testing.T) {
	pv := polyView(t, &mockFinder{})
	if w := doPolyRequest(pv, "drafts,profile"); w.Code != http.StatusNotFound {
		t.Fatalf("code = %d", w.Code)
	}
}
