package view

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ramses-tech/nefertari/internal/domain"
	"github.com/ramses-tech/nefertari/internal/model"
	"github.com/ramses-tech/nefertari/internal/params"
	"github.com/ramses-tech/nefertari/internal/query"
)

// --- Mocks ---

type mockFinder struct {
	collection    any
	collectionErr error
	byIDs         *query.Results
	byIDsErr      error
	count         int
	countErr      error
	aggs          map[string]any
	aggsErr       error

	lastDocType string
	lastParams  params.Params
	lastAggs    map[string]any
}

func (m *mockFinder) GetCollection(_ context.Context, docType string, p params.Params, _ bool) (any, error) {
	m.lastDocType = docType
	m.lastParams = p
	return m.collection, m.collectionErr
}

func (m *mockFinder) GetByIDs(_ context.Context, docType string, _ []string, _ bool) (*query.Results, error) {
	m.lastDocType = docType
	return m.byIDs, m.byIDsErr
}

func (m *mockFinder) DoCount(_ context.Context, docType string, p params.Params) (int, error) {
	m.lastDocType = docType
	m.lastParams = p
	return m.count, m.countErr
}

func (m *mockFinder) Aggregate(_ context.Context, docType string, aggs map[string]any, p params.Params) (map[string]any, error) {
	m.lastDocType = docType
	m.lastAggs = aggs
	m.lastParams = p
	return m.aggs, m.aggsErr
}

type mockStore struct {
	model.Storage
	saved   []domain.Document
	deleted []string
	item    domain.Document
	itemErr error
	delN    int
}

func (m *mockStore) Save(_ context.Context, _ string, doc domain.Document) (domain.Document, error) {
	m.saved = append(m.saved, doc)
	return doc, nil
}

func (m *mockStore) GetItem(_ context.Context, _, _ string) (domain.Document, error) {
	return m.item, m.itemErr
}

func (m *mockStore) DeleteMany(_ context.Context, _ string, ids []string) (int, error) {
	m.deleted = append(m.deleted, ids...)
	return m.delN, nil
}

type mockIndexer struct {
	indexed   []domain.Document
	deleted   []string
	relations int
}

func (m *mockIndexer) Index(_ context.Context, docs []domain.Document, _ bool) error {
	m.indexed = append(m.indexed, docs...)
	return nil
}

func (m *mockIndexer) Delete(_ context.Context, ids []string, _ bool) error {
	m.deleted = append(m.deleted, ids...)
	return nil
}

func (m *mockIndexer) IndexRelations(_ context.Context, _ domain.Document) error {
	m.relations++
	return nil
}

// --- Builders ---

func viewRegistry(t *testing.T) *model.Registry {
	t.Helper()
	reg := model.NewRegistry()
	reg.MustRegister(model.Info{
		Name:         "Story",
		PKField:      "id",
		IndexEnabled: true,
		PublicFields: []string{"id", "name"},
		AuthFields:   []string{"id", "name", "price"},
		Fields: map[string]model.FieldParams{
			"name": {Type: "string", Required: true},
		},
	})
	return reg
}

func testView(t *testing.T, f *mockFinder, s *mockStore, ix *mockIndexer, opts Options) *View {
	t.Helper()
	reg := viewRegistry(t)
	info, _ := reg.Resolve("story")
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return newView(info, reg, f, s, ix, opts)
}

func doRequest(v *View, action, method, target string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "5")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()
	v.Handle(action)(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad response %q: %v", w.Body.String(), err)
	}
	return out
}

// --- Dispatch ---

func TestDispatchUnknownAction(t *testing.T) {
	v := testView(t, &mockFinder{}, &mockStore{}, &mockIndexer{}, Options{})
	w := doRequest(v, "explode", "GET", "/stories", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code = %d", w.Code)
	}
	env := decode(t, w)
	if env["status_code"] != float64(405) || env["request_url"] == "" {
		t.Fatalf("envelope = %v", env)
	}
}

func TestIndexPipeline(t *testing.T) {
	f := &mockFinder{collection: &query.Results{
		Items: []domain.Document{{"id": 1, "name": "a"}, {"id": 2, "name": "b"}},
		Total: 9,
		Took:  3,
	}}
	v := testView(t, f, &mockStore{}, &mockIndexer{}, Options{})

	w := doRequest(v, ActionIndex, "GET", "/stories?_limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["count"] != float64(2) || out["total"] != float64(9) {
		t.Fatalf("out = %v", out)
	}
	data := out["data"].([]any)
	if data[0].(map[string]any)["_self"] != "/stories/1" {
		t.Fatalf("data = %v", data)
	}
	if w.Header().Get("ETag") == "" {
		t.Fatal("collection ETag missing")
	}
}

func TestShowNotFound(t *testing.T) {
	f := &mockFinder{byIDsErr: fmt.Errorf("%w: story", domain.ErrNotFound)}
	v := testView(t, f, &mockStore{}, &mockIndexer{}, Options{})

	w := doRequest(v, ActionShow, "GET", "/stories/5", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d", w.Code)
	}
	if decode(t, w)["title"] != "Not Found" {
		t.Fatalf("envelope = %v", decode(t, w))
	}
}

func TestCreateValidation(t *testing.T) {
	v := testView(t, &mockFinder{}, &mockStore{}, &mockIndexer{}, Options{})
	w := doRequest(v, ActionCreate, "POST", "/stories", `{"price": 3}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
}

func TestCreateIndexesDocument(t *testing.T) {
	s := &mockStore{}
	ix := &mockIndexer{}
	v := testView(t, &mockFinder{}, s, ix, Options{})

	w := doRequest(v, ActionCreate, "POST", "/stories", `{"id": 7, "name": "n"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	if len(s.saved) != 1 || len(ix.indexed) != 1 || ix.relations != 1 {
		t.Fatalf("saved=%d indexed=%d relations=%d", len(s.saved), len(ix.indexed), ix.relations)
	}
}

func TestUpdateMergesBody(t *testing.T) {
	s := &mockStore{item: domain.Document{"id": 5, "name": "old", "price": 1}}
	ix := &mockIndexer{}
	v := testView(t, &mockFinder{}, s, ix, Options{})

	w := doRequest(v, ActionUpdate, "PATCH", "/stories/5", `{"name": "new"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	saved := s.saved[0]
	if saved["name"] != "new" || saved["price"] != 1 {
		t.Fatalf("saved = %v", saved)
	}
}

func TestMalformedBodyIgnored(t *testing.T) {
	f := &mockFinder{collection: &query.Results{}}
	v := testView(t, f, &mockStore{}, &mockIndexer{}, Options{})

	req := httptest.NewRequest("POST", "/stories?name=q", strings.NewReader("{broken"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	v.Handle(ActionIndex)(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d; parse errors must not fail the request", w.Code)
	}
}

// --- Destructive bulk flow ---

func TestDeleteManyConfirmationFlow(t *testing.T) {
	f := &mockFinder{count: 2}
	s := &mockStore{delN: 2}
	ix := &mockIndexer{}
	v := testView(t, f, s, ix, Options{})

	w := doRequest(v, ActionDeleteMany, "DELETE", "/stories?status=draft", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	out := decode(t, w)
	if out["method"] != "DELETE" || out["count"] != float64(2) {
		t.Fatalf("confirmation = %v", out)
	}
	wantURL := "/stories?status=draft&__confirmation&_m=DELETE"
	if out["confirmation_url"] != wantURL {
		t.Fatalf("url = %v", out["confirmation_url"])
	}
	if len(s.deleted) != 0 {
		t.Fatal("nothing must be deleted before confirmation")
	}

	f.collection = &query.Results{Items: []domain.Document{{"id": 1}, {"id": 2}}}
	w = doRequest(v, ActionDeleteMany, "DELETE", "/stories?status=draft&__confirmation", "")
	out = decode(t, w)
	if out["message"] != "Deleted 2 Story(s) objects" {
		t.Fatalf("message = %v", out["message"])
	}
	if len(s.deleted) != 2 || len(ix.deleted) != 2 {
		t.Fatalf("store deleted %v, index deleted %v", s.deleted, ix.deleted)
	}
}

func TestUpdateManyConfirmed(t *testing.T) {
	f := &mockFinder{collection: &query.Results{Items: []domain.Document{
		{"id": 1, "status": "draft"},
		{"id": 2, "status": "draft"},
	}}}
	s := &mockStore{}
	v := testView(t, f, s, &mockIndexer{}, Options{})

	w := doRequest(v, ActionUpdateMany, "PATCH",
		"/stories?status=draft&__confirmation", `{"status": "live"}`)
	out := decode(t, w)
	if out["message"] != "Updated 2 Story(s) objects" {
		t.Fatalf("message = %v", out["message"])
	}
	for _, doc := range s.saved {
		if doc["status"] != "live" {
			t.Fatalf("saved = %v", doc)
		}
	}
}

// --- Aggregations ---

func TestAggregationForbiddenField(t *testing.T) {
	v := testView(t, &mockFinder{}, &mockStore{}, &mockIndexer{}, Options{Auth: true, PublicMaxLimit: 100})

	w := doRequest(v, ActionIndex, "GET", "/stories?_aggregations.minp.min.field=price", "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	if decode(t, w)["message"] != "Not enough permissions to aggregate on fields: price" {
		t.Fatalf("message = %v", decode(t, w)["message"])
	}
}

func TestAggregationAllowedSkipsAfterChain(t *testing.T) {
	f := &mockFinder{aggs: map[string]any{"names": map[string]any{"buckets": []any{}}}}
	v := testView(t, f, &mockStore{}, &mockIndexer{}, Options{Auth: true, PublicMaxLimit: 100})

	w := doRequest(v, ActionIndex, "GET", "/stories?_aggs.names.terms.field=name", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if _, has := out["data"]; has {
		t.Fatal("aggregation output must not be wrapped")
	}
	if out["names"] == nil {
		t.Fatalf("out = %v", out)
	}
	if f.lastAggs["names"] == nil {
		t.Fatalf("aggregation tree not forwarded: %v", f.lastAggs)
	}
}

// --- ACL ---

func TestViewACLDenied(t *testing.T) {
	deny := func(_ *domain.User, action string) bool { return action != ActionDelete }
	v := testView(t, &mockFinder{collection: &query.Results{}}, &mockStore{delN: 1}, &mockIndexer{}, Options{ACL: deny})

	if w := doRequest(v, ActionDelete, "DELETE", "/stories/5", ""); w.Code != http.StatusForbidden {
		t.Fatalf("code = %d", w.Code)
	}
	if w := doRequest(v, ActionIndex, "GET", "/stories", ""); w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
}
