package resource

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ramses-tech/nefertari/internal/model"
	"github.com/ramses-tech/nefertari/internal/view"
)

func testTree(t *testing.T) (*Tree, *Resource) {
	t.Helper()
	tree := NewTree(zap.NewNop())
	stories, err := tree.Add(nil, Options{
		MemberName:     "story",
		CollectionName: "stories",
		View:           storyView(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	return tree, stories
}

func storyView(t *testing.T) *view.View {
	t.Helper()
	reg := model.NewRegistry()
	reg.MustRegister(model.Info{Name: "Story", IndexEnabled: true})
	info, _ := reg.Resolve("story")
	return view.New(info, reg, nil, nil, nil, view.Options{IDName: "story_id"})
}

func TestAddDuplicateUID(t *testing.T) {
	tree, _ := testTree(t)
	_, err := tree.Add(nil, Options{MemberName: "story", CollectionName: "stories"})
	if err == nil {
		t.Fatal("want duplicate uid error")
	}
}

func TestPaths(t *testing.T) {
	tree, stories := testTree(t)
	if got := stories.CollectionPath(); got != "/stories" {
		t.Fatalf("collection path = %q", got)
	}
	if got := stories.ItemPath(); got != "/stories/{story_id}" {
		t.Fatalf("item path = %q", got)
	}

	comments, err := tree.Add(stories, Options{MemberName: "comment", CollectionName: "comments"})
	if err != nil {
		t.Fatal(err)
	}
	if got := comments.CollectionPath(); got != "/stories/{story_id}/comments" {
		t.Fatalf("nested collection path = %q", got)
	}
	if comments.UID != "story:comment" {
		t.Fatalf("uid = %q", comments.UID)
	}
	if comments.RouteName() != "story:comments" {
		t.Fatalf("route name = %q", comments.RouteName())
	}
}

func TestSingularAncestorPath(t *testing.T) {
	tree := NewTree(nil)
	profile, err := tree.Add(nil, Options{MemberName: "profile"})
	if err != nil {
		t.Fatal(err)
	}
	if !profile.IsSingular() {
		t.Fatal("no collection name means singular")
	}
	settings, err := tree.Add(profile, Options{MemberName: "setting", CollectionName: "settings"})
	if err != nil {
		t.Fatal(err)
	}
	if got := settings.CollectionPath(); got != "/profile/settings" {
		t.Fatalf("path = %q; singular ancestors contribute only their member name", got)
	}
}

func TestItemURL(t *testing.T) {
	tree, stories := testTree(t)
	u, ok := tree.ItemURL("story", "7")
	if !ok || u != "/stories/7" {
		t.Fatalf("url = %q ok = %v", u, ok)
	}

	reg := model.NewRegistry()
	reg.MustRegister(model.Info{Name: "Comment"})
	info, _ := reg.Resolve("comment")
	cv := view.New(info, reg, nil, nil, nil, view.Options{})
	if _, err := tree.Add(stories, Options{MemberName: "comment", CollectionName: "comments", View: cv}); err != nil {
		t.Fatal(err)
	}
	if _, ok := tree.ItemURL("comment", "1"); ok {
		t.Fatal("nested item URLs need parent ids and must not resolve")
	}
	if _, ok := tree.ItemURL("unknown", "1"); ok {
		t.Fatal("unregistered types must not resolve")
	}
}

func TestRegisterOptions(t *testing.T) {
	tree, _ := testTree(t)
	router := chi.NewRouter()
	tree.Register(router)

	req := httptest.NewRequest("OPTIONS", "/stories", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	allow := w.Header().Get("Allow")
	for _, m := range []string{"GET", "POST", "PUT", "PATCH", "DELETE"} {
		if !strings.Contains(allow, m) {
			t.Fatalf("Allow = %q missing %s", allow, m)
		}
	}

	req = httptest.NewRequest("OPTIONS", "/stories/5", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if strings.Contains(w.Header().Get("Allow"), "POST") {
		t.Fatalf("item Allow = %q must not offer POST", w.Header().Get("Allow"))
	}
}

func TestPolyMembers(t *testing.T) {
	tree, _ := testTree(t)
	members := tree.PolyMembers()
	m, ok := members["stories"]
	if !ok || m.Singular || m.Info.TypeName() != "story" {
		t.Fatalf("members = %+v", members)
	}
}

func TestPolymorphicRoutePattern(t *testing.T) {
	tree, _ := testTree(t)
	router := chi.NewRouter()
	tree.Register(router)

	reg := model.NewRegistry()
	pv := view.NewPolymorphic(nil, reg, nil, view.Options{})
	tree.RegisterPolymorphic(router, pv)

	// Comma lists reach the polymorphic handler; with no members
	// registered it answers 404 with the JSON envelope.
	req := httptest.NewRequest("GET", "/a,b", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "status_code") {
		t.Fatalf("code = %d body = %q", w.Code, w.Body.String())
	}

	// A single segment without a comma never matches the pattern.
	req = httptest.NewRequest("GET", "/nope", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if strings.Contains(w.Body.String(), "status_code") {
		t.Fatal("plain segments must not reach the polymorphic handler")
	}
}
