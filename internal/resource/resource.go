// Package resource builds the declarative routing tree and registers
// its REST endpoints on a chi router. Nodes are created during startup
// and never mutated afterwards.
package resource

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ramses-tech/nefertari/internal/view"
)

// Options describe one node added to the tree.
type Options struct {
	// MemberName is the singular name, e.g. "story".
	MemberName string
	// CollectionName is the plural route segment; empty marks a
	// singular resource.
	CollectionName string
	// Prefix is an extra path segment ahead of the resource.
	Prefix string
	// IDName is the URL placeholder for item ids, defaulting to
	// "<member>_id".
	IDName string
	// View serves the resource's actions; nil registers no routes.
	View *view.View
	// UID overrides the generated tree identifier.
	UID string
}

// Resource is one node of the routing tree.
type Resource struct {
	MemberName     string
	CollectionName string
	Prefix         string
	IDName         string
	UID            string
	Parent         *Resource
	View           *view.View

	children []*Resource
}

// IsSingular reports whether the resource has no collection routes.
func (r *Resource) IsSingular() bool { return r.CollectionName == "" }

// Children returns the direct child nodes.
func (r *Resource) Children() []*Resource { return r.children }

// basePath joins the ancestor segments: singular ancestors contribute
// their member name, plural ones contribute collection/{id_name}.
func (r *Resource) basePath() string {
	if r.Parent == nil {
		return ""
	}
	base := r.Parent.basePath()
	p := r.Parent
	if p.MemberName == "" {
		return base
	}
	if p.IsSingular() {
		return join(base, p.Prefix, p.MemberName)
	}
	return join(base, p.Prefix, p.CollectionName, "{"+p.IDName+"}")
}

// CollectionPath is the route of the collection endpoints, or of the
// member itself for singular resources.
func (r *Resource) CollectionPath() string {
	if r.IsSingular() {
		return "/" + join(r.basePath(), r.Prefix, r.MemberName)
	}
	return "/" + join(r.basePath(), r.Prefix, r.CollectionName)
}

// ItemPath is the route of the item endpoints.
func (r *Resource) ItemPath() string {
	return r.CollectionPath() + "/{" + r.IDName + "}"
}

// RouteName is the resource's name prefixed by its ancestors' member
// names.
func (r *Resource) RouteName() string {
	var parts []string
	for p := r.Parent; p != nil && p.MemberName != ""; p = p.Parent {
		parts = append([]string{p.MemberName}, parts...)
	}
	name := r.MemberName
	if !r.IsSingular() {
		name = r.CollectionName
	}
	if len(parts) == 0 {
		return name
	}
	return strings.Join(parts, "_") + ":" + name
}

// Tree holds the resource nodes, indexed by uid and by model type.
type Tree struct {
	root   *Resource
	byUID  map[string]*Resource
	byType map[string]*Resource
	logger *zap.Logger
}

// NewTree creates an empty tree.
func NewTree(logger *zap.Logger) *Tree {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tree{
		root:   &Resource{},
		byUID:  make(map[string]*Resource),
		byType: make(map[string]*Resource),
		logger: logger,
	}
}

// Add creates a node under parent (nil for the root). Duplicate uids
// are an error.
func (t *Tree) Add(parent *Resource, opts Options) (*Resource, error) {
	if opts.MemberName == "" {
		return nil, fmt.Errorf("resource needs a member name")
	}
	if parent == nil {
		parent = t.root
	}

	uid := opts.UID
	if uid == "" {
		uid = joinUID(parent.UID, opts.Prefix, opts.MemberName)
	}
	if _, dup := t.byUID[uid]; dup {
		return nil, fmt.Errorf("resource %q already in tree", uid)
	}

	idName := opts.IDName
	if idName == "" {
		idName = opts.MemberName + "_id"
	}

	res := &Resource{
		MemberName:     opts.MemberName,
		CollectionName: opts.CollectionName,
		Prefix:         opts.Prefix,
		IDName:         idName,
		UID:            uid,
		Parent:         parent,
		View:           opts.View,
	}
	parent.children = append(parent.children, res)
	t.byUID[uid] = res
	if res.View != nil {
		t.byType[res.View.TypeName()] = res
	}
	return res, nil
}

// MustAdd adds a node or panics. Intended for startup wiring.
func (t *Tree) MustAdd(parent *Resource, opts Options) *Resource {
	res, err := t.Add(parent, opts)
	if err != nil {
		panic(err)
	}
	return res
}

// Get looks a node up by uid.
func (t *Tree) Get(uid string) (*Resource, bool) {
	res, ok := t.byUID[uid]
	return res, ok
}

// ItemURL resolves the canonical URL of an item by model type. Nested
// resources need parent ids from the request and resolve to false here.
func (t *Tree) ItemURL(typeName, id string) (string, bool) {
	res, ok := t.byType[typeName]
	if !ok || res.IsSingular() {
		return "", false
	}
	for p := res.Parent; p != nil; p = p.Parent {
		if !p.IsSingular() && p.MemberName != "" {
			return "", false
		}
	}
	return res.CollectionPath() + "/" + id, true
}

// Register mounts every resource's routes on the router: collection
// index/create/update_many/delete_many, item show/replace/update/
// delete, plus OPTIONS advertising the allowed methods.
func (t *Tree) Register(router chi.Router) {
	t.register(router, t.root)
}

func (t *Tree) register(router chi.Router, node *Resource) {
	if node.View != nil {
		t.mount(router, node)
	}
	for _, child := range node.children {
		t.register(router, child)
	}
}

func (t *Tree) mount(router chi.Router, res *Resource) {
	v := res.View
	item := res.ItemPath()

	if res.IsSingular() {
		member := res.CollectionPath()
		router.Get(member, v.Handle(view.ActionShow))
		router.Put(member, v.Handle(view.ActionReplace))
		router.Patch(member, v.Handle(view.ActionUpdate))
		router.Delete(member, v.Handle(view.ActionDelete))
		router.Options(member, allowHandler("GET", "PUT", "PATCH", "DELETE", "OPTIONS"))
		t.logger.Debug("mounted singular resource",
			zap.String("uid", res.UID), zap.String("path", member))
		return
	}

	coll := res.CollectionPath()
	router.Get(coll, v.Handle(view.ActionIndex))
	router.Post(coll, v.Handle(view.ActionCreate))
	router.Put(coll, v.Handle(view.ActionUpdateMany))
	router.Patch(coll, v.Handle(view.ActionUpdateMany))
	router.Delete(coll, v.Handle(view.ActionDeleteMany))
	router.Options(coll, allowHandler("GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"))

	router.Get(item, v.Handle(view.ActionShow))
	router.Put(item, v.Handle(view.ActionReplace))
	router.Patch(item, v.Handle(view.ActionUpdate))
	router.Delete(item, v.Handle(view.ActionDelete))
	router.Options(item, allowHandler("GET", "PUT", "PATCH", "DELETE", "OPTIONS"))

	t.logger.Debug("mounted resource",
		zap.String("uid", res.UID),
		zap.String("collection", coll),
		zap.String("item", item))
}

// RegisterPolymorphic mounts GET /{a,b,...}. The pattern requires at
// least one comma so static collection routes keep precedence.
func (t *Tree) RegisterPolymorphic(router chi.Router, pv *view.PolymorphicView) {
	router.Get("/{collections:[a-zA-Z0-9_-]+(?:,[a-zA-Z0-9_-]+)+}", pv.Handle())
}

// PolyMembers assembles the polymorphic member set from every plural
// resource carrying a view, keyed by collection name.
func (t *Tree) PolyMembers() map[string]view.PolyMember {
	members := make(map[string]view.PolyMember)
	for _, res := range t.byUID {
		if res.View == nil {
			continue
		}
		key := res.CollectionName
		if res.IsSingular() {
			key = res.MemberName
		}
		members[key] = view.PolyMember{
			Info:     res.View.ModelInfo(),
			ACL:      res.View.AccessControl(),
			Singular: res.IsSingular(),
		}
	}
	return members
}

func allowHandler(methods ...string) http.HandlerFunc {
	allow := strings.Join(methods, ", ")
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Allow", allow)
		w.WriteHeader(http.StatusOK)
	}
}

func join(segments ...string) string {
	var parts []string
	for _, s := range segments {
		if s != "" {
			parts = append(parts, strings.Trim(s, "/"))
		}
	}
	return strings.Join(parts, "/")
}

func joinUID(segments ...string) string {
	var parts []string
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ":")
}
