package wrappers

import (
	"github.com/ramses-tech/nefertari/internal/domain"
	"github.com/ramses-tech/nefertari/internal/model"
)

// alwaysKept survive privacy filtering for every caller.
var alwaysKept = map[string]bool{
	"_pk":          true,
	SelfKey:        true,
	domain.TypeKey: true,
}

// ApplyPrivacy strips fields the caller is not allowed to see. Admins
// see everything, authenticated users the model's AuthFields, anonymous
// callers its PublicFields. dropHidden additionally removes the
// HiddenFields even for admins. Nested documents carrying a _type are
// filtered against their own model.
func ApplyPrivacy(registry *model.Registry, dropHidden bool) After {
	return func(c *Context, result any) (any, error) {
		out, ok := asMap(result)
		if !ok {
			return result, nil
		}
		if data, has := out["data"].([]domain.Document); has {
			for i, item := range data {
				data[i] = filterDoc(registry, c.User, dropHidden, c.TypeName, item)
			}
			return out, nil
		}
		return map[string]any(filterDoc(registry, c.User, dropHidden, c.TypeName, domain.Document(out))), nil
	}
}

func filterDoc(registry *model.Registry, user *domain.User, dropHidden bool, fallbackType string, doc domain.Document) domain.Document {
	info, ok := registry.Resolve(doc.Type(fallbackType))
	if !ok {
		return doc
	}

	allowed := allowedFields(info, user)
	hidden := make(map[string]bool, len(info.HiddenFields))
	if dropHidden {
		for _, f := range info.HiddenFields {
			hidden[f] = true
		}
	}

	out := make(domain.Document, len(doc))
	for k, v := range doc {
		if hidden[k] {
			continue
		}
		if !alwaysKept[k] && allowed != nil && !allowed[k] {
			continue
		}
		out[k] = filterNested(registry, user, dropHidden, v)
	}
	return out
}

// allowedFields returns nil when every field is visible.
func allowedFields(info model.Info, user *domain.User) map[string]bool {
	if user.IsAdmin() {
		return nil
	}
	names := info.PublicFields
	if user != nil {
		names = info.AuthFields
	}
	out := make(map[string]bool, len(names))
	for _, f := range names {
		out[f] = true
	}
	return out
}

func filterNested(registry *model.Registry, user *domain.User, dropHidden bool, v any) any {
	switch t := v.(type) {
	case domain.Document:
		if _, typed := t[domain.TypeKey]; typed {
			return filterDoc(registry, user, dropHidden, "", t)
		}
	case map[string]any:
		if _, typed := t[domain.TypeKey]; typed {
			return map[string]any(filterDoc(registry, user, dropHidden, "", domain.Document(t)))
		}
	case []domain.Document:
		for i, d := range t {
			if _, typed := d[domain.TypeKey]; typed {
				t[i] = filterDoc(registry, user, dropHidden, "", d)
			}
		}
	case []any:
		for i, e := range t {
			t[i] = filterNested(registry, user, dropHidden, e)
		}
	}
	return v
}
