package wrappers

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/ramses-tech/nefertari/internal/domain"
	"github.com/ramses-tech/nefertari/internal/proxy"
	"github.com/ramses-tech/nefertari/internal/query"
)

// Result keys set by the shaping wrappers.
const (
	SelfKey    = "_self"
	VersionKey = "_version"
)

// URLBuilder resolves the canonical URL of an item by model type and
// id, using the resource tree's routes. ok is false for models without
// a registered resource.
type URLBuilder func(typeName, id string) (string, bool)

// WrapInDict folds a decorated result list into {data: [...]} merged
// with its search metadata. Maps pass through unchanged.
func WrapInDict(_ *Context, result any) (any, error) {
	switch r := result.(type) {
	case *query.Results:
		out := map[string]any{
			"data":  r.Items,
			"total": r.Total,
			"start": r.Start,
			"took":  r.Took,
		}
		if len(r.Fields) > 0 {
			out["fields"] = r.Fields
		}
		return out, nil
	case []domain.Document:
		return map[string]any{"data": r}, nil
	case *proxy.Proxy:
		// Custom handlers may return proxy trees; render them here so
		// the rest of the chain sees a plain map.
		return r.ToDict(nil, proxy.DefaultDepth), nil
	default:
		return result, nil
	}
}

// asMap unifies the two mapping shapes results travel as.
func asMap(result any) (map[string]any, bool) {
	switch t := result.(type) {
	case map[string]any:
		return t, true
	case domain.Document:
		return t, true
	}
	return nil, false
}

// AddMeta sets count and a _self link on every item that lacks one,
// derived from the request URL and the item id.
func AddMeta(c *Context, result any) (any, error) {
	out, ok := asMap(result)
	if !ok {
		return result, nil
	}
	data, ok := out["data"].([]domain.Document)
	if !ok {
		return result, nil
	}

	out["count"] = len(data)
	base := strings.TrimSuffix(c.Request.URL.Path, "/")
	for _, item := range data {
		if _, has := item[SelfKey]; has {
			continue
		}
		id := item.PK(c.pkField())
		if id == "" {
			continue
		}
		item[SelfKey] = base + "/" + url.PathEscape(id)
	}
	return out, nil
}

// AddObjectURL overrides _self with the canonical route URL from the
// resource tree, resolved per item type.
func AddObjectURL(build URLBuilder) After {
	return func(c *Context, result any) (any, error) {
		out, ok := asMap(result)
		if !ok {
			return result, nil
		}
		if data, ok := out["data"].([]domain.Document); ok {
			for _, item := range data {
				setObjectURL(c, build, item)
			}
			return out, nil
		}
		setObjectURL(c, build, domain.Document(out))
		return out, nil
	}
}

func setObjectURL(c *Context, build URLBuilder, item domain.Document) {
	id := item.PK(c.pkField())
	if id == "" {
		return
	}
	typeName := item.Type(c.TypeName)
	if u, ok := build(typeName, id); ok {
		item[SelfKey] = u
	}
}

// AddETag hashes version+id across all items into the response ETag.
func AddETag(c *Context, result any) (any, error) {
	items := itemsOf(result)
	if len(items) == 0 {
		return result, nil
	}

	var sb strings.Builder
	for _, item := range items {
		if v, ok := item[VersionKey]; ok {
			sb.WriteString(domain.Stringify(v))
		}
		if id := item.PK(c.pkField()); id != "" {
			sb.WriteString(id)
		}
	}
	if sb.Len() == 0 {
		return result, nil
	}

	sum := md5.Sum([]byte(sb.String()))
	if c.Header != nil {
		c.Header.Set("ETag", `"`+hex.EncodeToString(sum[:])+`"`)
	}
	return result, nil
}

func itemsOf(result any) []domain.Document {
	out, ok := asMap(result)
	if !ok {
		return nil
	}
	if data, ok := out["data"].([]domain.Document); ok {
		return data
	}
	return []domain.Document{domain.Document(out)}
}

// AddConfirmationURL shapes an unconfirmed destructive bulk call into
// {method, count, confirmation_url}. Other results pass through.
func AddConfirmationURL(c *Context, result any) (any, error) {
	conf, ok := result.(*Confirmation)
	if !ok {
		return result, nil
	}

	u := c.Request.URL
	sep := "?"
	if u.RawQuery != "" {
		sep = "&"
	}
	return map[string]any{
		"method": c.Request.Method,
		"count":  conf.Count,
		"confirmation_url": fmt.Sprintf(
			"%s%s__confirmation&_m=%s", u.String(), sep, c.Request.Method,
		),
	}, nil
}
