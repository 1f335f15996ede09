// Package wrappers implements the before/after pipeline that surrounds
// every view action: validation, result shaping, pagination metadata,
// ETags, field-level privacy, and public limit capping.
package wrappers

import (
	"net/http"

	"github.com/ramses-tech/nefertari/internal/domain"
	"github.com/ramses-tech/nefertari/internal/params"
)

// Context carries the per-request state the pipeline operates on.
type Context struct {
	Request *http.Request
	// Header is the response header, for wrappers that set ETag.
	Header http.Header
	// Params merges query parameters with the parsed JSON body.
	Params params.Params
	// Body holds only the parsed JSON body fields, for actions that
	// must tell update fields apart from query filters.
	Body   params.Params
	User   *domain.User
	Action string
	// TypeName is the model served by the current view.
	TypeName string
	// PKField is the model's primary key field; empty means "id".
	PKField string
}

// pkField returns the primary key field the shaping wrappers key on.
func (c *Context) pkField() string {
	if c.PKField == "" {
		return "id"
	}
	return c.PKField
}

// Before runs ahead of the action and may mutate the params.
type Before func(c *Context) error

// After transforms the action result before rendering.
type After func(c *Context, result any) (any, error)

// Confirmation is returned by destructive bulk actions that were called
// without __confirmation; AddConfirmationURL shapes it for the client.
type Confirmation struct {
	Count int
}
