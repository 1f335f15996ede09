package wrappers

import (
	"github.com/ramses-tech/nefertari/internal/query"
)

// SetPublicLimits caps the page window for anonymous callers so that
// start+limit never exceeds maxLimit. Authenticated callers pass
// through untouched.
func SetPublicLimits(maxLimit int) Before {
	return func(c *Context) error {
		if c.User != nil || maxLimit <= 0 {
			return nil
		}

		start := c.Params.AsInt(query.ParamStart, 0, false)
		limit := c.Params.AsInt(query.ParamLimit, maxLimit, false)
		if !c.Params.Has(query.ParamStart) && c.Params.Has(query.ParamPage) {
			start = c.Params.AsInt(query.ParamPage, 0, false) * limit
		}

		if start+limit > maxLimit {
			limit = maxLimit - start
			if limit < 0 {
				limit = 0
			}
		}
		c.Params[query.ParamLimit] = limit
		return nil
	}
}

// SetTotal caps the reported total for anonymous callers, so the page
// window math in clients matches what SetPublicLimits lets through.
func SetTotal(maxLimit int) After {
	return func(c *Context, result any) (any, error) {
		if c.User != nil || maxLimit <= 0 {
			return result, nil
		}
		if r, ok := result.(*query.Results); ok && r.Total > maxLimit {
			r.Total = maxLimit
		}
		return result, nil
	}
}
