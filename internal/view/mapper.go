package view

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ramses-tech/nefertari/internal/domain"
	"github.com/ramses-tech/nefertari/internal/logger"
	"github.com/ramses-tech/nefertari/internal/params"
	"github.com/ramses-tech/nefertari/internal/wrappers"
)

// Handle returns the http handler for one action, ready for route
// registration.
func (v *View) Handle(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, ok := v.handlers[action]
		if !ok {
			renderErrorStatus(w, r, http.StatusMethodNotAllowed, "unknown action "+action)
			return
		}
		if v.acl != nil && !v.acl(domain.UserFromContext(r.Context()), action) {
			renderError(w, r, v.logger, domain.ErrForbidden)
			return
		}
		serve(v.logger, v.info.TypeName(), v.info.PKField, action, h, w, r)
	}
}

// serve runs one request through the pipeline: build the context, run
// the before chain, invoke the action, run the after chain, render.
func serve(log *zap.Logger, typeName, pkField, action string, h *Handler, w http.ResponseWriter, r *http.Request) {
	ctx := logger.ContextWithLogger(r.Context(), log)

	p := params.FromQuery(r.URL.Query())
	body := parseBody(log, r)
	for k, val := range body {
		p[k] = val
	}
	p.Pop(MethodParam)

	c := &wrappers.Context{
		Request:  r,
		Header:   w.Header(),
		Params:   p,
		Body:     body,
		User:     domain.UserFromContext(ctx),
		Action:   action,
		TypeName: typeName,
		PKField:  pkField,
	}

	for _, before := range h.Before {
		if err := before(c); err != nil {
			renderError(w, r, log, err)
			return
		}
	}

	result, err := h.Fn(ctx, c)
	if err != nil {
		renderError(w, r, log, err)
		return
	}
	if raw, ok := result.(rawResult); ok {
		render(w, r, statusFor(action), raw.value)
		return
	}

	for _, after := range h.After {
		result, err = after(c, result)
		if err != nil {
			renderError(w, r, log, err)
			return
		}
	}
	render(w, r, statusFor(action), result)
}

// parseBody reads a JSON body on write methods. A malformed body is
// logged and ignored; the request continues with query params only.
func parseBody(log *zap.Logger, r *http.Request) params.Params {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil
	}
	if r.Body == nil {
		return nil
	}
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		return nil
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		log.Debug("malformed request body ignored", zap.Error(err))
		return nil
	}
	return params.Params(body)
}

func statusFor(action string) int {
	if action == ActionCreate {
		return http.StatusCreated
	}
	return http.StatusOK
}

// render negotiates the response format: text/plain on request,
// otherwise JSON.
func render(w http.ResponseWriter, r *http.Request, status int, result any) {
	if strings.HasPrefix(r.Header.Get("Accept"), "text/plain") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		if m, ok := asMessage(result); ok {
			_, _ = w.Write([]byte(m))
			return
		}
		_, _ = w.Write([]byte(domain.Stringify(result)))
		return
	}
	writeJSON(w, status, result)
}

func asMessage(result any) (string, bool) {
	m, ok := result.(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := m["message"].(string)
	return s, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
