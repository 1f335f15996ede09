package view

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ramses-tech/nefertari/internal/domain"
)

// errorEnvelope is the JSON error shape every failure renders to.
type errorEnvelope struct {
	StatusCode  int    `json:"status_code"`
	Title       string `json:"title"`
	Explanation string `json:"explanation"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
	RequestURL  string `json:"request_url"`
}

var explanations = map[int]string{
	http.StatusBadRequest:          "The server could not comply with the request since it is either malformed or otherwise incorrect.",
	http.StatusUnauthorized:        "This server could not verify that you are authorized to access the document you requested.",
	http.StatusForbidden:           "Access was denied to this resource.",
	http.StatusNotFound:            "The resource could not be found.",
	http.StatusMethodNotAllowed:    "The method is not allowed for this resource.",
	http.StatusConflict:            "There was a conflict when trying to complete your request.",
	http.StatusInternalServerError: "The server has either erred or is incapable of performing the requested operation.",
}

// errorHandler tries to handle a typed error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, r *http.Request, err error) bool

// errorHandlers run in order; the first match renders the response.
var errorHandlers = []errorHandler{
	bulkErrorHandler,
	transportErrorHandler,
	sentinelHandler(domain.ErrBadParam, http.StatusBadRequest),
	sentinelHandler(domain.ErrValidation, http.StatusBadRequest),
	sentinelHandler(domain.ErrUnauthorized, http.StatusUnauthorized),
	sentinelHandler(domain.ErrForbidden, http.StatusForbidden),
	sentinelHandler(domain.ErrNotFound, http.StatusNotFound),
	sentinelHandler(domain.ErrConflict, http.StatusConflict),
}

func renderError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	for _, h := range errorHandlers {
		if h(w, r, err) {
			logClientError(log, r, err)
			return
		}
	}
	log.Error("internal error", zap.Error(err), zap.String("url", r.URL.String()))
	renderErrorStatus(w, r, http.StatusInternalServerError, "internal error")
}

// logClientError logs 4xx at warn, except 404 which stays quiet.
func logClientError(log *zap.Logger, r *http.Request, err error) {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrIndexNotFound) {
		return
	}
	log.Warn("request failed", zap.Error(err), zap.String("url", r.URL.String()))
}

func renderErrorStatus(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, errorEnvelope{
		StatusCode:  status,
		Title:       http.StatusText(status),
		Explanation: explanations[status],
		Message:     message,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		RequestURL:  r.URL.String(),
	})
}

func sentinelHandler(sentinel error, status int) errorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		renderErrorStatus(w, r, status, errorMessage(err, sentinel))
		return true
	}
}

// errorMessage strips the sentinel prefix so typed errors render their
// own text.
func errorMessage(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}

func bulkErrorHandler(w http.ResponseWriter, r *http.Request, err error) bool {
	var be *domain.BulkError
	if !errors.As(err, &be) {
		return false
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"status_code": http.StatusBadRequest,
		"title":       http.StatusText(http.StatusBadRequest),
		"explanation": explanations[http.StatusBadRequest],
		"message":     be.Error(),
		"detail":      be.Items,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"request_url": r.URL.String(),
	})
	return true
}

func transportErrorHandler(w http.ResponseWriter, r *http.Request, err error) bool {
	var te *domain.TransportError
	if !errors.As(err, &te) {
		return false
	}
	renderErrorStatus(w, r, te.Status, te.Reason)
	return true
}
