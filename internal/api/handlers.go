/**
 * @description
 * This file contains the shared pieces of the disbursement-service's HTTP handlers.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the engine.
 *
 * Engine errors carry a domain.Kind; writeServiceError is the single place that maps
 * kinds onto HTTP statuses.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: For route parameters.
 * - go.uber.org/zap: request-scoped error logging.
 * - internal/app, internal/domain: For service logic, models, and error kinds.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/app"
	"github.com/transfa/disbursement-service/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	maxBodyBytes    = 1 << 20
)

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service *app.Service
	logger  *zap.Logger
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service *app.Service, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{service: service, logger: logger.Named("api")}
}

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error  string            `json:"error"`
	Kind   domain.Kind       `json:"kind,omitempty"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

var kindStatus = map[domain.Kind]int{
	domain.KindNotFound:           http.StatusNotFound,
	domain.KindInvalidInput:       http.StatusBadRequest,
	domain.KindInvalidAmount:      http.StatusBadRequest,
	domain.KindUnsupportedAsset:   http.StatusBadRequest,
	domain.KindInvalidCredential:  http.StatusBadRequest,
	domain.KindInsufficientFunds:  http.StatusPaymentRequired,
	domain.KindInvalidState:       http.StatusConflict,
	domain.KindDuplicateApproval:  http.StatusConflict,
	domain.KindConflict:           http.StatusConflict,
	domain.KindRejected:           http.StatusUnprocessableEntity,
	domain.KindInvariantViolation: http.StatusLocked,
	domain.KindAccountLoadError:   http.StatusBadGateway,
	domain.KindRetryable:          http.StatusServiceUnavailable,
	domain.KindTimeout:            http.StatusGatewayTimeout,
	domain.KindInternal:           http.StatusInternalServerError,
}

// statusForKind maps an engine error kind onto an HTTP status.
func statusForKind(kind domain.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeServiceError translates an engine error into an HTTP response. Internal
// details are logged and never returned to the client.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("endpoint", endpoint),
			zap.String("method", r.Method),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
	if kind == domain.KindInternal {
		writeJSON(w, status, errorResponse{Error: "Internal server error", Kind: kind})
		return
	}

	resp := errorResponse{Error: err.Error(), Kind: kind}
	if de, ok := domain.AsError(err); ok {
		if de.Message != "" {
			resp.Error = de.Message
		}
		resp.Code = de.Code
		resp.Fields = de.Fields
	}
	writeJSON(w, status, resp)
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// decodeJSON decodes a bounded request body into dst. An empty body leaves dst zero.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		if de, ok := domain.AsError(err); ok {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: de.Message, Kind: de.Kind})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// pathUUID parses the named chi URL parameter.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+name+" format")
		return uuid.Nil, false
	}
	return id, true
}

// queryUUID parses an optional UUID query parameter.
func queryUUID(w http.ResponseWriter, r *http.Request, name string) (*uuid.UUID, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+name+" format")
		return nil, false
	}
	return &id, true
}

// pagination reads limit and offset, clamping limit to (0, maxPageSize].
func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	return limit, offset
}

// actorFor resolves who performs an action: the authenticated subject when present,
// otherwise the identity supplied in the request body.
func actorFor(r *http.Request, fromBody string) (string, bool) {
	if actor, ok := GetActorID(r.Context()); ok {
		return actor, true
	}
	actor := strings.TrimSpace(fromBody)
	return actor, actor != ""
}

// HealthHandler reports liveness.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
