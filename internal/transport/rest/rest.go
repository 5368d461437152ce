// Package rest implements the remote HTTP surface spec §6.2 names: a fixed
// route table over the same transport.Dispatcher internal/transport/jsonrpc
// uses for its tool calls, so both surfaces validate requests and map
// errors identically (spec §7). Handler style (RegisterRoutes(*http.ServeMux),
// a writeError helper, Content-Type/status/json.Encode per handler) follows
// internal/health/http.go.
package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/auth"
	"github.com/shannon-memory/core/internal/authgate"
	"github.com/shannon-memory/core/internal/memcore"
	"github.com/shannon-memory/core/internal/memerr"
	"github.com/shannon-memory/core/internal/metrics"
	"github.com/shannon-memory/core/internal/transport"
)

// Handler serves the REST route table over a transport.Dispatcher.
type Handler struct {
	dispatcher *transport.Dispatcher
	gate       *authgate.Gate
	logger     *zap.Logger
}

// NewHandler constructs a Handler. gate may be nil, in which case every
// request resolves to the X-User-ID header (or internal/auth.DefaultUserID
// if absent) with no scope/role enforcement — used for local single-tenant
// deployments that don't run internal/auth at all.
func NewHandler(dispatcher *transport.Dispatcher, gate *authgate.Gate, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{dispatcher: dispatcher, gate: gate, logger: logger}
}

// RegisterRoutes mounts every route spec §6.2 names on mux. The AuthGate's
// HTTPMiddleware (when gate is non-nil) is expected to wrap mux upstream of
// these handlers, the way internal/auth.Middleware's doc comment names
// internal/transport/rest as a consumer; RegisterRoutes itself only reads
// the *auth.UserContext HTTPMiddleware already attached.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/memory", h.handleMemoryCollection)
	mux.HandleFunc("/api/v1/memory/", h.handleMemoryItem)
	mux.HandleFunc("/api/v1/recall", h.handleRecall)
	mux.HandleFunc("/api/v1/search", h.handleSearch)
	mux.HandleFunc("/api/v1/graph/interaction", h.handleGraphInteraction)
	mux.HandleFunc("/api/v1/graph/pattern/", h.handleGraphPattern)
}

func (h *Handler) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		h.writeError(w, r.URL.Path, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func (h *Handler) userID(r *http.Request) string {
	var uc *auth.UserContext
	if h.gate != nil {
		uc = h.gate.Identify(r.Context())
	}
	return transport.ResolveUserID(uc, r.Header.Get(transport.UserIDHeader))
}

func (h *Handler) checkAllowed(w http.ResponseWriter, r *http.Request, tool string) bool {
	if h.gate == nil {
		return true
	}
	allowed, err := h.gate.CanInvoke(r.Context(), tool)
	if err != nil {
		h.writeError(w, r.URL.Path, http.StatusInternalServerError, err.Error())
		return false
	}
	if !allowed {
		metrics.ToolInvocationsDenied.WithLabelValues(tool).Inc()
		h.writeError(w, r.URL.Path, http.StatusForbidden, "operation not permitted for this caller")
		return false
	}
	return true
}

// call dispatches through the shared Dispatcher, recording transport
// metrics and writing either the JSON result or a mapped error response.
func (h *Handler) call(w http.ResponseWriter, r *http.Request, tool string, params any) {
	if !h.checkAllowed(w, r, tool) {
		return
	}
	raw, err := json.Marshal(params)
	if err != nil {
		h.writeError(w, r.URL.Path, http.StatusBadRequest, "invalid request body")
		return
	}
	start := time.Now()
	result, err := h.dispatcher.Call(r.Context(), h.userID(r), tool, raw)
	metrics.TransportRequestLatency.WithLabelValues("rest", r.URL.Path).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.TransportRequests.WithLabelValues("rest", r.URL.Path, status).Inc()

	if err != nil {
		h.writeError(w, r.URL.Path, memerr.HTTPStatus(memerr.CodeOf(err)), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// --- /api/v1/memory ---

func (h *Handler) handleMemoryCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var body struct {
			AgentName  string        `json:"agent_name"`
			Key        string        `json:"key"`
			Value      any           `json:"value"`
			Scope      memcore.Scope `json:"scope"`
			Tags       []string      `json:"tags"`
			Importance float64       `json:"importance"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeError(w, r.URL.Path, http.StatusBadRequest, "invalid request body")
			return
		}
		h.call(w, r, "memory_store", body)
	case http.MethodGet:
		h.call(w, r, "memory_list", struct {
			AgentName string        `json:"agent_name"`
			Scope     memcore.Scope `json:"scope"`
			Limit     int           `json:"limit"`
		}{
			AgentName: r.URL.Query().Get("agent_name"),
			Scope:     memcore.Scope(r.URL.Query().Get("scope")),
			Limit:     queryInt(r, "limit", 100),
		})
	default:
		h.writeError(w, r.URL.Path, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- /api/v1/memory/{key} ---

func (h *Handler) handleMemoryItem(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/api/v1/memory/")
	if key == "" {
		h.writeError(w, r.URL.Path, http.StatusBadRequest, "missing memory key")
		return
	}
	agentName := r.URL.Query().Get("agent_name")

	switch r.Method {
	case http.MethodGet:
		h.call(w, r, "memory_fetch", struct {
			AgentName string `json:"agent_name"`
			Key       string `json:"key"`
		}{AgentName: agentName, Key: key})
	case http.MethodDelete:
		h.call(w, r, "memory_delete", struct {
			AgentName string        `json:"agent_name"`
			Key       string        `json:"key"`
			Scope     memcore.Scope `json:"scope"`
		}{AgentName: agentName, Key: key, Scope: memcore.Scope(r.URL.Query().Get("scope"))})
	default:
		h.writeError(w, r.URL.Path, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- /api/v1/recall ---

func (h *Handler) handleRecall(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	var body struct {
		AgentName string        `json:"agent_name"`
		Query     string        `json:"query"`
		K         int           `json:"k"`
		Scope     memcore.Scope `json:"scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r.URL.Path, http.StatusBadRequest, "invalid request body")
		return
	}
	h.call(w, r, "memory_recall", body)
}

// --- /api/v1/search ---

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	h.call(w, r, "memory_search", struct {
		AgentName string `json:"agent_name"`
		Query     string `json:"q"`
		Limit     int    `json:"limit"`
	}{
		AgentName: q.Get("agent_name"),
		Query:     q.Get("q"),
		Limit:     queryInt(r, "limit", 20),
	})
}

// --- /api/v1/graph/interaction ---

func (h *Handler) handleGraphInteraction(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	var body struct {
		Query    string         `json:"query"`
		Response string         `json:"response"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r.URL.Path, http.StatusBadRequest, "invalid request body")
		return
	}
	h.call(w, r, "memory_record_interaction", body)
}

// --- /api/v1/graph/pattern/{user_id} ---

func (h *Handler) handleGraphPattern(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodGet) {
		return
	}
	pathUser := strings.TrimPrefix(r.URL.Path, "/api/v1/graph/pattern/")
	if pathUser == "" {
		h.writeError(w, r.URL.Path, http.StatusBadRequest, "missing user_id")
		return
	}
	// The path segment names the user to read a pattern for directly,
	// unlike every other route, which derives user_id from the caller's
	// own identity/header override. CanInvoke still gates the tool.
	if !h.checkAllowed(w, r, "memory_get_user_pattern") {
		return
	}
	start := time.Now()
	raw, _ := json.Marshal(struct{}{})
	result, err := h.dispatcher.Call(r.Context(), pathUser, "memory_get_user_pattern", raw)
	metrics.TransportRequestLatency.WithLabelValues("rest", r.URL.Path).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.TransportRequests.WithLabelValues("rest", r.URL.Path, status).Inc()
	if err != nil {
		h.writeError(w, r.URL.Path, memerr.HTTPStatus(memerr.CodeOf(err)), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, path string, statusCode int, message string) {
	h.writeJSON(w, statusCode, map[string]any{
		"error":     message,
		"path":      path,
		"timestamp": time.Now().Unix(),
	})
}
