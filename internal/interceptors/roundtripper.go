// Package interceptors provides HTTP round trippers shared by the memory
// core's outbound clients (embeddings, vector index) for request
// correlation and deadline propagation.
package interceptors

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shannon-memory/core/internal/tracing"
)

// requestIDContextKey carries a caller-supplied request ID through a call
// chain so it can be echoed onto outbound requests.
type requestIDContextKey struct{}

// RequestIDRoundTripper stamps every outgoing HTTP request with an
// X-Request-ID (generated if the context carries none), the remaining
// deadline in milliseconds, and a W3C traceparent header, so downstream
// embedding/vector-index calls are correlatable with the recall operation
// that issued them.
type RequestIDRoundTripper struct {
	base http.RoundTripper
}

// NewRequestIDRoundTripper creates an HTTP interceptor that adds request
// correlation headers. Pass nil for base to wrap http.DefaultTransport.
func NewRequestIDRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RequestIDRoundTripper{base: base}
}

// RoundTrip implements http.RoundTripper.
func (rt *RequestIDRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	reqID, _ := req.Context().Value(requestIDContextKey{}).(string)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", reqID)

	tracing.InjectTraceparent(req.Context(), req)

	if deadline, ok := req.Context().Deadline(); ok {
		remaining := time.Until(deadline).Milliseconds()
		if remaining < 0 {
			remaining = 0
		}
		req.Header.Set("X-Deadline-Ms", strconv.FormatInt(remaining, 10))
	}

	return rt.base.RoundTrip(req)
}
