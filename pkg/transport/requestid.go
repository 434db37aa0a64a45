package transport

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

// Response headers set by RequestID.
const (
	HeaderRequestID   = "X-Request-ID"
	HeaderProcessTime = "X-Process-Time"
)

// RequestID returns middleware that assigns a unique request ID to each
// request. If the client sent an X-Request-ID header, that value is used.
// Otherwise, a new unique ID is generated.
//
// The request ID is stored in the context (see RequestIDFromContext) and
// echoed in the X-Request-ID response header together with X-Process-Time,
// the seconds elapsed until the response headers were written.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get(HeaderRequestID)
			if id == "" {
				id = generateRequestID()
			}
			r = r.WithContext(ContextWithRequestID(r.Context(), id))

			rec := recorderFor(w)
			rec.beforeHeader = append(rec.beforeHeader, func(h http.Header) {
				h.Set(HeaderRequestID, id)
				h.Set(HeaderProcessTime, strconv.FormatFloat(time.Since(start).Seconds(), 'f', 6, 64))
			})
			next.ServeHTTP(rec, r)

			// Handlers that never write still get the headers.
			if !rec.wroteHeader {
				rec.WriteHeader(http.StatusOK)
			}
		})
	}
}

// generateRequestID creates a new unique request ID as a hex string.
func generateRequestID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
