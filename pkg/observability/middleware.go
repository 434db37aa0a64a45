package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// MetricsMiddleware records kbqa_requests_total and
// kbqa_request_duration_seconds for every request, labelled by the matched
// mux path template so path variables do not inflate cardinality. While a
// handler is serving a text/event-stream response,
// kbqa_streaming_connections_active is raised by one.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := RouteTemplate(r)
		rw := &meteredWriter{ResponseWriter: w}

		defer func() {
			if rw.streaming {
				StreamingConnections.Dec()
			}
			RequestsTotal.WithLabelValues(r.Method, statusClass(rw.code()), route).Inc()
			RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}()

		next.ServeHTTP(rw, r)
	})
}

// RouteTemplate returns the mux path template that matched r, or
// "unknown" outside a mux router.
func RouteTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unknown"
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// meteredWriter remembers the status code and notices when the response
// turns into an event stream.
type meteredWriter struct {
	http.ResponseWriter
	status    int
	streaming bool
}

func (w *meteredWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *meteredWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
		if strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream") {
			w.streaming = true
			StreamingConnections.Inc()
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *meteredWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer for
// flushing and deadlines.
func (w *meteredWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
