// Package transport defines the streaming writer contract and the HTTP
// middleware chain shared by the kbqa HTTP/SSE transport.
//
// # Stream Writer
//
// StreamWriter abstracts the Server-Sent-Events output of a streamed
// answer so the orchestrator can emit events without knowing the
// underlying connection.
//
// # Middleware
//
// Built-in middleware provides panic recovery, request ID assignment
// (X-Request-ID), processing time reporting (X-Process-Time) and
// structured logging via log/slog. Middleware has the shape of
// func(http.Handler) http.Handler so it plugs directly into the router.
//
// # In-flight Streams
//
// InFlightRegistry tracks open SSE streams so they can be cancelled on
// shutdown instead of holding the server open until clients disconnect.
package transport
