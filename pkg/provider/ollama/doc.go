// Package ollama implements the provider.Dialect for a local Ollama
// server's native /api/chat endpoint, which streams newline-delimited JSON
// objects instead of SSE.
package ollama
