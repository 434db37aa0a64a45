// Package openaicompat implements the provider.Dialect for any
// OpenAI-compatible Chat Completions backend (DeepSeek, Qwen/DashScope,
// OpenAI). It handles payload serialization, "data:"-prefixed SSE chunk
// parsing and error body extraction.
package openaicompat
