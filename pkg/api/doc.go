// Package api defines the data types shared by the kbqa gateway: chat
// messages, retrieval results, cached answers, the request and response
// bodies of the HTTP surface, and the structured APIError envelope.
//
// The package performs no I/O and depends only on the standard library.
//
// Core types:
//   - [ChatMessage]: a single role/content pair sent to an LLM backend
//   - [SearchResult]: one ranked snippet returned by the retriever
//   - [CachedAnswer]: an answer persisted by the answer cache
//   - [ChatRequest] / [ChatResponse]: the buffered question/answer exchange
//   - [APIError]: structured error with type, code, param, and message
package api
