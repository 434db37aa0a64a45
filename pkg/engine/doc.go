// Package engine implements the request orchestrator of kbqa. The Engine
// answers a question by consulting the answer cache, retrieving context
// snippets, building the generation prompt and dispatching it through the
// generation gateway, either buffered (Answer) or as an event stream
// (AnswerStream). Cache writes run in the background and never affect the
// answer returned to the caller.
package engine
