package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rhuss/kbqa/pkg/api"
	"github.com/rhuss/kbqa/pkg/logging"
	"github.com/rhuss/kbqa/pkg/provider"
	"github.com/rhuss/kbqa/pkg/retriever"
	"github.com/rhuss/kbqa/pkg/transport"
)

// AnswerStream streams the answer for req to w.
//
// The event sequence is metadata, content chunks, then [DONE]. Without
// context a single not-found event with done set is written. Any failure
// is reported as a single error event; the returned error is only non-nil
// when w itself fails or ctx is cancelled, that is, when the client is gone.
func (e *Engine) AnswerStream(ctx context.Context, req StreamRequest, w transport.StreamWriter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	requestID := transport.RequestIDFromContext(ctx)

	results, err := e.retriever.Search(ctx, req.Question, req.TopK, retriever.Filter{})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		slog.Error("stream retrieval failed", "request_id", requestID, "error", err)
		return writeError(ctx, w, err)
	}

	contextText := BuildContext(results)
	if strings.TrimSpace(contextText) == "" {
		return w.WriteEvent(ctx, api.StreamEvent{Content: NotFoundMessage, Done: true})
	}

	stream, err := e.gen.Stream(ctx, &provider.Request{
		Messages:    BuildMessages(contextText, req.Question),
		Temperature: req.Temperature,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("stream generation failed", "request_id", requestID, "error", err)
		return writeError(ctx, w, err)
	}

	err = w.WriteEvent(ctx, api.StreamEvent{
		Sources: Previews(results),
		Backend: stream.Backend(),
		Model:   stream.Model(),
	})
	if err != nil {
		return err
	}

	chunks := 0
	for ev := range stream.Events() {
		switch ev.Type {
		case provider.EventDelta:
			if ev.Delta == "" {
				continue
			}
			chunks++
			if err := w.WriteEvent(ctx, api.StreamEvent{Content: ev.Delta}); err != nil {
				return err
			}
		case provider.EventError:
			slog.Error("stream interrupted", "request_id", requestID,
				"backend", stream.Backend(), "chunks", chunks, "error", ev.Err)
			return writeError(ctx, w, ev.Err)
		case provider.EventDone:
			logging.Debug("engine", "stream complete", "request_id", requestID,
				"backend", stream.Backend(), "chunks", chunks)
			return w.WriteDone(ctx)
		}
	}

	// The channel closes without a terminal event only on cancellation.
	return ctx.Err()
}

func writeError(ctx context.Context, w transport.StreamWriter, err error) error {
	return w.WriteEvent(ctx, api.StreamEvent{Error: true, Message: err.Error()})
}
