package http

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/kbqa/pkg/api"
)

func TestSSEWriter_Format(t *testing.T) {
	rec := httptest.NewRecorder()
	w := newSSEWriter(rec)
	ctx := context.Background()

	if w.hasStarted() {
		t.Fatal("writer started before first event")
	}
	if err := w.WriteEvent(ctx, api.StreamEvent{Backend: "a", Model: "m", Sources: []api.SourcePreview{}}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if err := w.WriteEvent(ctx, api.StreamEvent{Content: "你好"}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if err := w.WriteDone(ctx); err != nil {
		t.Fatalf("WriteDone: %v", err)
	}

	want := "data: {\"backend\":\"a\",\"model\":\"m\"}\n\n" +
		"data: {\"content\":\"你好\"}\n\n" +
		"data: [DONE]\n\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("body =\n%q\nwant\n%q", got, want)
	}
	if !rec.Flushed {
		t.Error("events were not flushed")
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if !w.hasStarted() {
		t.Error("hasStarted = false after writes")
	}
}

func TestSSEWriter_TerminalEvents(t *testing.T) {
	tests := []struct {
		name  string
		event api.StreamEvent
	}{
		{"error event", api.StreamEvent{Error: true, Message: "boom"}},
		{"not found reply", api.StreamEvent{Content: "none", Done: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newSSEWriter(httptest.NewRecorder())
			if err := w.WriteEvent(context.Background(), tt.event); err != nil {
				t.Fatalf("WriteEvent: %v", err)
			}
			if err := w.WriteEvent(context.Background(), api.StreamEvent{Content: "late"}); !errors.Is(err, errWriterCompleted) {
				t.Errorf("write after terminal event: err = %v", err)
			}
			if err := w.WriteDone(context.Background()); !errors.Is(err, errWriterCompleted) {
				t.Errorf("done after terminal event: err = %v", err)
			}
		})
	}
}
