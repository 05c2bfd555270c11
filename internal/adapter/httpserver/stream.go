package httpserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/observability"
)

// streamCompletion writes the completed answer as an OpenAI SSE stream: a
// role delta, the text delta, one media-reference delta per artifact, a stop
// chunk, then the [DONE] terminator. The upstream call is not incremental, so
// the text arrives in one delta; clients consume it exactly like a real token
// stream.
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, id string, created int64, model, text string, mediaParts []ResponsePart) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, fmt.Errorf("streaming unsupported by connection"))
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	chunk := func(delta Delta, finish *string) ChatCompletionChunk {
		return ChatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []ChunkChoice{{Delta: delta, FinishReason: finish}},
		}
	}

	log := observability.LoggerFromContext(r.Context())
	emit := func(v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			log.Error("chunk encode failed", slog.Any("error", err))
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			log.Debug("client went away mid-stream", slog.Any("error", err))
			return false
		}
		flusher.Flush()
		return true
	}

	if !emit(chunk(Delta{Role: "assistant"}, nil)) {
		return
	}
	if text != "" && !emit(chunk(Delta{Content: text}, nil)) {
		return
	}
	for _, part := range mediaParts {
		if !emit(chunk(Delta{Content: part}, nil)) {
			return
		}
	}
	stop := "stop"
	if !emit(chunk(Delta{}, &stop)) {
		return
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
