// Package httpserver exposes the OpenAI-compatible surface plus the small
// operational API (status, media, health).
package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/backend/gemini"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/mediacache"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/config"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/domain"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/usecase"
)

// ChatCompleter answers one user message.
type ChatCompleter interface {
	Complete(ctx domain.Context, message string, images []gemini.InlineImage) (*domain.Reply, error)
}

// Server bundles the HTTP handlers and their collaborators.
type Server struct {
	cfg      config.Config
	chat     ChatCompleter
	catalog  *usecase.Catalog
	accounts domain.AccountStore
	media    *mediacache.Cache
	validate *validator.Validate
}

// NewServer wires the handler set.
func NewServer(cfg config.Config, chat ChatCompleter, catalog *usecase.Catalog, accounts domain.AccountStore, media *mediacache.Cache) *Server {
	return &Server{
		cfg:      cfg,
		chat:     chat,
		catalog:  catalog,
		accounts: accounts,
		media:    media,
		validate: validator.New(),
	}
}

// ChatCompletions handles POST /v1/chat/completions in both plain and
// streaming modes.
func (s *Server) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("decode request: %v: %w", err, domain.ErrInvalidArgument))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, fmt.Errorf("%v: %w", err, domain.ErrInvalidArgument))
		return
	}
	model, err := s.catalog.Resolve(req.Model)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err))
		return
	}
	prompt, images, err := latestUserTurn(req.Messages)
	if err != nil {
		writeError(w, r, err)
		return
	}

	reply, err := s.chat.Complete(r.Context(), prompt, images)
	if err != nil {
		writeError(w, r, err)
		return
	}
	text := reply.Text()
	mediaParts := s.mediaParts(reply)

	id := "chatcmpl-" + strings.ToLower(ulid.Make().String())
	created := time.Now().Unix()
	usage := Usage{
		PromptTokens:     usecase.EstimateTokens(prompt),
		CompletionTokens: usecase.EstimateTokens(text),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	if req.Stream {
		s.streamCompletion(w, r, id, created, model.ID, text, mediaParts)
		return
	}

	content := ResponseContent{Text: text}
	if len(mediaParts) > 0 {
		if text != "" {
			content.Parts = append(content.Parts, ResponsePart{Type: "text", Text: text})
		}
		content.Parts = append(content.Parts, mediaParts...)
	}
	writeJSON(w, http.StatusOK, ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model.ID,
		Choices: []Choice{{
			Message:      ResponseMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: usage,
	})
}

// latestUserTurn extracts the text and inline images of the most recent user
// message. The upstream session carries conversation history, so earlier
// turns are not replayed.
func latestUserTurn(messages []ChatMessage) (string, []gemini.InlineImage, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		c := messages[i].Content
		if c.Text == "" && len(c.Images) == 0 {
			return "", nil, fmt.Errorf("empty user message: %w", domain.ErrInvalidArgument)
		}
		return c.Text, c.Images, nil
	}
	return "", nil, fmt.Errorf("no user message: %w", domain.ErrInvalidArgument)
}

// mediaParts persists each media item to the cache and returns the typed
// reference parts in encounter order. An item that cannot be persisted is
// skipped rather than failing the whole reply.
func (s *Server) mediaParts(reply *domain.Reply) []ResponsePart {
	parts := make([]ResponsePart, 0, len(reply.Media))
	for _, m := range reply.Media {
		name, err := s.media.Put(m.Data, m.MIME)
		if err != nil {
			continue
		}
		ref := &URLRef{URL: s.mediaURL(name)}
		part := ResponsePart{
			MimeType: m.MIME,
			Filename: displayName(m, name),
		}
		switch {
		case strings.HasPrefix(m.MIME, "video/"):
			part.Type, part.VideoURL = "video_url", ref
		case strings.HasPrefix(m.MIME, "image/"), m.MIME == "":
			part.Type, part.ImageURL = "image_url", ref
		default:
			part.Type, part.FileURL = "file_url", ref
		}
		parts = append(parts, part)
	}
	return parts
}

func (s *Server) mediaURL(name string) string {
	base := strings.TrimSuffix(s.cfg.MediaBaseURL, "/")
	return base + "/media/" + name
}

func displayName(m domain.MediaItem, fallback string) string {
	if m.Filename != "" {
		return m.Filename
	}
	return fallback
}

// Models handles GET /v1/models.
func (s *Server) Models(w http.ResponseWriter, r *http.Request) {
	models := s.catalog.List()
	list := ModelList{Object: "list", Data: make([]ModelInfo, 0, len(models))}
	for _, m := range models {
		list.Data = append(list.Data, ModelInfo{
			ID:      m.ID,
			Object:  "model",
			Created: time.Now().Unix(),
			OwnedBy: "gemini-enterprise-gateway",
		})
	}
	writeJSON(w, http.StatusOK, list)
}

// Status handles GET /api/status with a pool summary for operators.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	all, err := s.accounts.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	type accountStatus struct {
		ID                string    `json:"id"`
		Available         bool      `json:"available"`
		UnavailableReason string    `json:"unavailable_reason,omitempty"`
		CreatedAt         time.Time `json:"created_at"`
	}
	out := struct {
		Status    string          `json:"status"`
		Total     int             `json:"total"`
		Available int             `json:"available"`
		Accounts  []accountStatus `json:"accounts"`
		Models    []domain.Model  `json:"models"`
	}{Status: "ok", Total: len(all), Accounts: make([]accountStatus, 0, len(all)), Models: s.catalog.List()}
	for _, a := range all {
		if a.Available {
			out.Available++
		}
		out.Accounts = append(out.Accounts, accountStatus{
			ID:                a.ID,
			Available:         a.Available,
			UnavailableReason: a.UnavailableReason,
			CreatedAt:         a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Media handles GET /media/{filename}, serving cached generated artifacts.
func (s *Server) Media(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	p, err := s.media.Path(name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, p)
}
