package httpserver

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/backend/gemini"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/mediacache"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/config"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/domain"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/usecase"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

type fakeChat struct {
	reply      *domain.Reply
	err        error
	gotMessage string
	gotImages  []gemini.InlineImage
}

func (f *fakeChat) Complete(_ domain.Context, message string, images []gemini.InlineImage) (*domain.Reply, error) {
	f.gotMessage = message
	f.gotImages = images
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

type fakeAccounts struct{ accounts []domain.Account }

func (f *fakeAccounts) Create(domain.Context, domain.Account) error { return nil }
func (f *fakeAccounts) Get(domain.Context, string) (domain.Account, error) {
	return domain.Account{}, domain.ErrNotFound
}
func (f *fakeAccounts) List(domain.Context) ([]domain.Account, error) { return f.accounts, nil }
func (f *fakeAccounts) ListAvailable(domain.Context) ([]domain.Account, error) {
	return nil, nil
}
func (f *fakeAccounts) Update(domain.Context, domain.Account) error { return nil }
func (f *fakeAccounts) Delete(domain.Context, string) error         { return nil }

func newTestServer(t *testing.T, chat ChatCompleter) (*Server, *chi.Mux) {
	t.Helper()
	media, err := mediacache.New(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("media cache: %v", err)
	}
	catalog := usecase.NewCatalog(nil, "gemini-enterprise")
	accounts := &fakeAccounts{accounts: []domain.Account{
		{ID: "a", Available: true},
		{ID: "b", Available: false, UnavailableReason: "backend unauthorized"},
	}}
	srv := NewServer(config.Config{DefaultModel: "gemini-enterprise"}, chat, catalog, accounts, media)

	mux := chi.NewRouter()
	mux.Post("/v1/chat/completions", srv.ChatCompletions)
	mux.Get("/v1/models", srv.Models)
	mux.Get("/api/status", srv.Status)
	mux.Get("/media/{filename}", srv.Media)
	return srv, mux
}

func postCompletion(t *testing.T, mux http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestChatCompletions_PlainText(t *testing.T) {
	chat := &fakeChat{reply: &domain.Reply{Texts: []string{"Hello ", "there."}}}
	_, mux := newTestServer(t, chat)

	rec := postCompletion(t, mux, `{"model":"gemini-enterprise","messages":[
		{"role":"system","content":"be nice"},
		{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if chat.gotMessage != "hi" {
		t.Fatalf("expected latest user turn, got %q", chat.gotMessage)
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Object != "chat.completion" || !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	if got := resp.Choices[0].Message.Content; got.Text != "Hello there." || len(got.Parts) != 0 {
		t.Fatalf("unexpected content %+v", got)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("unexpected finish reason %q", resp.Choices[0].FinishReason)
	}
	// "hi" is 1 estimated token; "Hello there." is 12 bytes, so 3.
	if resp.Usage.PromptTokens != 1 || resp.Usage.CompletionTokens != 3 || resp.Usage.TotalTokens != 4 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}

func TestChatCompletions_MediaBecomesTypedParts(t *testing.T) {
	chat := &fakeChat{reply: &domain.Reply{
		Texts: []string{"here you go"},
		Media: []domain.MediaItem{
			{Data: pngBytes, MIME: "image/png", Filename: "chart.png"},
			{Data: []byte("mp4-bytes"), MIME: "video/mp4", Filename: "clip.mp4"},
		},
	}}
	_, mux := newTestServer(t, chat)

	rec := postCompletion(t, mux, `{"messages":[{"role":"user","content":"draw"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var resp ChatCompletionResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	parts := resp.Choices[0].Message.Content.Parts
	if len(parts) != 3 {
		t.Fatalf("expected text+image+video parts, got %+v", parts)
	}
	if parts[0].Type != "text" || parts[0].Text != "here you go" {
		t.Fatalf("unexpected text part: %+v", parts[0])
	}
	img := parts[1]
	if img.Type != "image_url" || img.MimeType != "image/png" || img.Filename != "chart.png" ||
		img.ImageURL == nil || !strings.HasPrefix(img.ImageURL.URL, "/media/") {
		t.Fatalf("unexpected image part: %+v", img)
	}
	vid := parts[2]
	if vid.Type != "video_url" || vid.VideoURL == nil {
		t.Fatalf("unexpected video part: %+v", vid)
	}
	// Text-span usage only; media never counts.
	if resp.Usage.CompletionTokens != 3 {
		t.Fatalf("unexpected completion tokens: %+v", resp.Usage)
	}

	// The linked file must be servable.
	name := strings.TrimPrefix(img.ImageURL.URL, "/media/")
	req := httptest.NewRequest(http.MethodGet, "/media/"+name, nil)
	mediaRec := httptest.NewRecorder()
	mux.ServeHTTP(mediaRec, req)
	if mediaRec.Code != http.StatusOK || mediaRec.Body.String() != string(pngBytes) {
		t.Fatalf("media fetch failed: %d", mediaRec.Code)
	}
}

func TestChatCompletions_MultimodalInput(t *testing.T) {
	chat := &fakeChat{reply: &domain.Reply{Texts: []string{"a cat"}}}
	_, mux := newTestServer(t, chat)

	payload := base64.StdEncoding.EncodeToString(pngBytes)
	rec := postCompletion(t, mux, `{"messages":[{"role":"user","content":[
		{"type":"text","text":"what is this?"},
		{"type":"image_url","image_url":{"url":"data:image/png;base64,`+payload+`"}}]}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if chat.gotMessage != "what is this?" {
		t.Fatalf("unexpected message %q", chat.gotMessage)
	}
	if len(chat.gotImages) != 1 || chat.gotImages[0].MimeType != "image/png" || chat.gotImages[0].Data != payload {
		t.Fatalf("unexpected images: %+v", chat.gotImages)
	}
}

func TestChatCompletions_Validation(t *testing.T) {
	_, mux := newTestServer(t, &fakeChat{reply: &domain.Reply{}})

	cases := []struct {
		name string
		body string
	}{
		{"no messages", `{"model":"gemini-enterprise","messages":[]}`},
		{"bad json", `{`},
		{"no user turn", `{"messages":[{"role":"system","content":"x"}]}`},
		{"unknown model", `{"model":"gpt-17","messages":[{"role":"user","content":"hi"}]}`},
		{"remote image url", `{"messages":[{"role":"user","content":[{"type":"image_url","image_url":{"url":"https://example.com/x.png"}}]}]}`},
	}
	for _, tc := range cases {
		rec := postCompletion(t, mux, tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400 (%s)", tc.name, rec.Code, rec.Body)
		}
	}
}

func TestChatCompletions_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
		code string
	}{
		{domain.ErrBackendRateLimited, http.StatusTooManyRequests, "rate_limit_exceeded"},
		{domain.ErrAllAccountsExhausted, http.StatusServiceUnavailable, "service_unavailable"},
		{domain.ErrNoAvailableAccounts, http.StatusServiceUnavailable, "service_unavailable"},
		{domain.ErrBackendFailure, http.StatusBadGateway, "upstream_error"},
	}
	for _, tc := range cases {
		_, mux := newTestServer(t, &fakeChat{err: tc.err})
		rec := postCompletion(t, mux, `{"messages":[{"role":"user","content":"hi"}]}`)
		if rec.Code != tc.want {
			t.Errorf("%v: status %d, want %d", tc.err, rec.Code, tc.want)
			continue
		}
		var body apiError
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		if body.Error.Code != tc.code {
			t.Errorf("%v: code %q, want %q", tc.err, body.Error.Code, tc.code)
		}
	}
}

func TestChatCompletions_Streaming(t *testing.T) {
	chat := &fakeChat{reply: &domain.Reply{Texts: []string{"streamed answer"}}}
	_, mux := newTestServer(t, chat)

	rec := postCompletion(t, mux, `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var events []string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			events = append(events, data)
		}
	}
	if len(events) != 4 {
		t.Fatalf("expected role+content+stop+DONE, got %d events: %v", len(events), events)
	}
	if events[len(events)-1] != "[DONE]" {
		t.Fatalf("missing [DONE] terminator: %v", events)
	}

	var first, second, third ChatCompletionChunk
	_ = json.Unmarshal([]byte(events[0]), &first)
	_ = json.Unmarshal([]byte(events[1]), &second)
	_ = json.Unmarshal([]byte(events[2]), &third)
	if first.Choices[0].Delta.Role != "assistant" {
		t.Fatalf("first chunk should open the assistant turn: %v", events[0])
	}
	if second.Choices[0].Delta.Content != "streamed answer" {
		t.Fatalf("unexpected content delta: %v", events[1])
	}
	if third.Choices[0].FinishReason == nil || *third.Choices[0].FinishReason != "stop" {
		t.Fatalf("missing stop chunk: %v", events[2])
	}
	if first.Object != "chat.completion.chunk" || first.ID != second.ID {
		t.Fatalf("chunk envelope mismatch: %v vs %v", events[0], events[1])
	}
}

func TestChatCompletions_StreamingMediaChunks(t *testing.T) {
	chat := &fakeChat{reply: &domain.Reply{
		Texts: []string{"with picture"},
		Media: []domain.MediaItem{{Data: pngBytes, MIME: "image/png", Filename: "pic.png"}},
	}}
	_, mux := newTestServer(t, chat)

	rec := postCompletion(t, mux, `{"stream":true,"messages":[{"role":"user","content":"draw"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}

	var events []string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
			events = append(events, data)
		}
	}
	// role, text, media, stop, DONE
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d: %v", len(events), events)
	}

	var mediaChunk struct {
		Choices []struct {
			Delta struct {
				Content ResponsePart `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(events[2]), &mediaChunk); err != nil {
		t.Fatalf("decode media chunk: %v", err)
	}
	part := mediaChunk.Choices[0].Delta.Content
	if part.Type != "image_url" || part.MimeType != "image/png" || part.Filename != "pic.png" ||
		part.ImageURL == nil || !strings.HasPrefix(part.ImageURL.URL, "/media/") {
		t.Fatalf("unexpected media chunk: %+v", part)
	}
}

func TestModels_ListsCatalog(t *testing.T) {
	_, mux := newTestServer(t, &fakeChat{reply: &domain.Reply{}})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var list ModelList
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if list.Object != "list" || len(list.Data) != 1 || list.Data[0].ID != "gemini-enterprise" {
		t.Fatalf("unexpected model list: %+v", list)
	}
}

func TestStatus_SummarizesPool(t *testing.T) {
	_, mux := newTestServer(t, &fakeChat{reply: &domain.Reply{}})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var out struct {
		Status    string `json:"status"`
		Total     int    `json:"total"`
		Available int    `json:"available"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Status != "ok" || out.Total != 2 || out.Available != 1 {
		t.Fatalf("unexpected status payload: %+v", out)
	}
}

func TestMedia_RejectsTraversal(t *testing.T) {
	_, mux := newTestServer(t, &fakeChat{reply: &domain.Reply{}})

	req := httptest.NewRequest(http.MethodGet, "/media/"+`%2e%2e%2fsecret`, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for traversal, got %d", rec.Code)
	}
}

func TestLatestUserTurn_PicksMostRecent(t *testing.T) {
	msg := func(role, text string) ChatMessage {
		return ChatMessage{Role: role, Content: ChatMessageContent{Text: text}}
	}
	text, _, err := latestUserTurn([]ChatMessage{
		msg("user", "first"),
		msg("assistant", "reply"),
		msg("user", "second"),
	})
	if err != nil || text != "second" {
		t.Fatalf("got (%q, %v), want second", text, err)
	}

	if _, _, err := latestUserTurn(nil); err == nil {
		t.Fatalf("expected error for empty conversation")
	}
}
