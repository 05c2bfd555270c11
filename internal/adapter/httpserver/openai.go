package httpserver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/backend/gemini"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/domain"
)

// OpenAI-compatible wire types. Only the fields the gateway acts on are
// modeled; unknown request fields are accepted and ignored so off-the-shelf
// clients work unmodified.

// ChatCompletionRequest is the POST /v1/chat/completions body.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages" validate:"required,min=1,dive"`
	Stream   bool          `json:"stream"`
}

// ChatMessage is one conversation turn. Content is either a plain string or
// the multimodal part-list form.
type ChatMessage struct {
	Role    string             `json:"role" validate:"required,oneof=system user assistant tool"`
	Content ChatMessageContent `json:"content"`
}

// ChatMessageContent normalizes both content encodings into text plus inline
// images.
type ChatMessageContent struct {
	Text   string
	Images []gemini.InlineImage
}

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// UnmarshalJSON accepts a JSON string or an array of typed parts.
func (c *ChatMessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		return nil
	}

	var parts []contentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content must be a string or part list: %w", domain.ErrInvalidArgument)
	}
	var texts []string
	for _, p := range parts {
		switch p.Type {
		case "text":
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			img, err := parseDataURI(p.ImageURL.URL)
			if err != nil {
				return err
			}
			c.Images = append(c.Images, img)
		}
	}
	c.Text = strings.Join(texts, "\n")
	return nil
}

// MarshalJSON always emits the plain-string form; the gateway never echoes
// image parts back.
func (c ChatMessageContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Text)
}

// parseDataURI splits a data:<mime>;base64,<payload> URL. Remote image URLs
// are rejected; the gateway does not proxy arbitrary fetches.
func parseDataURI(u string) (gemini.InlineImage, error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return gemini.InlineImage{}, fmt.Errorf("image_url must be a data URI: %w", domain.ErrInvalidArgument)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") || payload == "" {
		return gemini.InlineImage{}, fmt.Errorf("malformed data URI: %w", domain.ErrInvalidArgument)
	}
	mime := strings.TrimSuffix(meta, ";base64")
	if mime == "" {
		mime = "image/png"
	}
	return gemini.InlineImage{MimeType: mime, Data: payload}, nil
}

// ChatCompletionResponse is the non-streaming completion envelope.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one completion alternative; the gateway always produces one.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant turn in a non-streaming response.
type ResponseMessage struct {
	Role    string          `json:"role"`
	Content ResponseContent `json:"content"`
}

// ResponseContent is a plain string for text-only answers and an ordered
// part list once media is present.
type ResponseContent struct {
	Text  string
	Parts []ResponsePart
}

// MarshalJSON emits the string form unless media parts exist.
func (c ResponseContent) MarshalJSON() ([]byte, error) {
	if len(c.Parts) == 0 {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

// UnmarshalJSON accepts both forms; used by tests and API consumers.
func (c *ResponseContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		return nil
	}
	return json.Unmarshal(data, &c.Parts)
}

// ResponsePart is one typed fragment of an answer: text, or a reference to a
// cached media artifact.
type ResponsePart struct {
	Type     string  `json:"type"`
	Text     string  `json:"text,omitempty"`
	MimeType string  `json:"mime_type,omitempty"`
	Filename string  `json:"filename,omitempty"`
	ImageURL *URLRef `json:"image_url,omitempty"`
	VideoURL *URLRef `json:"video_url,omitempty"`
	FileURL  *URLRef `json:"file_url,omitempty"`
}

// URLRef wraps a media location.
type URLRef struct {
	URL string `json:"url"`
}

// Usage is the estimated token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunk is one SSE event of a streaming response.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice carries the incremental delta.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is the incremental message fragment. Content is a plain string for
// text and a ResponsePart object for media references.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content any    `json:"content,omitempty"`
}

// ModelList is the GET /v1/models envelope.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ModelInfo is one catalog entry in OpenAI shape.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}
