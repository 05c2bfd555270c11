// Package gemini implements the upstream Business Gemini client: the
// credential handshake, session creation, the conversational assist call,
// session file metadata listing, and authenticated file downloads.
package gemini

// The assist endpoint answers with an array of event-like records. Generated
// media can appear at several levels independently, so every level carries
// its own optional generatedImages/attachments fields. Field names follow the
// upstream wire schema and must be preserved as-is.

// StreamAssistEnvelope is one element of the response array.
type StreamAssistEnvelope struct {
	StreamAssistResponse *StreamAssistResponse `json:"streamAssistResponse,omitempty"`
}

// StreamAssistResponse is a single assist event.
type StreamAssistResponse struct {
	SessionInfo     *SessionInfo     `json:"sessionInfo,omitempty"`
	GeneratedImages []GeneratedImage `json:"generatedImages,omitempty"`
	Answer          *Answer          `json:"answer,omitempty"`
}

// SessionInfo carries the session path; it may be refreshed mid-response.
type SessionInfo struct {
	Session string `json:"session,omitempty"`
}

// Answer groups the reply list and answer-level media.
type Answer struct {
	GeneratedImages []GeneratedImage `json:"generatedImages,omitempty"`
	Replies         []Reply          `json:"replies,omitempty"`
}

// Reply is one generated reply; text lives under groundedContent.content.
type Reply struct {
	GeneratedImages []GeneratedImage `json:"generatedImages,omitempty"`
	GroundedContent *GroundedContent `json:"groundedContent,omitempty"`
	Attachments     []Attachment     `json:"attachments,omitempty"`
}

// GroundedContent wraps reply content plus optional inline media.
type GroundedContent struct {
	Content     *Content     `json:"content,omitempty"`
	InlineData  *InlineData  `json:"inlineData,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Content holds text (with the intermediate-reasoning flag), an optional file
// reference, inline media, and nested attachments.
type Content struct {
	Text        string       `json:"text,omitempty"`
	Thought     bool         `json:"thought,omitempty"`
	File        *FileRef     `json:"file,omitempty"`
	InlineData  *InlineData  `json:"inlineData,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// FileRef points at session-scoped content that requires a separate
// authenticated download.
type FileRef struct {
	FileID   string `json:"fileId,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
}

// InlineData is base64 media embedded directly in content.
type InlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// Attachment is generic embedded media; upstream uses either data or
// bytesBase64Encoded depending on the producing tool.
type Attachment struct {
	MimeType           string `json:"mimeType,omitempty"`
	Data               string `json:"data,omitempty"`
	BytesBase64Encoded string `json:"bytesBase64Encoded,omitempty"`
	Name               string `json:"name,omitempty"`
}

// GeneratedImage wraps top-level/answer-level/reply-level generated media.
type GeneratedImage struct {
	Image *ImageData `json:"image,omitempty"`
}

// ImageData carries the generated bytes.
type ImageData struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded,omitempty"`
	MimeType           string `json:"mimeType,omitempty"`
}

// FileMetadata describes one AI-generated session file.
type FileMetadata struct {
	FileID   string `json:"fileId,omitempty"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Session  string `json:"session,omitempty"`
}

// InlineImage is user-provided input media forwarded to the assist call.
type InlineImage struct {
	MimeType string
	Data     string // base64, no data: prefix
}
