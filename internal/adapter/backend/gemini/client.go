package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/config"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/domain"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36"

// Client talks to the Business Gemini endpoints. All calls construct the
// exact wire shapes the live backend expects; callers own retry/failover
// policy, the client only classifies failures.
type Client struct {
	cfg         config.Config
	handshakeHC *http.Client
	assistHC    *http.Client
	downloadHC  *http.Client
}

// New builds a client with per-operation timeouts and an otelhttp-wrapped
// transport. A configured proxy URL applies to every upstream call.
func New(cfg config.Config) (*Client, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		pu, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("op=gemini.New: proxy url: %w", err)
		}
		base.Proxy = http.ProxyURL(pu)
	}
	rt := otelhttp.NewTransport(base)
	return &Client{
		cfg:         cfg,
		handshakeHC: &http.Client{Timeout: cfg.HandshakeTimeout, Transport: rt},
		assistHC:    &http.Client{Timeout: cfg.AssistTimeout, Transport: rt},
		downloadHC:  &http.Client{Timeout: cfg.DownloadTimeout, Transport: rt},
	}, nil
}

// Handshake exchanges the account's stored secret material for signing key
// material. HTTP failures classify like any other upstream call, so a
// transient 5xx rotates instead of demoting; a well-formed 200 that carries
// no key material (the sign-in page) means the cookies are dead and maps to
// domain.ErrCredentialFetch.
func (c *Client) Handshake(ctx context.Context, account domain.Account) (keyID string, key []byte, err error) {
	start := time.Now()
	defer func() {
		observability.BackendRequestDuration.WithLabelValues("handshake").Observe(time.Since(start).Seconds())
	}()

	u := c.cfg.AuthBaseURL + "/auth/getoxsrf?csesidx=" + url.QueryEscape(account.CSesIdx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", nil, fmt.Errorf("op=gemini.Handshake: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", userAgent(account))
	req.Header.Set("Cookie", fmt.Sprintf("__Secure-C_SES=%s; __Host-C_OSES=%s", account.SecureCSes, account.HostCOses))

	resp, err := c.handshakeHC.Do(req)
	if err != nil {
		observability.BackendRequestsTotal.WithLabelValues("handshake", "error").Inc()
		return "", nil, fmt.Errorf("op=gemini.Handshake: %w: %v", domain.ErrBackendFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()
	observability.BackendRequestsTotal.WithLabelValues("handshake", resp.Status).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("op=gemini.Handshake: read: %w: %v", domain.ErrBackendFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("op=gemini.Handshake: %w", classifyStatus(resp.StatusCode))
	}

	var out struct {
		KeyID     string `json:"keyId"`
		XSRFToken string `json:"xsrfToken"`
	}
	if err := json.Unmarshal(stripJSONGuard(body), &out); err != nil {
		return "", nil, fmt.Errorf("op=gemini.Handshake: decode: %w: %v", domain.ErrCredentialFetch, err)
	}
	if out.KeyID == "" || out.XSRFToken == "" {
		return "", nil, fmt.Errorf("op=gemini.Handshake: empty key material: %w", domain.ErrCredentialFetch)
	}
	key, err = DecodeSigningKey(out.XSRFToken)
	if err != nil {
		return "", nil, fmt.Errorf("op=gemini.Handshake: %w: %v", domain.ErrCredentialFetch, err)
	}
	return out.KeyID, key, nil
}

// CreateSession opens a new upstream conversation and returns its path.
func (c *Client) CreateSession(ctx context.Context, account domain.Account, token string) (string, error) {
	name := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	body := map[string]any{
		"configId":         account.TeamID,
		"additionalParams": map[string]string{"token": "-"},
		"createSessionRequest": map[string]any{
			"session": map[string]string{"name": name, "displayName": name},
		},
	}

	var out struct {
		Session struct {
			Name string `json:"name"`
		} `json:"session"`
	}
	if err := c.postJSON(ctx, "create_session", c.cfg.AssistBaseURL+"/widgetCreateSession", account, token, body, &out); err != nil {
		return "", fmt.Errorf("op=gemini.CreateSession: %w", joinSentinel(domain.ErrSessionCreate, err))
	}
	if out.Session.Name == "" {
		return "", fmt.Errorf("op=gemini.CreateSession: empty session name: %w", domain.ErrSessionCreate)
	}
	return out.Session.Name, nil
}

// StreamAssist sends the latest user content and returns the raw event list.
func (c *Client) StreamAssist(ctx context.Context, account domain.Account, token, session, message string, images []InlineImage) ([]StreamAssistResponse, error) {
	parts := []map[string]any{{"text": message}}
	for _, img := range images {
		parts = append(parts, map[string]any{
			"inlineData": map[string]string{"mimeType": img.MimeType, "data": img.Data},
		})
	}

	body := map[string]any{
		"configId":         account.TeamID,
		"additionalParams": map[string]string{"token": "-"},
		"streamAssistRequest": map[string]any{
			"session":              session,
			"query":                map[string]any{"parts": parts},
			"filter":               "",
			"fileIds":              []string{},
			"answerGenerationMode": "NORMAL",
			"toolsSpec": map[string]any{
				"webGroundingSpec":    map[string]any{},
				"toolRegistry":        "default_tool_registry",
				"imageGenerationSpec": map[string]any{},
				"videoGenerationSpec": map[string]any{},
			},
			"languageCode":       c.cfg.LanguageCode,
			"userMetadata":       map[string]string{"timeZone": c.cfg.TimeZone},
			"assistSkippingMode": "REQUEST_ASSIST",
		},
	}

	var envelopes []StreamAssistEnvelope
	if err := c.postJSON(ctx, "assist", c.cfg.AssistBaseURL+"/widgetStreamAssist", account, token, body, &envelopes); err != nil {
		return nil, fmt.Errorf("op=gemini.StreamAssist: %w", err)
	}
	out := make([]StreamAssistResponse, 0, len(envelopes))
	for _, env := range envelopes {
		if env.StreamAssistResponse != nil {
			out = append(out, *env.StreamAssistResponse)
		}
	}
	return out, nil
}

// ListFileMetadata returns metadata for AI-generated files of the session,
// keyed by file id.
func (c *Client) ListFileMetadata(ctx context.Context, account domain.Account, token, session string) (map[string]FileMetadata, error) {
	body := map[string]any{
		"configId":         account.TeamID,
		"additionalParams": map[string]string{"token": "-"},
		"listSessionFileMetadataRequest": map[string]any{
			"name":   session,
			"filter": "file_origin_type = AI_GENERATED",
		},
	}

	var out struct {
		ListSessionFileMetadataResponse struct {
			FileMetadata []FileMetadata `json:"fileMetadata"`
		} `json:"listSessionFileMetadataResponse"`
	}
	if err := c.postJSON(ctx, "file_metadata", c.cfg.AssistBaseURL+"/widgetListSessionFileMetadata", account, token, body, &out); err != nil {
		return nil, fmt.Errorf("op=gemini.ListFileMetadata: %w", err)
	}
	result := make(map[string]FileMetadata, len(out.ListSessionFileMetadataResponse.FileMetadata))
	for _, meta := range out.ListSessionFileMetadataResponse.FileMetadata {
		if meta.FileID != "" {
			result[meta.FileID] = meta
		}
	}
	return result, nil
}

// DownloadFile fetches a referenced file's bytes using the owning session.
// Transient transport failures retry a bounded number of times; the response
// body is decoded when the upstream returns base64 text instead of raw bytes.
func (c *Client) DownloadFile(ctx context.Context, account domain.Account, token, session, fileID string) ([]byte, error) {
	u := fmt.Sprintf("%s/%s:downloadFile?fileId=%s&alt=media", c.cfg.DownloadBaseURL, session, url.QueryEscape(fileID))

	var data []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		c.setAuthHeaders(req, account, token)
		resp, err := c.downloadHC.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		observability.BackendRequestsTotal.WithLabelValues("download", resp.Status).Inc()
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(classifyStatus(resp.StatusCode))
		}
		data, err = io.ReadAll(resp.Body)
		return err
	}
	expo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		return nil, fmt.Errorf("op=gemini.DownloadFile: file %s: %w", fileID, err)
	}
	return maybeDecodeBase64(data), nil
}

func (c *Client) postJSON(ctx context.Context, operation, u string, account domain.Account, token string, body, out any) error {
	start := time.Now()
	defer func() {
		observability.BackendRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	c.setAuthHeaders(req, account, token)

	resp, err := c.assistHC.Do(req)
	if err != nil {
		observability.BackendRequestsTotal.WithLabelValues(operation, "error").Inc()
		return fmt.Errorf("%w: %v", domain.ErrBackendFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()
	observability.BackendRequestsTotal.WithLabelValues(operation, resp.Status).Inc()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read: %v", domain.ErrBackendFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(stripJSONGuard(raw), out); err != nil {
		return fmt.Errorf("%w: decode: %v", domain.ErrBackendFailure, err)
	}
	return nil
}

func (c *Client) setAuthHeaders(req *http.Request, account domain.Account, token string) {
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", c.cfg.AuthBaseURL)
	req.Header.Set("Referer", c.cfg.AuthBaseURL+"/")
	req.Header.Set("User-Agent", userAgent(account))
	req.Header.Set("X-Server-Timeout", "1800")
}

// classifyStatus maps upstream status codes onto the error taxonomy the
// orchestrator's retry policy keys on.
func classifyStatus(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("status %d: %w", status, domain.ErrBackendUnauthorized)
	case http.StatusNotFound:
		return fmt.Errorf("status %d: %w", status, domain.ErrBackendNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("status %d: %w", status, domain.ErrBackendRateLimited)
	default:
		return fmt.Errorf("status %d: %w", status, domain.ErrBackendFailure)
	}
}

// stripJSONGuard removes the anti-hijacking prefix some auth endpoints emit.
func stripJSONGuard(b []byte) []byte {
	t := bytes.TrimSpace(b)
	if bytes.HasPrefix(t, []byte(")]}'")) {
		return bytes.TrimSpace(t[4:])
	}
	return t
}

// maybeDecodeBase64 handles download bodies that arrive as base64 text; PNG
// and JPEG payloads are recognizable by their encoded magic bytes.
func maybeDecodeBase64(data []byte) []byte {
	t := strings.TrimSpace(string(data))
	if strings.HasPrefix(t, "iVBORw0KGgo") || strings.HasPrefix(t, "/9j/") {
		if decoded, err := base64.StdEncoding.DecodeString(t); err == nil {
			return decoded
		}
	}
	return data
}

func userAgent(account domain.Account) string {
	if account.UserAgent != "" {
		return account.UserAgent
	}
	return defaultUserAgent
}

// joinSentinel keeps the original classification when err already carries a
// taxonomy sentinel, otherwise tags err with the given sentinel.
func joinSentinel(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}
