// Package normalizer flattens the upstream assist event list into one ordered
// reply: final-answer text fragments plus every media artifact, regardless of
// which nesting level produced it.
package normalizer

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/backend/gemini"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/domain"
)

// Downloader is the file-resolution half of the upstream client.
type Downloader interface {
	ListFileMetadata(ctx domain.Context, account domain.Account, token, session string) (map[string]gemini.FileMetadata, error)
	DownloadFile(ctx domain.Context, account domain.Account, token, session, fileID string) ([]byte, error)
}

// Normalizer walks assist events in arrival order and resolves file
// references afterwards, against whichever session the events last named.
type Normalizer struct {
	Backend Downloader

	// Parallel bounds concurrent file downloads.
	Parallel int
}

// New constructs a Normalizer with the given download parallelism.
func New(backend Downloader, parallel int) *Normalizer {
	if parallel <= 0 {
		parallel = 4
	}
	return &Normalizer{Backend: backend, Parallel: parallel}
}

// Normalize produces the ordered reply for one assist call. session is the
// path the request was made under; a sessionInfo event inside the response
// overrides it for file resolution. A file reference that cannot be
// downloaded is logged and dropped, never fatal.
func (n *Normalizer) Normalize(ctx domain.Context, account domain.Account, token, session string, events []gemini.StreamAssistResponse) (*domain.Reply, error) {
	w := newWalker()
	for _, ev := range events {
		if ev.SessionInfo != nil && ev.SessionInfo.Session != "" {
			session = ev.SessionInfo.Session
		}
		w.generatedImages(ev.GeneratedImages)
		if ev.Answer == nil {
			continue
		}
		w.generatedImages(ev.Answer.GeneratedImages)
		for _, reply := range ev.Answer.Replies {
			w.reply(reply)
		}
	}

	reply := &domain.Reply{Texts: w.texts, Media: w.media}
	if len(w.pending) == 0 {
		return reply, nil
	}
	if err := n.resolveFiles(ctx, account, token, session, reply, w.pending); err != nil {
		return nil, err
	}
	return reply, nil
}

// resolveFiles fills in the bytes for file-referencing media items, dropping
// the ones that fail. pending maps file id to indexes in reply.Media. Media
// resolution degrades, never sinks the reply: a metadata-listing failure
// drops all referenced items and keeps the text.
func (n *Normalizer) resolveFiles(ctx domain.Context, account domain.Account, token, session string, reply *domain.Reply, pending map[string][]int) error {
	metas, err := n.Backend.ListFileMetadata(ctx, account, token, session)
	if err != nil {
		observability.MediaDownloadsTotal.WithLabelValues("error").Inc()
		slog.Warn("file metadata listing failed, dropping referenced media",
			slog.Int("pending", len(pending)), slog.Any("error", err))
		dropUnresolved(reply)
		return nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.Parallel)
	for fileID, idxs := range pending {
		// The metadata names the session that owns the file; it wins over
		// the session the events were scanned under.
		dlSession := session
		if meta, ok := metas[fileID]; ok && meta.Session != "" {
			dlSession = meta.Session
		}
		g.Go(func() error {
			data, err := n.Backend.DownloadFile(gctx, account, token, dlSession, fileID)
			if err != nil {
				observability.MediaDownloadsTotal.WithLabelValues("error").Inc()
				slog.Warn("media download failed",
					slog.String("file_id", fileID), slog.Any("error", err))
				return nil
			}
			observability.MediaDownloadsTotal.WithLabelValues("ok").Inc()
			mu.Lock()
			for _, i := range idxs {
				reply.Media[i].Data = data
				if meta, ok := metas[fileID]; ok {
					if reply.Media[i].MIME == "" {
						reply.Media[i].MIME = meta.MimeType
					}
					if reply.Media[i].Filename == "" {
						reply.Media[i].Filename = meta.Name
					}
				}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("op=normalizer.resolveFiles: %w", err)
	}
	dropUnresolved(reply)
	return nil
}

// dropUnresolved removes the references that never got bytes, preserving
// order.
func dropUnresolved(reply *domain.Reply) {
	kept := reply.Media[:0]
	for _, m := range reply.Media {
		if m.Inline() {
			kept = append(kept, m)
		}
	}
	reply.Media = kept
}

// walker accumulates text and media in encounter order. File references are
// recorded as placeholder items and deduplicated by id; the first encounter
// fixes the position.
type walker struct {
	texts   []string
	media   []domain.MediaItem
	pending map[string][]int
	seen    map[string]bool
}

func newWalker() *walker {
	return &walker{pending: map[string][]int{}, seen: map[string]bool{}}
}

func (w *walker) reply(r gemini.Reply) {
	w.generatedImages(r.GeneratedImages)
	if gc := r.GroundedContent; gc != nil {
		if c := gc.Content; c != nil {
			if c.Text != "" && !c.Thought {
				w.texts = append(w.texts, c.Text)
			}
			if c.File != nil {
				w.fileRef(*c.File)
			}
			w.inlineData(c.InlineData)
			w.attachments(c.Attachments)
		}
		w.inlineData(gc.InlineData)
		w.attachments(gc.Attachments)
	}
	w.attachments(r.Attachments)
}

func (w *walker) generatedImages(images []gemini.GeneratedImage) {
	for _, gi := range images {
		if gi.Image == nil || gi.Image.BytesBase64Encoded == "" {
			continue
		}
		data, err := decodeBase64(gi.Image.BytesBase64Encoded)
		if err != nil {
			slog.Warn("undecodable generated image", slog.Any("error", err))
			continue
		}
		w.media = append(w.media, domain.MediaItem{Data: data, MIME: gi.Image.MimeType})
	}
}

func (w *walker) inlineData(d *gemini.InlineData) {
	if d == nil || d.Data == "" {
		return
	}
	data, err := decodeBase64(d.Data)
	if err != nil {
		slog.Warn("undecodable inline data", slog.Any("error", err))
		return
	}
	w.media = append(w.media, domain.MediaItem{Data: data, MIME: d.MimeType})
}

func (w *walker) attachments(atts []gemini.Attachment) {
	for _, a := range atts {
		encoded := a.Data
		if encoded == "" {
			encoded = a.BytesBase64Encoded
		}
		if encoded == "" {
			continue
		}
		data, err := decodeBase64(encoded)
		if err != nil {
			slog.Warn("undecodable attachment", slog.String("name", a.Name), slog.Any("error", err))
			continue
		}
		w.media = append(w.media, domain.MediaItem{Data: data, MIME: a.MimeType, Filename: a.Name})
	}
}

func (w *walker) fileRef(f gemini.FileRef) {
	if f.FileID == "" || w.seen[f.FileID] {
		return
	}
	w.seen[f.FileID] = true
	w.media = append(w.media, domain.MediaItem{FileID: f.FileID, MIME: f.MimeType, Filename: f.Name})
	w.pending[f.FileID] = append(w.pending[f.FileID], len(w.media)-1)
}

// decodeBase64 accepts both padded and unpadded standard encodings, which is
// what the upstream actually mixes.
func decodeBase64(s string) ([]byte, error) {
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
