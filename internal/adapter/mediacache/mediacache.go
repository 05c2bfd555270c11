// Package mediacache stores generated media on disk for a bounded lifetime so
// chat responses can link to it instead of inlining megabytes of base64.
package mediacache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/domain"
)

// Cache is a flat directory of media files. Names are ULIDs so insertion
// order is recoverable from a listing and collisions are a non-issue.
type Cache struct {
	dir string
	ttl time.Duration
}

// New creates the cache directory if needed.
func New(dir string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("op=mediacache.New: %w", err)
	}
	return &Cache{dir: dir, ttl: ttl}, nil
}

// Put writes the bytes and returns the generated filename. The extension
// comes from content sniffing; the declared MIME type is only a fallback.
func (c *Cache) Put(data []byte, declaredMIME string) (string, error) {
	ext := mimetype.Detect(data).Extension()
	if ext == "" || ext == ".txt" {
		if byDecl := extensionFor(declaredMIME); byDecl != "" {
			ext = byDecl
		}
	}
	if ext == "" {
		ext = ".bin"
	}

	name := strings.ToLower(ulid.Make().String()) + ext
	if err := os.WriteFile(filepath.Join(c.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("op=mediacache.Put: %w", err)
	}
	return name, nil
}

// Path resolves a stored filename to its on-disk path. Anything that is not a
// bare filename, or does not exist, maps to domain.ErrNotFound.
func (c *Cache) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("op=mediacache.Path: %q: %w", name, domain.ErrNotFound)
	}
	p := filepath.Join(c.dir, name)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("op=mediacache.Path: %q: %w", name, domain.ErrNotFound)
	}
	return p, nil
}

// SweepLoop deletes expired files every interval until ctx is done.
func (c *Cache) SweepLoop(ctx domain.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, err := c.Sweep(time.Now()); err != nil {
				slog.Warn("media sweep failed", slog.Any("error", err))
			} else if removed > 0 {
				slog.Debug("media sweep", slog.Int("removed", removed))
			}
		}
	}
}

// Sweep removes files whose modification time is older than the TTL and
// returns how many were deleted.
func (c *Cache) Sweep(now time.Time) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("op=mediacache.Sweep: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > c.ttl {
			if err := os.Remove(filepath.Join(c.dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// extensionFor covers the MIME types the upstream actually declares; content
// sniffing handles everything else.
func extensionFor(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	default:
		return ""
	}
}
