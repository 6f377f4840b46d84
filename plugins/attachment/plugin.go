// Package attachment sniffs files published on a chat and refuses the
// types an operator does not want relayed.
package attachment

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"chat-engine/domain"
	"chat-engine/errors"
	"chat-engine/plugin"

	"github.com/gabriel-vasile/mimetype"
)

const (
	Namespace = "attachment"
	// Event is the chat event carrying a file.
	Event = "file"

	DefaultMaxSize = 1 << 20
)

// DefaultForbidden lists executable and script types.
var DefaultForbidden = []string{
	"application/x-msdownload",
	"application/vnd.microsoft.portable-executable",
	"application/x-elf",
	"application/x-executable",
	"application/x-mach-binary",
	"text/x-shellscript",
}

type Config struct {
	// Forbidden MIME types, parent types included: "text/plain" also
	// forbids its aliases and children.
	Forbidden []string
	MaxSize   int
}

// New returns the plugin. Publishing Event expects data["content"] as a
// base64 string or bytes; the stage adds data["mime"] and data["size"].
func New(log *slog.Logger, cfg Config) plugin.Descriptor {
	if cfg.Forbidden == nil {
		cfg.Forbidden = DefaultForbidden
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	s := sniffer{log: log, cfg: cfg}
	return plugin.Descriptor{
		Namespace: Namespace,
		Middleware: map[domain.Location]map[string]plugin.Handler{
			domain.LocationPublish: {Event: s.inspect},
		},
	}
}

type sniffer struct {
	log *slog.Logger
	cfg Config
}

func (s sniffer) inspect(_ context.Context, payload *domain.Payload) (*domain.Payload, error) {
	content, err := decode(payload.Data["content"])
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, errors.ErrEmptyContent
	}
	if len(content) > s.cfg.MaxSize {
		return nil, fmt.Errorf("attachment of %d bytes exceeds %d", len(content), s.cfg.MaxSize)
	}

	mime := mimetype.Detect(content)
	for _, forbidden := range s.cfg.Forbidden {
		if mimetype.EqualsAny(mime.String(), forbidden) || isA(mime, forbidden) {
			s.log.Warn("Attachment refused", "sender", payload.Sender, "chat", payload.Chat, "mime", mime.String())
			return nil, fmt.Errorf("%w: %s", errors.ErrForbiddenMime, mime.String())
		}
	}

	payload.Data["mime"] = mime.String()
	payload.Data["extension"] = mime.Extension()
	payload.Data["size"] = len(content)
	return payload, nil
}

// isA walks the detected type's parents, e.g. a shell script is text/plain.
func isA(mime *mimetype.MIME, target string) bool {
	for m := mime; m != nil; m = m.Parent() {
		if m.Is(target) {
			return true
		}
	}
	return false
}

func decode(v any) ([]byte, error) {
	switch content := v.(type) {
	case nil:
		return nil, errors.ErrEmptyContent
	case []byte:
		return content, nil
	case string:
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(content))
		if err != nil {
			return nil, fmt.Errorf("attachment content: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("attachment content: unexpected %T", v)
	}
}
