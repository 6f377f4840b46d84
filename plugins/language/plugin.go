// Package language tags inbound messages with the language of their text.
package language

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"chat-engine/domain"
	"chat-engine/domain/event"
	"chat-engine/plugin"

	"github.com/abadojack/whatlanggo"
)

const (
	Namespace = "language"
	// DataKey holds the ISO 639-1 code of the detected language.
	DataKey = "lang"

	DefaultMinConfidence = 0.5
)

type Config struct {
	MinConfidence float64
}

// Tracker counts detected languages per chat.
type Tracker struct {
	log           *slog.Logger
	minConfidence float64

	mu     sync.Mutex
	counts map[string]map[string]int // chat -> lang -> messages
}

func NewTracker(log *slog.Logger, cfg Config) *Tracker {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	return &Tracker{
		log:           log,
		minConfidence: cfg.MinConfidence,
		counts:        make(map[string]map[string]int),
	}
}

// New returns the plugin: a broadcast stage setting data["lang"] and a chat
// capability reporting the languages seen on that chat.
func New(log *slog.Logger, cfg Config) plugin.Descriptor {
	tracker := NewTracker(log, cfg)
	return plugin.Descriptor{
		Namespace: Namespace,
		Capabilities: map[domain.Kind]plugin.Factory{
			domain.KindChat:       tracker.capability,
			domain.KindGlobalChat: tracker.capability,
		},
		Middleware: map[domain.Location]map[string]plugin.Handler{
			domain.LocationBroadcast: {event.Message: tracker.tag},
		},
	}
}

// Detect returns the ISO 639-1 code of text, false when unsure.
func (t *Tracker) Detect(text string) (string, bool) {
	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6391()
	if code == "" || info.Confidence < t.minConfidence {
		return "", false
	}
	return code, true
}

func (t *Tracker) tag(_ context.Context, payload *domain.Payload) (*domain.Payload, error) {
	text, ok := payload.Text()
	if !ok || text == "" {
		return payload, nil
	}
	code, ok := t.Detect(text)
	if !ok {
		return payload, nil
	}
	payload.Data[DataKey] = code

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.counts[payload.Chat]; !exists {
		t.counts[payload.Chat] = make(map[string]int)
	}
	t.counts[payload.Chat][code]++
	return payload, nil
}

func (t *Tracker) capability(host domain.Host) any {
	return &Languages{chat: host.Identity(), tracker: t}
}

// Languages is the capability attached to chats.
type Languages struct {
	chat    string
	tracker *Tracker
}

type Count struct {
	Lang     string
	Messages int
}

// Seen returns the languages detected on the chat, most used first.
func (l *Languages) Seen() []Count {
	l.tracker.mu.Lock()
	defer l.tracker.mu.Unlock()

	out := make([]Count, 0, len(l.tracker.counts[l.chat]))
	for lang, n := range l.tracker.counts[l.chat] {
		out = append(out, Count{Lang: lang, Messages: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Messages != out[j].Messages {
			return out[i].Messages > out[j].Messages
		}
		return out[i].Lang < out[j].Lang
	})
	return out
}
