// Package moderation censors the text of outgoing messages.
package moderation

import (
	"context"
	"log/slog"
	"strings"

	"chat-engine/domain"
	"chat-engine/domain/event"
	"chat-engine/plugin"
)

const (
	Namespace       = "moderation"
	DefaultCharRepl = '*'
)

type Config struct {
	CharReplacement rune
	// Words are added to the embedded dictionaries.
	Words []string
}

// New loads the embedded dictionaries and returns the plugin.
// The publish stage rewrites data["text"] and lists the matched words
// under data["censored"].
func New(log *slog.Logger, cfg Config) (plugin.Descriptor, error) {
	data, err := NewCensoredLoader(censoredFolder).LoadAll("censored")
	if err != nil {
		return plugin.Descriptor{}, err
	}
	if cfg.CharReplacement == 0 {
		cfg.CharReplacement = DefaultCharRepl
	}
	log.Info("Censored dictionaries loaded",
		"languages", strings.Join(data.Languages, ","), "words", len(data.Words)+len(cfg.Words))

	moderator, err := NewModerator(append(data.Words, cfg.Words...), cfg.CharReplacement, log)
	if err != nil {
		return plugin.Descriptor{}, err
	}
	return Descriptor(moderator), nil
}

func Descriptor(moderator Moderator) plugin.Descriptor {
	return plugin.Descriptor{
		Namespace: Namespace,
		Middleware: map[domain.Location]map[string]plugin.Handler{
			domain.LocationPublish: {event.Message: censor(moderator)},
		},
	}
}

func censor(moderator Moderator) plugin.Handler {
	return func(_ context.Context, payload *domain.Payload) (*domain.Payload, error) {
		text, ok := payload.Text()
		if !ok {
			return payload, nil
		}
		content, words := moderator.Censor(text)
		if len(words) == 0 {
			return payload, nil
		}
		payload.Data["text"] = content
		payload.Data["censored"] = words
		moderator.log.Debug("Message censored", "sender", payload.Sender, "chat", payload.Chat, "words", len(words))
		return payload, nil
	}
}
