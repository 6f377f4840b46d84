package runtime

import (
	"context"
	"log/slog"

	"chat-engine/domain"
)

// LogPolicy logs failures nobody else can observe.
type LogPolicy struct {
	log *slog.Logger
}

func NewLogPolicy(log *slog.Logger) LogPolicy {
	return LogPolicy{log: log}
}

func (p LogPolicy) Handle(_ context.Context, f domain.Failure) {
	p.log.Warn("Unobserved failure",
		"kind", f.Kind,
		"op", f.Op,
		"channel", f.Channel,
		"identity", f.Identity,
		"error", f.Err)
}

// PolicyFunc adapts a function to contract.ErrorPolicy.
type PolicyFunc func(ctx context.Context, failure domain.Failure)

func (f PolicyFunc) Handle(ctx context.Context, failure domain.Failure) {
	f(ctx, failure)
}

// IgnorePolicy drops every failure.
var IgnorePolicy = PolicyFunc(func(context.Context, domain.Failure) {})
