package runtime

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"testing"

	"chat-engine/domain"

	"github.com/stretchr/testify/require"
)

func TestLogPolicy_Logs_Every_Field(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	policy := NewLogPolicy(slog.New(slog.NewTextHandler(&buf, nil)))

	policy.Handle(context.Background(), domain.Failure{
		Kind:     domain.FailureTransport,
		Op:       "push state",
		Channel:  "room",
		Identity: "alice",
		Err:      stderrors.New("boom"),
	})

	out := buf.String()
	req.Contains(out, "Unobserved failure")
	req.Contains(out, "kind=transport")
	req.Contains(out, `op="push state"`)
	req.Contains(out, "channel=room")
	req.Contains(out, "error=boom")
}

func TestPolicyFunc_Forwards(t *testing.T) {
	req := require.New(t)
	var got []domain.Failure
	policy := PolicyFunc(func(_ context.Context, f domain.Failure) { got = append(got, f) })

	policy.Handle(context.Background(), domain.Failure{Kind: domain.FailurePipeline})
	IgnorePolicy.Handle(context.Background(), domain.Failure{Kind: domain.FailurePipeline})

	req.Len(got, 1)
	req.Equal(domain.FailurePipeline, got[0].Kind)
}
