package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chat-engine/domain"
	"chat-engine/hub"
	"chat-engine/plugins/attachment"
	"chat-engine/plugins/finder"
	"chat-engine/plugins/language"
	"chat-engine/runtime"
	"chat-engine/transport/memory"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected command
	}{
		{name: "Plain text is a message", line: "  hello there ", expected: command{name: "say", text: "hello there"}},
		{name: "Command without args", line: "/who", expected: command{name: "who", args: []string{}}},
		{
			name:     "Command with args keeps the raw text",
			line:     "/dm bob  see you",
			expected: command{name: "dm", args: []string{"bob", "see", "you"}, text: "bob  see you"},
		},
		{name: "Empty line", line: "", expected: command{name: "say"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, parseCommand(tt.line))
		})
	}
}

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		expected  domain.State
		expectErr bool
	}{
		{name: "Pairs", args: []string{"mood=happy", "city=Paris"}, expected: domain.State{"mood": "happy", "city": "Paris"}},
		{name: "Value may contain equals", args: []string{"motto=a=b"}, expected: domain.State{"motto": "a=b"}},
		{name: "Empty value", args: []string{"mood="}, expected: domain.State{"mood": ""}},
		{name: "Missing equals", args: []string{"mood"}, expectErr: true},
		{name: "Missing key", args: []string{"=happy"}, expectErr: true},
		{name: "Reserved key", args: []string{domain.InitializedKey + "=false"}, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := parseAssignments(tt.args)
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, state)
		})
	}
}

func TestFormatState_Hides_Reserved_Keys(t *testing.T) {
	state := domain.State{domain.InitializedKey: true, "mood": "happy", "age": 3}
	require.Equal(t, "age=3 mood=happy", formatState(state))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newEngine(t *testing.T, h *hub.Hub, identity string, state domain.State) *runtime.Engine {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	finderPlugin, index, err := finder.New(log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	engine, err := runtime.NewEngine(log, memory.New(log, h, identity), runtime.WithPlugins(
		attachment.New(log, attachment.Config{}),
		language.New(log, language.Config{}),
		finderPlugin,
	))
	require.NoError(t, err)
	_, err = engine.Identify(identity, state)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = engine.Close(ctx)
	})
	return engine
}

func TestConsole_Session(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := hub.NewHub(logs.GetLoggerFromLevel(slog.LevelDebug), 100*time.Millisecond)
	out := &syncBuffer{}

	// Given alice at the console and bob already present
	bob := newEngine(t, h, "bob", domain.State{"mood": "sad"})
	req.NoError(bob.Start(ctx))

	alice := newEngine(t, h, "alice", domain.State{"mood": "happy"})
	c := newConsole(alice, out, false)
	c.watchGlobal(alice.Global())
	req.NoError(alice.Start(ctx))

	req.Eventually(func() bool {
		return strings.Contains(out.String(), "* bob joined")
	}, time.Second, 10*time.Millisecond)

	// When alice lists who is here
	quit, err := c.Execute(ctx, "/who")

	// Then bob is shown with a visible state only
	req.NoError(err)
	req.False(quit)
	req.Contains(out.String(), "mood=sad")
	req.NotContains(out.String(), domain.InitializedKey)

	// When alice searches by state
	_, err = c.Execute(ctx, "/find mood=sad")
	req.NoError(err)
	req.Contains(out.String(), "bob")

	// When alice talks on the global chat
	_, err = c.Execute(ctx, "hello everyone, how are you today")
	req.NoError(err)
	req.Eventually(func() bool {
		return strings.Contains(out.String(), "[ofc-global] alice") &&
			strings.Contains(out.String(), "hello everyone, how are you today")
	}, time.Second, 10*time.Millisecond)

	// When alice changes mood
	_, err = c.Execute(ctx, "/set mood=bored")
	req.NoError(err)

	// Then bob eventually sees it
	req.Eventually(func() bool {
		user, ok := bob.Directory().Get("alice")
		if !ok {
			return false
		}
		mood, _ := user.Get("mood")
		return mood == "bored"
	}, time.Second, 10*time.Millisecond)

	// When alice opens another chat it becomes current
	_, err = c.Execute(ctx, "/join lobby")
	req.NoError(err)
	req.Equal("lobby", c.currentChat().ID())
}

func TestConsole_Direct_And_File(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := hub.NewHub(logs.GetLoggerFromLevel(slog.LevelDebug), 100*time.Millisecond)
	aliceOut, bobOut := &syncBuffer{}, &syncBuffer{}

	alice := newEngine(t, h, "alice", nil)
	aliceConsole := newConsole(alice, aliceOut, false)
	aliceConsole.watchGlobal(alice.Global())
	req.NoError(alice.Start(ctx))

	bob := newEngine(t, h, "bob", nil)
	bobConsole := newConsole(bob, bobOut, false)
	bobConsole.watchGlobal(bob.Global())
	req.NoError(bob.Start(ctx))

	req.Eventually(func() bool {
		_, ok := alice.Directory().Get("bob")
		return ok
	}, time.Second, 10*time.Millisecond)

	// Given bob listens on the direct chat
	peer, ok := bob.Directory().Get("alice")
	req.True(ok)
	direct, err := bob.DirectChat(ctx, peer)
	req.NoError(err)
	bobConsole.watch(direct)

	// When alice sends a direct message
	_, err = aliceConsole.Execute(ctx, "/dm bob see you at noon")
	req.NoError(err)

	// Then bob reads it on the shared channel
	req.Eventually(func() bool {
		return strings.Contains(bobOut.String(), "[alice:bob] alice") &&
			strings.Contains(bobOut.String(), "see you at noon")
	}, time.Second, 10*time.Millisecond)

	// When alice sends a text file on the global chat
	path := filepath.Join(t.TempDir(), "notes.txt")
	req.NoError(os.WriteFile(path, []byte("plain notes"), 0o600))
	_, err = aliceConsole.Execute(ctx, "/file "+path)
	req.NoError(err)

	// Then bob sees its name and type
	req.Eventually(func() bool {
		return strings.Contains(bobOut.String(), "alice sent notes.txt (text/plain")
	}, time.Second, 10*time.Millisecond)

	// And unknown commands are reported
	_, err = aliceConsole.Execute(ctx, "/dance")
	req.Error(err)
	_, err = aliceConsole.Execute(ctx, "/dm carol hi")
	req.Error(err)

	quit, err := aliceConsole.Execute(ctx, "/quit")
	req.NoError(err)
	req.True(quit)
}
