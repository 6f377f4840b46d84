package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"chat-engine/chat"
	"chat-engine/domain"
	"chat-engine/domain/event"
	"chat-engine/plugins/attachment"
	"chat-engine/plugins/finder"
	"chat-engine/plugins/language"
	"chat-engine/runtime"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

const help = `/who                 list present users
/set key=value ...   update your state
/find key=value      users whose state matches exactly
/find text           users with any state value matching text
/join channel        open a chat and make it current
/dm identity text    send text on the direct chat with identity
/file path           send a file on the current chat
/langs               languages seen on the current chat
/help                this help
/quit                leave
anything else is sent as a message on the current chat`

type command struct {
	name string
	args []string
	text string
}

// parseCommand splits a console line. Lines not starting with "/" are messages.
func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{name: "say", text: line}
	}
	fields := strings.Fields(line)
	cmd := command{name: strings.TrimPrefix(fields[0], "/"), args: fields[1:]}
	if rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0])); rest != "" {
		cmd.text = rest
	}
	return cmd
}

// parseAssignments reads key=value pairs.
func parseAssignments(args []string) (domain.State, error) {
	state := domain.State{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		if key == domain.InitializedKey {
			return nil, fmt.Errorf("%s is reserved", key)
		}
		state[key] = value
	}
	return state, nil
}

type console struct {
	engine  *runtime.Engine
	out     io.Writer
	colours bool

	mu      sync.Mutex
	current *chat.Chat
	watched map[string]struct{}
}

func newConsole(engine *runtime.Engine, out io.Writer, colours bool) *console {
	return &console{engine: engine, out: out, colours: colours, watched: make(map[string]struct{})}
}

func (c *console) printf(style color.Style, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if c.colours {
		line = style.Render(line)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

// watchGlobal prints presence changes. It must run before the engine starts
// so the initial occupants are shown.
func (c *console) watchGlobal(global *chat.GlobalChat) {
	presence := color.New(color.FgGray)
	global.On(event.Join, func(p *domain.Payload) { c.printf(presence, "* %s joined", p.Sender) })
	global.On(event.Leave, func(p *domain.Payload) { c.printf(presence, "* %s left", p.Sender) })
	global.On(event.Timeout, func(p *domain.Payload) { c.printf(presence, "* %s timed out", p.Sender) })
	global.On(event.StateChange, func(p *domain.Payload) {
		c.printf(presence, "* %s is now %s", p.Sender, formatState(p.Presence.State))
	})
	c.watch(global.Chat)
}

// watch prints the messages and files of ch, once.
func (c *console) watch(ch *chat.Chat) {
	c.mu.Lock()
	if _, ok := c.watched[ch.ID()]; ok {
		c.mu.Unlock()
		return
	}
	c.watched[ch.ID()] = struct{}{}
	if c.current == nil {
		c.current = ch
	}
	c.mu.Unlock()

	sender := color.New(color.FgCyan, color.OpBold)
	ch.On(event.Message, func(p *domain.Payload) {
		text, _ := p.Text()
		lang := ""
		if code, ok := p.Data[language.DataKey].(string); ok {
			lang = " (" + code + ")"
		}
		c.printf(sender, "[%s] %s%s: %s", ch.ID(), p.Sender, lang, text)
	})
	ch.On(attachment.Event, func(p *domain.Payload) {
		c.printf(sender, "[%s] %s sent %v (%v, %v bytes)", ch.ID(), p.Sender, p.Data["name"], p.Data["mime"], p.Data["size"])
	})
}

func (c *console) currentChat() *chat.Chat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Execute runs one console line. It reports whether the user asked to quit.
func (c *console) Execute(ctx context.Context, line string) (bool, error) {
	cmd := parseCommand(line)
	switch cmd.name {
	case "say":
		if cmd.text == "" {
			return false, nil
		}
		return false, c.currentChat().Publish(ctx, event.Message, map[string]any{"text": cmd.text})
	case "quit", "exit":
		return true, nil
	case "help":
		c.printf(color.New(color.FgWhite), "%s", help)
		return false, nil
	case "who":
		c.who()
		return false, nil
	case "set":
		state, err := parseAssignments(cmd.args)
		if err != nil {
			return false, err
		}
		c.engine.Me().Update(state)
		return false, nil
	case "find":
		return false, c.find(ctx, cmd)
	case "join":
		if len(cmd.args) != 1 {
			return false, fmt.Errorf("usage: /join channel")
		}
		ch, err := c.engine.Chat(ctx, cmd.args[0])
		if err != nil {
			return false, err
		}
		c.watch(ch)
		c.mu.Lock()
		c.current = ch
		c.mu.Unlock()
		return false, nil
	case "dm":
		return false, c.direct(ctx, cmd)
	case "file":
		return false, c.file(ctx, cmd)
	case "langs":
		return false, c.languages()
	default:
		return false, fmt.Errorf("unknown command /%s, try /help", cmd.name)
	}
}

func (c *console) who() {
	c.mu.Lock()
	defer c.mu.Unlock()

	table := tablewriter.NewWriter(c.out)
	table.SetHeader([]string{"Identity", "State"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, user := range c.engine.Directory().Users() {
		table.Append([]string{user.Identity(), formatState(user.State())})
	}
	table.Render()
}

func (c *console) find(ctx context.Context, cmd command) error {
	f, ok := domain.CapabilityAs[*finder.Finder](c.engine.Me(), finder.Namespace)
	if !ok {
		return fmt.Errorf("finder plugin not installed")
	}
	var (
		found []string
		err   error
	)
	if field, term, isField := strings.Cut(cmd.text, "="); isField {
		found, err = f.Find(ctx, strings.TrimSpace(field), strings.TrimSpace(term))
	} else {
		found, err = f.Match(ctx, cmd.text)
	}
	if err != nil {
		return err
	}
	if len(found) == 0 {
		c.printf(color.New(color.FgYellow), "nobody")
		return nil
	}
	c.printf(color.New(color.FgGreen), "%s", strings.Join(found, ", "))
	return nil
}

func (c *console) direct(ctx context.Context, cmd command) error {
	if len(cmd.args) < 2 {
		return fmt.Errorf("usage: /dm identity text")
	}
	peer, ok := c.engine.Directory().Get(cmd.args[0])
	if !ok {
		return fmt.Errorf("%s is not here", cmd.args[0])
	}
	ch, err := c.engine.DirectChat(ctx, peer)
	if err != nil {
		return err
	}
	c.watch(ch)
	text := strings.TrimSpace(strings.TrimPrefix(cmd.text, cmd.args[0]))
	return ch.Publish(ctx, event.Message, map[string]any{"text": text})
}

func (c *console) file(ctx context.Context, cmd command) error {
	if cmd.text == "" {
		return fmt.Errorf("usage: /file path")
	}
	content, err := os.ReadFile(cmd.text)
	if err != nil {
		return err
	}
	return c.currentChat().Publish(ctx, attachment.Event, map[string]any{
		"name":    filepath.Base(cmd.text),
		"content": base64.StdEncoding.EncodeToString(content),
	})
}

func (c *console) languages() error {
	languages, ok := domain.CapabilityAs[*language.Languages](c.currentChat(), language.Namespace)
	if !ok {
		return fmt.Errorf("language plugin not installed")
	}
	seen := languages.Seen()
	if len(seen) == 0 {
		c.printf(color.New(color.FgYellow), "no language detected yet")
		return nil
	}
	c.printf(color.New(color.FgGreen), "%s", strings.Join(lo.Map(seen, func(s language.Count, _ int) string {
		return fmt.Sprintf("%s=%d", s.Lang, s.Messages)
	}), " "))
	return nil
}

// formatState renders a state as sorted key=value pairs, hiding reserved keys.
func formatState(state domain.State) string {
	keys := lo.Filter(state.Keys(), func(k string, _ int) bool { return !strings.HasPrefix(k, "_") })
	return strings.Join(lo.Map(keys, func(k string, _ int) string {
		return fmt.Sprintf("%s=%v", k, state[k])
	}), " ")
}
