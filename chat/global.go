package chat

import (
	"context"
	"fmt"

	"chat-engine/domain"
	"chat-engine/presence"
)

// GlobalChat is the chat every participant joins. It feeds the presence
// directory and announces join, leave, timeout and state-change locally.
type GlobalChat struct {
	*Chat
}

func NewGlobal(deps Deps, id string) (*GlobalChat, error) {
	g := &GlobalChat{}
	c, err := newChat(deps, id, domain.KindGlobalChat, g)
	if err != nil {
		return nil, err
	}
	g.Chat = c
	return g, nil
}

// Start subscribes then reconciles the current occupants. Every occupant
// holding an entity is announced as a join.
func (g *GlobalChat) Start(ctx context.Context) error {
	if err := g.Chat.Start(ctx); err != nil {
		return err
	}
	occupants, err := g.Transport.HereNow(ctx, g.id)
	if err != nil {
		return fmt.Errorf("here now %s: %w", g.id, err)
	}
	announcements, err := g.Directory.Reconcile(g.id, occupants)
	if err != nil {
		g.report(ctx, domain.FailureConstruction, "reconcile occupants", err)
	}
	for _, ann := range announcements {
		g.announce(ann)
	}
	g.Log.Info("Global chat ready", "channel", g.id, "occupants", len(occupants), "users", g.Directory.Len())
	return nil
}

func (g *GlobalChat) OnPresence(ev domain.PresenceEvent) {
	if ev.Channel != g.id {
		return
	}
	ann, ok, err := g.Directory.Apply(ev)
	if err != nil {
		g.report(g.baseCtx(), domain.FailureConstruction, "presence "+string(ev.Action), err)
		return
	}
	if ok {
		g.announce(ann)
	}
}

func (g *GlobalChat) announce(ann presence.Announcement) {
	ev := ann.Presence
	g.broadcast(ann.Event, &domain.Payload{
		Sender:   ev.Identity,
		User:     ann.User,
		Presence: &ev,
		Chat:     g.id,
		Data:     map[string]any{},
	})
}
