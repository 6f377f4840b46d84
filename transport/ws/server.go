package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"chat-engine/domain"
	"chat-engine/errors"
	"chat-engine/hub"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	outboundBuffer = 256
)

// Handler upgrades HTTP requests and bridges each connection to a hub session.
type Handler struct {
	log      *slog.Logger
	hub      *hub.Hub
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	shutdown bool
	wg       sync.WaitGroup
}

func NewHandler(log *slog.Logger, h *hub.Hub) *Handler {
	return &Handler{
		log: log,
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		http.Error(w, "identity is required", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Upgrade failed", "identity", identity, "error", err)
		return
	}
	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.conns[conn] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		h.wg.Done()
	}()
	h.serve(r.Context(), conn, identity)
}

// Shutdown closes every open connection and waits for their sessions to end.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.shutdown = true
	for conn := range h.conns {
		_ = conn.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, identity string) {
	ctx = context.WithoutCancel(ctx)
	s := &connSink{
		outbound: make(chan Frame, outboundBuffer),
		done:     make(chan struct{}),
	}
	sessionID := h.hub.Connect(identity, s)
	h.log.Info("Client connected", "identity", identity, "session", sessionID, "remote", conn.RemoteAddr().String())

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		h.write(conn, s)
	}()

	_ = s.send(ctx, Frame{Type: FrameHello, Identity: identity})
	h.read(ctx, conn, sessionID, s)

	h.hub.Disconnect(ctx, sessionID)
	close(s.done)
	writer.Wait()
	_ = conn.Close()
	h.log.Info("Client disconnected", "identity", identity, "session", sessionID)
}

func (h *Handler) read(ctx context.Context, conn *websocket.Conn, sessionID string, s *connSink) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		h.hub.Touch(sessionID)
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("Read failed", "session", sessionID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		reply := h.handle(ctx, sessionID, frame)
		if err := s.send(ctx, reply); err != nil {
			return
		}
	}
}

func (h *Handler) handle(ctx context.Context, sessionID string, frame Frame) Frame {
	switch frame.Type {
	case FrameSubscribe:
		return ack(frame.Seq, h.hub.Subscribe(ctx, sessionID, frame.Channels, frame.Presence))
	case FrameUnsubscribe:
		return ack(frame.Seq, h.hub.Unsubscribe(ctx, sessionID, frame.Channels))
	case FramePublish:
		if frame.Message == nil {
			return ack(frame.Seq, fmt.Errorf("publish on %s: no message", frame.Channel))
		}
		return ack(frame.Seq, h.hub.Publish(ctx, sessionID, frame.Channel, *frame.Message))
	case FrameState:
		return ack(frame.Seq, h.hub.SetState(ctx, sessionID, frame.State, frame.Channels))
	case FrameHereNow:
		h.hub.Touch(sessionID)
		reply := ack(frame.Seq, nil)
		reply.Channel = frame.Channel
		reply.Occupants = h.hub.HereNow(frame.Channel)
		return reply
	default:
		return ack(frame.Seq, fmt.Errorf("unexpected frame %q", frame.Type))
	}
}

func (h *Handler) write(conn *websocket.Conn, s *connSink) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case frame := <-s.outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				h.log.Debug("Write failed", "error", err)
				_ = conn.Close()
				s.drain()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				s.drain()
				return
			}
		}
	}
}

// connSink queues frames for the connection writer.
type connSink struct {
	outbound chan Frame
	done     chan struct{}
}

// drain discards frames until the session ends.
func (s *connSink) drain() {
	for {
		select {
		case <-s.done:
			return
		case <-s.outbound:
		}
	}
}

func (s *connSink) Consume(ctx context.Context, envelope domain.Envelope) error {
	return s.send(ctx, Frame{Type: FrameEnvelope, Envelope: &envelope})
}

func (s *connSink) send(ctx context.Context, frame Frame) error {
	select {
	case s.outbound <- frame:
		return nil
	case <-s.done:
		return errors.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
