//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-engine/domain"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Listener receives inbound transport events.
// A transport calls its listeners from a single dispatch goroutine.
type Listener interface {
	OnStatus(status domain.StatusEvent)
	OnMessage(channel string, message domain.WireMessage)
	OnPresence(presence domain.PresenceEvent)
}

// Transport is the real-time publish/subscribe capability the engine builds on.
// Reliability, reconnection and ordering across the wire are its concern.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, channels []string, withPresence bool) error
	Unsubscribe(ctx context.Context, channels []string) error
	Publish(ctx context.Context, channel string, message domain.WireMessage) error
	SetPresenceState(ctx context.Context, state domain.State, channels []string) error
	HereNow(ctx context.Context, channel string) ([]domain.Occupant, error)
	AddListener(listener Listener) (remove func())
	Close() error
}

// ErrorPolicy decides what happens to failures no caller can observe.
type ErrorPolicy interface {
	Handle(ctx context.Context, failure domain.Failure)
}

// StateStore keeps the local participant state between runs.
type StateStore interface {
	Save(identity string, state domain.State) error
	Load(identity string) (domain.State, error)
}

// EventSink consumes envelopes fanned out by a hub.
type EventSink interface {
	Consume(ctx context.Context, envelope domain.Envelope) error
}
