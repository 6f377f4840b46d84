// Package middleware runs plugin chains at the publish and broadcast injection points.
package middleware

import (
	"context"
	"fmt"

	"chat-engine/domain"
	"chat-engine/errors"
	"chat-engine/plugin"
)

// ChainSource resolves the ordered stages for an injection point.
type ChainSource interface {
	ChainFor(location domain.Location, event string) []plugin.Stage
}

// StageError reports which stage aborted a chain.
type StageError struct {
	Location  domain.Location
	Event     string
	Index     int
	Namespace string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("middleware %s/%s aborted at stage %d (%s): %v",
		e.Location, e.Event, e.Index, e.Namespace, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type Pipeline struct {
	source ChainSource
}

func NewPipeline(source ChainSource) *Pipeline {
	return &Pipeline{source: source}
}

// Run feeds seed through the chain of (location, event), one stage at a time.
// Each stage gets what the previous one produced. The first error stops the
// chain: no later stage runs and no payload is returned.
// Once started a run is never cancelled; ctx is only handed to the stages.
func (p *Pipeline) Run(ctx context.Context, location domain.Location, event string, seed *domain.Payload) (*domain.Payload, error) {
	stages := append([]plugin.Stage{{Namespace: "seed", Handler: seedStage(seed)}},
		p.source.ChainFor(location, event)...)

	var current *domain.Payload
	for i, stage := range stages {
		next, err := stage.Handler(ctx, current)
		if err == nil && next == nil {
			err = errors.ErrNilPayload
		}
		if err != nil {
			return nil, &StageError{
				Location:  location,
				Event:     event,
				Index:     i,
				Namespace: stage.Namespace,
				Err:       err,
			}
		}
		current = next
	}
	return current, nil
}

func seedStage(seed *domain.Payload) plugin.Handler {
	return func(context.Context, *domain.Payload) (*domain.Payload, error) {
		return seed, nil
	}
}
