// ABOUTME: Sink combinator delivering each published event to several sinks
// ABOUTME: Nil sinks are skipped so optional components can be passed as-is

package feed

import (
	"context"

	"github.com/2389/topicmesh/internal/event"
	"github.com/2389/topicmesh/internal/runtime"
)

type tee []runtime.Sink

// Tee returns a sink that forwards to every non-nil sink in order. It returns
// nil when no sinks remain.
func Tee(sinks ...runtime.Sink) runtime.Sink {
	var out tee
	for _, s := range sinks {
		if s == nil {
			continue
		}
		out = append(out, s)
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

func (t tee) Emit(ctx context.Context, topic string, sequence int64, ev event.DomainEvent) {
	for _, s := range t {
		s.Emit(ctx, topic, sequence, ev)
	}
}
