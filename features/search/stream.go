package search

import (
	"context"
	"errors"
)

type EventKind int

const (
	// EventResult carries one hit. Zero or more per stream.
	EventResult EventKind = iota
	// EventComplete ends a successful stream and carries the total count.
	EventComplete
	// EventError ends a failed stream and carries a message.
	EventError
)

// Event is one unit of a streaming search. A stream is a sequence of
// EventResult events followed by exactly one terminal event, after which
// the channel is closed.
type Event struct {
	Kind    EventKind
	Result  Result
	Total   int
	Message string
}

// streamBuffer bounds how far the producer can run ahead of a slow
// subscriber.
const streamBuffer = 16

// Stream runs a search and delivers incremental results on the returned
// channel. Cancelling ctx abandons the stream between results: the channel
// closes without a terminal event, since the subscriber is gone.
func (s *Service) Stream(ctx context.Context, q Query) <-chan Event {
	out := make(chan Event, streamBuffer)
	go func() {
		defer close(out)

		iter, err := s.open(ctx, q)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				emit(ctx, out, Event{Kind: EventError, Message: err.Error()})
			}
			return
		}
		defer iter.Close()

		total := 0
		for {
			hit, ok, err := iter.Next()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					emit(ctx, out, Event{Kind: EventError, Message: err.Error()})
				}
				return
			}
			if !ok {
				break
			}
			if !emit(ctx, out, Event{Kind: EventResult, Result: toResult(hit)}) {
				return
			}
			total++
		}
		emit(ctx, out, Event{Kind: EventComplete, Total: total})
	}()
	return out
}

// emit sends unless the subscriber has gone away. Cancellation wins over a
// ready buffer slot so an abandoned stream stops within one event.
func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
