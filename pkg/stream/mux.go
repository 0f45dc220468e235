package stream

import (
	"context"
	"sync/atomic"

	"github.com/atelier-ai/atelier/pkg/agent"
)

// queueSize bounds the internal frame queue so a slow client backpressures
// the producers naturally.
const queueSize = 64

// TitleTask is the optional out-of-band title producer. It returns the new
// title and true when a title was generated and persisted; failures are
// swallowed upstream and reported as false.
type TitleTask func(ctx context.Context) (string, bool)

// Multiplex merges an agent event sequence with an optional title task into a
// single frame sequence.
//
// Guarantees: token order is preserved as emitted by the agent; the title
// frame may land anywhere before the end frame; while the request is live the
// returned channel delivers exactly one end frame, always last, then closes.
// Once ctx is cancelled the channel closes without further frames and every
// internal goroutine exits.
func Multiplex(ctx context.Context, events <-chan agent.Event, title TitleTask) <-chan Frame {
	inner := make(chan Frame, queueSize)
	out := make(chan Frame, queueSize)

	producers := int32(1)
	if title != nil {
		producers = 2
	}
	var countdown atomic.Int32
	countdown.Store(producers)
	finish := func() {
		// The producer that brings the countdown to zero enqueues the
		// sentinel (channel close) that ends the consumer loop.
		if countdown.Add(-1) == 0 {
			close(inner)
		}
	}

	// Agent producer. Always drains the event channel so the agent goroutine
	// never blocks on a cancelled request.
	go func() {
		defer finish()
		cancelled := false
		for event := range events {
			if cancelled {
				continue
			}
			frame, ok := frameFor(event)
			if !ok {
				continue
			}
			select {
			case inner <- frame:
			case <-ctx.Done():
				cancelled = true
			}
		}
	}()

	if title != nil {
		go func() {
			defer finish()
			if newTitle, ok := title(ctx); ok {
				select {
				case inner <- Frame{Event: EventTitleUpdated, Data: map[string]any{"title": newTitle}}:
				case <-ctx.Done():
				}
			}
		}()
	}

	// Consumer: forward frames, then emit the terminal end frame exactly once.
	// A disconnected client stops reading out, so every forward also watches
	// ctx; otherwise this goroutine would wedge behind the full buffer.
	go func() {
		defer close(out)
		for frame := range inner {
			select {
			case out <- frame:
			case <-ctx.Done():
				// Client gone: discard the rest so the producers can finish.
				for range inner {
				}
				return
			}
		}
		select {
		case out <- Frame{Event: EventEnd, Data: map[string]any{}}:
		case <-ctx.Done():
		}
	}()

	return out
}
