// Package stream turns agent event sequences into Server-Sent-Events frames,
// interleaving an out-of-band title-generation task and guaranteeing a single
// terminal end frame per request.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/atelier-ai/atelier/pkg/agent"
)

// SSE event names on the wire.
const (
	EventMessagesPartial = "messages/partial"
	EventToolStart       = "tool/start"
	EventToolEnd         = "tool/end"
	EventInterrupt       = "interrupt"
	EventError           = "error"
	EventTitleUpdated    = "title_updated"
	EventEnd             = "end"
)

// Frame is one SSE frame ready for the wire.
type Frame struct {
	Event string
	Data  any
}

// Encode renders the frame in SSE wire format.
func (f Frame) Encode() ([]byte, error) {
	data, err := json.Marshal(f.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame data: %w", err)
	}
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", f.Event, data), nil
}

// Write encodes the frame to w and flushes when w supports it.
func (f Frame) Write(w io.Writer) error {
	encoded, err := f.Encode()
	if err != nil {
		return err
	}
	if _, err := w.Write(encoded); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// frameFor maps an internal event to its SSE frame. ok=false for DoneEvent:
// the multiplexer emits the terminal end frame itself, exactly once.
func frameFor(event agent.Event) (Frame, bool) {
	switch e := event.(type) {
	case *agent.TokenEvent:
		return Frame{Event: EventMessagesPartial, Data: map[string]any{"content": e.Text}}, true
	case *agent.ToolStartEvent:
		return Frame{Event: EventToolStart, Data: map[string]any{"tool": e.Name}}, true
	case *agent.ToolEndEvent:
		return Frame{Event: EventToolEnd, Data: map[string]any{"tool": e.Name}}, true
	case *agent.InterruptEvent:
		return Frame{Event: EventInterrupt, Data: map[string]any{
			"tool":        e.Name,
			"description": e.Description,
			"payload":     e.Payload,
			"questions":   e.Questions,
		}}, true
	case *agent.ErrorEvent:
		return Frame{Event: EventError, Data: map[string]any{"message": e.Message}}, true
	case *agent.TitleUpdatedEvent:
		return Frame{Event: EventTitleUpdated, Data: map[string]any{"title": e.Title}}, true
	default:
		return Frame{}, false
	}
}
