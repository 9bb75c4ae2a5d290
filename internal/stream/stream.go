// Package stream turns raw per-attempt text fragments into an explicit
// sequence of tagged events. A consumer never has to guess from string length
// whether new text extends what it shows or replaces it.
package stream

import (
	"strings"
	"sync"
)

type Kind int

const (
	// Delta appends Text to what was delivered before.
	Delta Kind = iota
	// Reset replaces everything delivered so far with Text. It is emitted on
	// the first fragment of an attempt that follows an attempt which had
	// already delivered text.
	Reset
	// Final carries the complete, cleaned result. It ends a Stream.
	Final
	// Failed carries the terminal error message. It ends a Stream.
	Failed
)

func (k Kind) String() string {
	switch k {
	case Delta:
		return "delta"
	case Reset:
		return "reset"
	case Final:
		return "final"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one step of a translation stream. Full is always the complete text
// of the current attempt after applying the event.
type Event struct {
	Kind       Kind
	Text       string
	Full       string
	EndpointID string
	Attempt    int
	Err        error
}

type Handler func(Event)

// Relay scopes streamed text to the attempt that is currently active. Each
// Begin call bumps a generation token; writers handed out by earlier calls
// become no-ops, so an abandoned attempt that keeps producing text can never
// leak into the output.
type Relay struct {
	mu        sync.Mutex
	out       Handler
	gen       uint64
	full      strings.Builder
	delivered bool
	reset     bool
	closed    bool
}

func NewRelay(out Handler) *Relay {
	return &Relay{out: out}
}

// Begin opens a new attempt and returns the writer for its fragments.
func (r *Relay) Begin(endpointID string, attempt int) func(chunk string) {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.full.Reset()
	if r.delivered {
		r.reset = true
	}
	r.mu.Unlock()

	return func(chunk string) {
		if chunk == "" {
			return
		}

		r.mu.Lock()
		if r.closed || gen != r.gen {
			r.mu.Unlock()
			return
		}
		r.full.WriteString(chunk)
		ev := Event{Kind: Delta, Text: chunk, Full: r.full.String(), EndpointID: endpointID, Attempt: attempt}
		if r.reset {
			ev.Kind = Reset
			ev.Text = ev.Full
			r.reset = false
		}
		r.delivered = true
		// Deliver under the lock so events reach the handler in order.
		r.out(ev)
		r.mu.Unlock()
	}
}

// Close invalidates every outstanding writer.
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	r.gen++
	r.mu.Unlock()
}

// Delivered reports whether any fragment reached the handler.
func (r *Relay) Delivered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delivered
}
