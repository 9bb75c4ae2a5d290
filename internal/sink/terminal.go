// Package sink renders live results.
package sink

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/valpere/regiontran/internal/stream"
)

// Terminal writes results to a plain stream. Delta events are appended to
// the open line; a Reset, such as a fallback to another endpoint, prints the
// replacement text on a fresh line marked with "~ ".
type Terminal struct {
	mu   sync.Mutex
	out  io.Writer
	errw io.Writer
	// shown is the full text of the current attempt on the open line.
	shown string
	open  bool
}

// NewTerminal writes results to out and error messages to errw. When errw is
// nil errors go to out.
func NewTerminal(out, errw io.Writer) *Terminal {
	if errw == nil {
		errw = out
	}
	return &Terminal{out: out, errw: errw}
}

func (t *Terminal) OnUpdate(ev stream.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Kind {
	case stream.Delta:
		fmt.Fprint(t.out, ev.Text)
	case stream.Reset:
		if t.open {
			fmt.Fprint(t.out, "\n~ ")
		}
		fmt.Fprint(t.out, ev.Text)
	default:
		return
	}
	t.shown = ev.Full
	t.open = true
}

// OnFinal ends the open line. The final text is cleaned after streaming, so
// it is printed again as a replacement only when it differs from what was
// streamed.
func (t *Terminal) OnFinal(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case !t.open:
		fmt.Fprintln(t.out, text)
	case strings.TrimSpace(t.shown) == strings.TrimSpace(text):
		fmt.Fprintln(t.out)
	default:
		fmt.Fprintf(t.out, "\n~ %s\n", text)
	}
	t.shown = ""
	t.open = false
}

func (t *Terminal) OnError(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		fmt.Fprintln(t.out)
	}
	t.shown = ""
	t.open = false
	fmt.Fprintf(t.errw, "! %s\n", message)
}
