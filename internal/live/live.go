// Package live keeps a translation of a moving selection up to date.
//
// Each Session runs a single event loop that owns all of its state: the
// debounce timer, the interval ticker, the in-flight guard and the generation
// token that discards results arriving after the session moved on. Translation
// calls run outside the loop and report back over channels, so at most one is
// in progress per session.
package live

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/valpere/regiontran/internal"
	"github.com/valpere/regiontran/internal/stream"
)

const (
	DefaultDebounce = 800 * time.Millisecond
	DefaultInterval = 3 * time.Second
)

// Mode selects what drives a session. The two are mutually exclusive.
type Mode int

const (
	// ModeMovement translates after the selection has stopped moving.
	ModeMovement Mode = iota
	// ModeInterval translates on a fixed cadence.
	ModeInterval
)

func (m Mode) String() string {
	if m == ModeInterval {
		return "interval"
	}
	return "movement"
}

type State int

const (
	StateInactive State = iota
	StateIdle
	StateScheduled
	StateInFlight
	// StateInFlightPending is in flight with a movement seen since the
	// attempt started; a fresh debounce is armed once it resolves.
	StateInFlightPending
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateInFlight:
		return "in_flight"
	case StateInFlightPending:
		return "in_flight_pending"
	default:
		return "unknown"
	}
}

func (s State) inFlight() bool {
	return s == StateInFlight || s == StateInFlightPending
}

// Surface is the selection being translated.
type Surface interface {
	ID() string
	// CurrentCrop returns the content under the selection, or nil when the
	// selection no longer overlaps its source.
	CurrentCrop(ctx context.Context) (*internal.Payload, error)
	// OnMovementEnd registers fn to be called whenever the selection stops
	// moving. The returned func removes the registration.
	OnMovementEnd(fn func()) (unsubscribe func())
}

// Sink presents results. Calls come from the session's event loop, one at a
// time. A Sink must not call Deactivate.
type Sink interface {
	// OnUpdate delivers a partial result. A Delta event extends what the
	// sink shows; a Reset event replaces it with ev.Text. ev.Full is always
	// the whole text of the current attempt.
	OnUpdate(ev stream.Event)
	OnFinal(text string)
	OnError(message string)
}

// Translator is the single-shot translation entry point, including its
// credential gate.
type Translator interface {
	Translate(ctx context.Context, payload internal.Payload, targetLanguage string, h stream.Handler) (string, error)
}

type Config struct {
	TargetLanguage string
	Mode           Mode
	Debounce       time.Duration
	// Interval is the cadence in ModeInterval and the retry delay after a
	// failed cycle in ModeMovement.
	Interval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	return c
}

// Scheduler creates live sessions that share a translator and configuration.
type Scheduler struct {
	translator Translator
	config     Config
	logger     zerolog.Logger
}

func NewScheduler(t Translator, config Config, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		translator: t,
		config:     config.withDefaults(),
		logger:     logger,
	}
}

func (s *Scheduler) Config() Config {
	return s.config
}

// Activate starts a session on surface and triggers one translation
// immediately. ctx bounds the translation calls of the session; cancelling it
// does not deactivate the session.
func (s *Scheduler) Activate(ctx context.Context, surface Surface, sink Sink) (*Session, error) {
	switch {
	case surface == nil:
		return nil, errors.New("live: nil surface")
	case sink == nil:
		return nil, errors.New("live: nil sink")
	case s.translator == nil:
		return nil, internal.NewConfigurationError("live: no translator configured")
	case s.config.TargetLanguage == "":
		return nil, internal.NewConfigurationError("live: target language is required")
	}

	sess := newSession(ctx, s, surface, sink)
	go sess.loop()
	return sess, nil
}
