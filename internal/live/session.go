package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/valpere/regiontran/internal/stream"
)

// Status is a snapshot of a session.
type Status struct {
	SurfaceID       string
	Mode            Mode
	Active          bool
	State           State
	InFlight        bool
	Cycles          int
	DebouncePending bool
	IntervalRunning bool
	LastReason      string
}

type partial struct {
	gen uint64
	ev  stream.Event
}

type cycleResult struct {
	gen  uint64
	text string
	err  error
}

type Session struct {
	ctx        context.Context
	surface    Surface
	sink       Sink
	translator Translator
	config     Config
	logger     zerolog.Logger

	moved    chan struct{}
	trigger  chan chan bool
	status   chan chan Status
	partials chan partial
	results  chan cycleResult
	stop     chan struct{}
	done     chan struct{}

	stopOnce sync.Once
	// final is written by the loop before done is closed.
	final Status

	// Owned by the loop goroutine.
	state      State
	gen        uint64
	cycles     int
	lastReason string
	debounce   *time.Timer
	debounceC  <-chan time.Time
	ticker     *time.Ticker
	tickC      <-chan time.Time
	unsub      func()
}

func newSession(ctx context.Context, sch *Scheduler, surface Surface, sink Sink) *Session {
	s := &Session{
		ctx:        ctx,
		surface:    surface,
		sink:       sink,
		translator: sch.translator,
		config:     sch.config,
		logger:     sch.logger.With().Str("surface", surface.ID()).Str("mode", sch.config.Mode.String()).Logger(),
		moved:      make(chan struct{}, 1),
		trigger:    make(chan chan bool),
		status:     make(chan chan Status),
		partials:   make(chan partial),
		results:    make(chan cycleResult),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		state:      StateIdle,
	}

	// Subscribe before the loop starts so no movement is missed.
	if s.config.Mode == ModeMovement {
		s.unsub = surface.OnMovementEnd(s.notifyMoved)
	}
	return s
}

// notifyMoved never blocks the surface: a pending notification already
// covers this one.
func (s *Session) notifyMoved() {
	select {
	case s.moved <- struct{}{}:
	default:
	}
}

// TriggerNow starts a translation without waiting for the debounce. It
// reports whether a translation was started; while one is in flight it does
// nothing.
func (s *Session) TriggerNow() bool {
	reply := make(chan bool, 1)
	select {
	case s.trigger <- reply:
		return <-reply
	case <-s.done:
		return false
	}
}

// Deactivate stops timers and the movement subscription and waits for the
// loop to exit. A translation in flight is not cancelled; its result is
// discarded. Safe to call more than once.
func (s *Session) Deactivate() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Done is closed once the session is inactive.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Status() Status {
	reply := make(chan Status, 1)
	select {
	case s.status <- reply:
		return <-reply
	case <-s.done:
		return s.final
	}
}

func (s *Session) loop() {
	defer close(s.done)

	if s.config.Mode == ModeInterval {
		s.ticker = time.NewTicker(s.config.Interval)
		s.tickC = s.ticker.C
	}
	s.startCycle("activate")

	for {
		select {
		case <-s.stop:
			s.shutdown()
			return

		case <-s.moved:
			s.onMoved()

		case reply := <-s.trigger:
			reply <- s.onTrigger()

		case reply := <-s.status:
			reply <- s.snapshot()

		case <-s.debounceC:
			s.debounceC = nil
			s.debounce = nil
			if s.state == StateScheduled {
				s.setState(StateIdle)
				s.startCycle(s.lastReason)
			}

		case <-s.tickC:
			if s.state == StateIdle {
				s.startCycle("interval")
			}

		case p := <-s.partials:
			if p.gen == s.gen && s.state.inFlight() {
				s.sink.OnUpdate(p.ev)
			}

		case r := <-s.results:
			s.onResult(r)
		}
	}
}

func (s *Session) onMoved() {
	switch s.state {
	case StateIdle, StateScheduled:
		s.schedule(s.config.Debounce, "movement")
	case StateInFlight:
		s.setState(StateInFlightPending)
	}
}

func (s *Session) onTrigger() bool {
	if s.state.inFlight() {
		s.logger.Debug().Msg("manual trigger ignored, translation in flight")
		return false
	}
	s.cancelDebounce()
	s.setState(StateIdle)
	return s.startCycle("manual")
}

func (s *Session) onResult(r cycleResult) {
	if r.gen != s.gen || !s.state.inFlight() {
		return
	}

	pending := s.state == StateInFlightPending
	s.setState(StateIdle)

	if r.err != nil {
		s.logger.Warn().Err(r.err).Int("cycle", s.cycles).Msg("live cycle failed")
		s.reportFailure("translation failed", r.err)
	} else {
		s.sink.OnFinal(r.text)
	}

	switch {
	case pending:
		s.schedule(s.config.Debounce, "movement")
	case r.err != nil && s.config.Mode == ModeMovement && s.ctx.Err() == nil:
		s.schedule(s.config.Interval, "retry")
	}
}

// reportFailure tells the sink about a failed cycle. Once the session context
// is done nothing will be retried, so the message does not promise it.
func (s *Session) reportFailure(what string, err error) {
	if s.ctx.Err() != nil {
		s.sink.OnError(fmt.Sprintf("%s: %v", what, err))
		return
	}
	s.sink.OnError(fmt.Sprintf("%s, will retry: %v", what, err))
}

// startCycle reads the selection and hands it to the translator. It must be
// called in StateIdle.
func (s *Session) startCycle(reason string) bool {
	s.lastReason = reason

	crop, err := s.surface.CurrentCrop(s.ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("reason", reason).Msg("could not read selection")
		s.reportFailure("could not read selection", err)
		if s.config.Mode == ModeMovement && s.ctx.Err() == nil {
			s.schedule(s.config.Interval, "retry")
		}
		return false
	}
	if crop == nil || crop.IsEmpty() {
		s.logger.Debug().Str("reason", reason).Msg("selection is empty, cycle skipped")
		return false
	}

	s.gen++
	s.cycles++
	s.setState(StateInFlight)

	gen := s.gen
	payload := *crop
	s.logger.Debug().Str("reason", reason).Int("cycle", s.cycles).Str("payload", payload.Kind.String()).Msg("live cycle started")

	go func() {
		text, err := s.translator.Translate(s.ctx, payload, s.config.TargetLanguage, func(ev stream.Event) {
			post(s, s.partials, partial{gen: gen, ev: ev})
		})
		post(s, s.results, cycleResult{gen: gen, text: text, err: err})
	}()
	return true
}

// post delivers to the loop unless the session has already stopped.
func post[T any](s *Session, ch chan T, v T) {
	select {
	case ch <- v:
	case <-s.done:
	}
}

func (s *Session) schedule(d time.Duration, reason string) {
	s.cancelDebounce()
	s.debounce = time.NewTimer(d)
	s.debounceC = s.debounce.C
	s.lastReason = reason
	s.setState(StateScheduled)
}

func (s *Session) cancelDebounce() {
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = nil
	s.debounceC = nil
}

func (s *Session) setState(st State) {
	if s.state != st {
		s.logger.Debug().Str("from", s.state.String()).Str("to", st.String()).Msg("live state changed")
	}
	s.state = st
}

func (s *Session) shutdown() {
	s.cancelDebounce()
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
		s.tickC = nil
	}
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	// Results of the attempt still in flight no longer match.
	s.gen++
	s.setState(StateInactive)
	s.final = s.snapshot()
	s.logger.Debug().Int("cycles", s.cycles).Msg("live session deactivated")
}

func (s *Session) snapshot() Status {
	return Status{
		SurfaceID:       s.surface.ID(),
		Mode:            s.config.Mode,
		Active:          s.state != StateInactive,
		State:           s.state,
		InFlight:        s.state.inFlight(),
		Cycles:          s.cycles,
		DebouncePending: s.debounce != nil,
		IntervalRunning: s.ticker != nil,
		LastReason:      s.lastReason,
	}
}
