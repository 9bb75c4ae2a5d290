// Package orchestrator walks the endpoint catalog in priority order until one
// endpoint produces a translation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/valpere/regiontran/internal"
	"github.com/valpere/regiontran/internal/catalog"
	"github.com/valpere/regiontran/internal/resilience"
	"github.com/valpere/regiontran/internal/stream"
	"github.com/valpere/regiontran/internal/translator"
)

// ErrAllEndpointsExhausted is the only backend failure surfaced to callers.
var ErrAllEndpointsExhausted = errors.New("all endpoints exhausted")

// ExhaustedError wraps the reason the last attempted endpoint gave up.
type ExhaustedError struct {
	Attempts []internal.AttemptOutcome
	Last     error
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return ErrAllEndpointsExhausted.Error()
	}
	return fmt.Sprintf("%s: %v", ErrAllEndpointsExhausted, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrAllEndpointsExhausted}
	}
	return []error{ErrAllEndpointsExhausted, e.Last}
}

// Invoker performs one attempt against one endpoint. *translator.Dispatcher
// satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, ep catalog.EndpointDescriptor, req internal.TranslationRequest, onChunk translator.ChunkFunc) (string, error)
}

type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

type Result struct {
	Text       string
	EndpointID string
	Attempts   []internal.AttemptOutcome
}

type Orchestrator struct {
	catalog *catalog.Catalog
	invoker Invoker
	config  Config
	logger  zerolog.Logger
}

func New(cat *catalog.Catalog, invoker Invoker, config Config, logger zerolog.Logger) *Orchestrator {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = resilience.DefaultMaxAttempts
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}
	return &Orchestrator{
		catalog: cat,
		invoker: invoker,
		config:  config,
		logger:  logger,
	}
}

// Catalog returns the endpoint chain the orchestrator walks.
func (o *Orchestrator) Catalog() *catalog.Catalog {
	return o.catalog
}

// Translate returns the text of the first endpoint that succeeds.
func (o *Orchestrator) Translate(ctx context.Context, req internal.TranslationRequest, h stream.Handler) (string, error) {
	res, err := o.Execute(ctx, req, h)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Execute runs the fallback chain. Each endpoint gets
// WithTimeout(retry(dispatch), timeout): the deadline bounds the endpoint's
// attempts and backoff together. When h is set, only the attempt that is
// currently active streams into it; switching attempts is announced with a
// Reset event.
func (o *Orchestrator) Execute(ctx context.Context, req internal.TranslationRequest, h stream.Handler) (*Result, error) {
	if o.catalog == nil || o.catalog.Len() == 0 {
		return nil, internal.NewConfigurationError("endpoint catalog is empty")
	}
	if o.invoker == nil {
		return nil, internal.NewConfigurationError("no dispatcher configured")
	}
	if !o.catalog.AcceptsAny(req.Payload.Kind) {
		return nil, internal.NewConfigurationError("no endpoint in the catalog accepts %s payloads", req.Payload.Kind)
	}

	var relay *stream.Relay
	if h != nil {
		relay = stream.NewRelay(h)
		defer relay.Close()
	}

	var (
		outcomes []internal.AttemptOutcome
		lastErr  error
	)

	for _, ep := range o.catalog.Entries() {
		if !ep.Accepts(req.Payload.Kind) {
			outcomes = append(outcomes, internal.AttemptOutcome{
				EndpointID: ep.ID,
				Kind:       internal.OutcomeSkipped,
				Reason:     fmt.Sprintf("does not accept %s payloads", req.Payload.Kind),
			})
			continue
		}

		run := o.runEndpoint(ctx, ep, req, relay)
		outcomes = append(outcomes, run.outcomes...)

		if run.err == nil {
			o.logger.Info().
				Str("request", req.ID).
				Str("endpoint", ep.ID).
				Int("attempts", len(run.outcomes)).
				Msg("translation succeeded")
			return &Result{Text: run.text, EndpointID: ep.ID, Attempts: outcomes}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var cfgErr *internal.ConfigurationError
		if errors.As(run.err, &cfgErr) {
			return nil, run.err
		}

		lastErr = run.err
		o.logger.Warn().
			Str("request", req.ID).
			Str("endpoint", ep.ID).
			Str("outcome", string(resilience.Classify(run.err))).
			Err(run.err).
			Msg("endpoint failed, falling back")
	}

	return nil, &ExhaustedError{Attempts: outcomes, Last: lastErr}
}

type endpointRun struct {
	text     string
	err      error
	outcomes []internal.AttemptOutcome
}

// runEndpoint drives one catalog entry. Attempts still running after the
// deadline are sealed out: they can neither record outcomes nor open a
// stream attempt once runEndpoint has returned.
func (o *Orchestrator) runEndpoint(ctx context.Context, ep catalog.EndpointDescriptor, req internal.TranslationRequest, relay *stream.Relay) endpointRun {
	var (
		mu       sync.Mutex
		sealed   bool
		current  int
		outcomes []internal.AttemptOutcome
	)

	policy := resilience.RetryPolicy{
		MaxAttempts: o.config.MaxAttempts,
		BaseDelay:   o.config.RetryDelay,
		Observe: func(attempt int, err error, latency time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			// An attempt cut off by the deadline is recorded once, as timed out.
			if sealed || errors.Is(err, context.Canceled) {
				return
			}
			out := internal.AttemptOutcome{
				EndpointID:    ep.ID,
				AttemptNumber: attempt,
				Kind:          resilience.Classify(err),
				Latency:       latency,
			}
			if err != nil {
				out.Reason = err.Error()
			}
			outcomes = append(outcomes, out)
			o.logger.Debug().
				Str("request", req.ID).
				Str("endpoint", ep.ID).
				Int("attempt", attempt).
				Str("outcome", string(out.Kind)).
				Dur("latency", latency).
				Msg("attempt finished")
		},
	}

	text, err := resilience.WithTimeout(ctx, ep.Timeout, func(tctx context.Context) (string, error) {
		return policy.Do(tctx, func(actx context.Context, attempt int) (string, error) {
			mu.Lock()
			if sealed {
				mu.Unlock()
				return "", context.Canceled
			}
			current = attempt
			var onChunk translator.ChunkFunc
			if relay != nil {
				onChunk = relay.Begin(ep.ID, attempt)
			}
			mu.Unlock()

			return o.invoker.Invoke(actx, ep, req, onChunk)
		})
	})

	mu.Lock()
	sealed = true
	if errors.Is(err, resilience.ErrTimedOut) {
		outcomes = append(outcomes, internal.AttemptOutcome{
			EndpointID:    ep.ID,
			AttemptNumber: current,
			Kind:          internal.OutcomeTimedOut,
			Reason:        err.Error(),
			Latency:       ep.Timeout,
		})
	}
	if err == nil && len(outcomes) > 0 {
		outcomes[len(outcomes)-1].Text = text
	}
	run := endpointRun{text: text, err: err, outcomes: outcomes}
	mu.Unlock()

	return run
}

// Stream runs Execute and exposes its progress as a channel of events. The
// channel ends with exactly one Final or Failed event and is then closed.
// Sends block until the consumer reads or ctx is cancelled.
func (o *Orchestrator) Stream(ctx context.Context, req internal.TranslationRequest) <-chan stream.Event {
	events := make(chan stream.Event)

	go func() {
		defer close(events)

		send := func(ev stream.Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}

		res, err := o.Execute(ctx, req, send)
		if err != nil {
			send(stream.Event{Kind: stream.Failed, Text: err.Error(), Err: err})
			return
		}
		send(stream.Event{Kind: stream.Final, Text: res.Text, Full: res.Text, EndpointID: res.EndpointID})
	}()

	return events
}
