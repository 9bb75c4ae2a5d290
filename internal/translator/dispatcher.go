package translator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/valpere/regiontran/internal"
	"github.com/valpere/regiontran/internal/catalog"
	"github.com/valpere/regiontran/internal/postprocess"
)

// LanguageChecker verifies that output is written in the requested language.
type LanguageChecker interface {
	IsValid(translatedText, targetLang string) (bool, error)
}

// Dispatcher sends a single translation attempt to a single endpoint.
type Dispatcher struct {
	backends map[string]Backend
	checker  LanguageChecker
	logger   zerolog.Logger
}

type DispatcherOption func(*Dispatcher)

// WithLanguageChecker rejects plain-text answers in the wrong language as
// Malformed so that the orchestrator moves on to the next endpoint.
func WithLanguageChecker(c LanguageChecker) DispatcherOption {
	return func(d *Dispatcher) { d.checker = c }
}

func WithLogger(l zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

func NewDispatcher(backends []Backend, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		backends: make(map[string]Backend, len(backends)),
		logger:   zerolog.Nop(),
	}
	for _, b := range backends {
		d.backends[b.Kind()] = b
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Backend returns the backend registered for kind.
func (d *Dispatcher) Backend(kind string) (Backend, bool) {
	b, ok := d.backends[kind]
	return b, ok
}

// Invoke runs one attempt. Image payloads are always delivered as one batch
// result; text payloads stream through onChunk when the endpoint supports it.
// Every failure is returned as an *EndpointError, except cancellation of ctx
// and configuration errors, which must stop the fallback chain.
func (d *Dispatcher) Invoke(ctx context.Context, ep catalog.EndpointDescriptor, req internal.TranslationRequest, onChunk ChunkFunc) (string, error) {
	b, ok := d.backends[ep.Kind]
	if !ok {
		return "", internal.NewConfigurationError("endpoint %s: no backend registered for kind %q", ep.ID, ep.Kind)
	}
	if req.Payload.IsEmpty() {
		return "", malformed(ep.ID, "empty %s payload", req.Payload.Kind)
	}
	if !ep.Accepts(req.Payload.Kind) {
		return "", malformed(ep.ID, "endpoint does not accept %s payloads", req.Payload.Kind)
	}

	var chunks ChunkFunc
	if req.Payload.Kind == internal.PayloadText && ep.SupportsStreaming && onChunk != nil {
		chunks = onChunk
	}

	start := time.Now()
	raw, err := b.Translate(ctx, ep, req, chunks)
	d.logger.Debug().
		Str("endpoint", ep.ID).
		Str("kind", ep.Kind).
		Bool("streaming", chunks != nil).
		Dur("latency", time.Since(start)).
		Err(err).
		Msg("endpoint call finished")

	if err != nil {
		var cfgErr *internal.ConfigurationError
		if errors.Is(err, context.Canceled) || errors.As(err, &cfgErr) {
			return "", err
		}
		return "", AsEndpointError(ep.ID, err)
	}

	if req.Mode == internal.ModeStructured {
		if _, err := ParseStructured(raw); err != nil {
			return "", newEndpointError(ep.ID, Malformed, err)
		}
		return postprocess.StripCodeFence(raw), nil
	}

	text := postprocess.Clean(raw)
	if text == "" {
		return "", malformed(ep.ID, "empty response")
	}

	if d.checker != nil && req.Payload.Kind == internal.PayloadText {
		if ok, err := d.checker.IsValid(text, req.TargetLanguage); !ok {
			return "", newEndpointError(ep.ID, Malformed, fmt.Errorf("language check failed: %w", err))
		}
	}

	return text, nil
}
