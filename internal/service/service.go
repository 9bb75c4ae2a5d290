// Package service is the entry point used by the CLI: single-shot and
// structured translation behind a credential gate, and live sessions.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"github.com/valpere/regiontran/internal"
	"github.com/valpere/regiontran/internal/detector"
	"github.com/valpere/regiontran/internal/live"
	"github.com/valpere/regiontran/internal/orchestrator"
	"github.com/valpere/regiontran/internal/stream"
	"github.com/valpere/regiontran/internal/translator"
)

// ErrQuotaExhausted is returned when the credential gate refuses a request.
// The orchestrator is not called in that case.
var ErrQuotaExhausted = errors.New("translation quota exhausted")

// CredentialGate must grant a reservation before every orchestrated call.
type CredentialGate interface {
	Reserve(ctx context.Context) (internal.Reservation, error)
}

type unlimitedGate struct{}

func (unlimitedGate) Reserve(context.Context) (internal.Reservation, error) {
	return internal.Reservation{Allowed: true, Remaining: -1}, nil
}

// Unlimited returns a gate that grants every reservation.
func Unlimited() CredentialGate {
	return unlimitedGate{}
}

// Cache is the translation memory consulted before plain translations.
type Cache interface {
	GetCachedTranslation(ctx context.Context, payload internal.Payload, targetLang string) (string, bool, error)
	SaveToMemory(ctx context.Context, payload internal.Payload, targetLang, finalText, endpointUsed string) error
}

// Recorder persists requests and their attempt log.
type Recorder interface {
	SaveRequest(ctx context.Context, req internal.TranslationRequest) error
	SaveAttempts(ctx context.Context, requestID string, outcomes []internal.AttemptOutcome) error
}

type Service struct {
	orch     *orchestrator.Orchestrator
	gate     CredentialGate
	cache    Cache
	recorder Recorder
	det      *detector.Detector
	logger   zerolog.Logger
}

type Option func(*Service)

func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithDetector fills in the source language of structured results when the
// backend leaves it out.
func WithDetector(d *detector.Detector) Option {
	return func(s *Service) { s.det = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(orch *orchestrator.Orchestrator, gate CredentialGate, opts ...Option) *Service {
	s := &Service{
		orch:   orch,
		gate:   gate,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Translate returns a plain translation of payload. Partial results are
// delivered to h as tagged stream events when the active endpoint streams.
func (s *Service) Translate(ctx context.Context, payload internal.Payload, targetLanguage string, h stream.Handler) (string, error) {
	req, err := s.newRequest(payload, targetLanguage, internal.ModePlain)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		text, found, err := s.cache.GetCachedTranslation(ctx, payload, req.TargetLanguage)
		if err != nil {
			s.logger.Warn().Err(err).Msg("translation memory lookup failed")
		} else if found {
			s.logger.Debug().Str("request", req.ID).Msg("translation memory hit")
			return text, nil
		}
	}

	res, err := s.execute(ctx, req, h)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		if err := s.cache.SaveToMemory(ctx, payload, req.TargetLanguage, res.Text, res.EndpointID); err != nil {
			s.logger.Warn().Err(err).Msg("failed to save to translation memory")
		}
	}
	return res.Text, nil
}

// TranslateStructured returns the source text, transliteration, translation
// and word alignment. It never streams and never uses the translation memory.
func (s *Service) TranslateStructured(ctx context.Context, payload internal.Payload, targetLanguage string) (*translator.StructuredTranslation, error) {
	req, err := s.newRequest(payload, targetLanguage, internal.ModeStructured)
	if err != nil {
		return nil, err
	}

	res, err := s.execute(ctx, req, nil)
	if err != nil {
		return nil, err
	}

	st, err := translator.ParseStructured(res.Text)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s returned an unreadable structured result: %w", res.EndpointID, err)
	}

	if payload.Kind == internal.PayloadText {
		if st.OriginalText == "" {
			st.OriginalText = payload.Text
		}
		if st.DetectedLanguage == "" && s.det != nil {
			if tag, ok := s.det.DetectTag(payload.Text); ok {
				st.DetectedLanguage = tag.String()
			}
		}
	}
	return st, nil
}

// NewScheduler returns a live scheduler whose cycles go through Translate and
// therefore through the credential gate.
func (s *Service) NewScheduler(cfg live.Config) *live.Scheduler {
	return live.NewScheduler(s, cfg, s.logger)
}

func (s *Service) newRequest(payload internal.Payload, targetLanguage string, mode internal.OutputMode) (internal.TranslationRequest, error) {
	if payload.IsEmpty() {
		return internal.TranslationRequest{}, fmt.Errorf("nothing to translate: empty %s payload", payload.Kind)
	}
	tag, err := language.Parse(targetLanguage)
	if err != nil {
		return internal.TranslationRequest{}, fmt.Errorf("invalid target language %q: %w", targetLanguage, err)
	}
	return internal.NewTranslationRequest(payload, tag.String(), mode), nil
}

func (s *Service) execute(ctx context.Context, req internal.TranslationRequest, h stream.Handler) (*orchestrator.Result, error) {
	if s.orch == nil {
		return nil, internal.NewConfigurationError("no orchestrator configured")
	}
	if s.gate == nil {
		return nil, internal.NewConfigurationError("no credential gate configured")
	}

	reservation, err := s.gate.Reserve(ctx)
	if err != nil {
		return nil, fmt.Errorf("credential check failed: %w", err)
	}
	if !reservation.Allowed {
		return nil, ErrQuotaExhausted
	}

	res, err := s.orch.Execute(ctx, req, h)
	s.record(ctx, req, res, err)
	return res, err
}

func (s *Service) record(ctx context.Context, req internal.TranslationRequest, res *orchestrator.Result, execErr error) {
	if s.recorder == nil {
		return
	}

	var outcomes []internal.AttemptOutcome
	var exhausted *orchestrator.ExhaustedError
	switch {
	case res != nil:
		outcomes = res.Attempts
	case errors.As(execErr, &exhausted):
		outcomes = exhausted.Attempts
	default:
		return
	}

	// Persist even when the caller's context was cancelled right after.
	ctx = context.WithoutCancel(ctx)
	if err := s.recorder.SaveRequest(ctx, req); err != nil {
		s.logger.Warn().Err(err).Str("request", req.ID).Msg("failed to save request")
		return
	}
	if err := s.recorder.SaveAttempts(ctx, req.ID, outcomes); err != nil {
		s.logger.Warn().Err(err).Str("request", req.ID).Msg("failed to save attempt log")
	}
}
