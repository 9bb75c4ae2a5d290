package internal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PayloadKind int

const (
	PayloadText PayloadKind = iota
	PayloadImage
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadText:
		return "text"
	case PayloadImage:
		return "image"
	default:
		return fmt.Sprintf("payload(%d)", int(k))
	}
}

// Payload is the content to translate: either plain text or an encoded image
// (PNG/JPEG bytes) cropped from the selection.
type Payload struct {
	Kind     PayloadKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	Image    []byte      `json:"-"`
	MIMEType string      `json:"mime_type,omitempty"`
}

func TextPayload(text string) Payload {
	return Payload{Kind: PayloadText, Text: text}
}

func ImagePayload(data []byte, mimeType string) Payload {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return Payload{Kind: PayloadImage, Image: data, MIMEType: mimeType}
}

func (p Payload) IsEmpty() bool {
	if p.Kind == PayloadImage {
		return len(p.Image) == 0
	}
	return p.Text == ""
}

// OutputMode selects the shape of the answer requested from a backend.
type OutputMode int

const (
	ModePlain OutputMode = iota
	ModeStructured
)

// TranslationRequest is created once per user or scheduler action and is not
// mutated after it has been dispatched.
type TranslationRequest struct {
	ID             string     `json:"id"`
	Payload        Payload    `json:"payload"`
	TargetLanguage string     `json:"target_language"`
	Mode           OutputMode `json:"mode"`
	CreatedAt      time.Time  `json:"created_at"`
}

func NewTranslationRequest(payload Payload, targetLanguage string, mode OutputMode) TranslationRequest {
	return TranslationRequest{
		ID:             uuid.New().String(),
		Payload:        payload,
		TargetLanguage: targetLanguage,
		Mode:           mode,
		CreatedAt:      time.Now(),
	}
}

type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeTransient OutcomeKind = "transient"
	OutcomeFatal     OutcomeKind = "fatal"
	OutcomeTimedOut  OutcomeKind = "timed_out"
	OutcomeSkipped   OutcomeKind = "skipped"
)

// AttemptOutcome records how a single call to one endpoint ended.
type AttemptOutcome struct {
	EndpointID    string        `json:"endpoint_id"`
	AttemptNumber int           `json:"attempt_number"`
	Kind          OutcomeKind   `json:"outcome"`
	Text          string        `json:"text,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Latency       time.Duration `json:"latency"`
}

// ConfigurationError reports a setup problem (missing credentials, an empty
// or inconsistent catalog). It is never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func NewConfigurationError(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// Reservation is the answer of a credential gate. Remaining is the balance
// left after the reservation; it is -1 for gates without a limit.
type Reservation struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
}
