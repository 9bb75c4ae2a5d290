package translator

import (
	"context"
	"errors"
	"fmt"

	translate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/valpere/regiontran/internal"
	"github.com/valpere/regiontran/internal/catalog"
)

// GoogleBackend uses Cloud Translation. It handles text payloads only and
// never streams.
type GoogleBackend struct {
	credentials string
}

func NewGoogleBackend(credentials string) *GoogleBackend {
	return &GoogleBackend{credentials: credentials}
}

func (s *GoogleBackend) Kind() string {
	return "google"
}

func (s *GoogleBackend) Translate(ctx context.Context, ep catalog.EndpointDescriptor, req internal.TranslationRequest, _ ChunkFunc) (string, error) {
	if req.Payload.Kind != internal.PayloadText {
		return "", malformed(ep.ID, "google backend accepts text payloads only")
	}
	if req.Mode == internal.ModeStructured {
		return "", malformed(ep.ID, "google backend cannot produce structured output")
	}

	targetLangTag, err := language.Parse(req.TargetLanguage)
	if err != nil {
		return "", malformed(ep.ID, "invalid target language: %v", err)
	}

	opts := []option.ClientOption{}
	if s.credentials != "" {
		opts = append(opts, option.WithCredentialsFile(s.credentials))
	}

	client, err := translate.NewClient(ctx, opts...)
	if err != nil {
		return "", internal.NewConfigurationError("endpoint %s: failed to create Google Translate client: %v", ep.ID, err)
	}
	defer client.Close()

	translations, err := client.Translate(ctx, []string{req.Payload.Text}, targetLangTag, &translate.Options{
		Format: translate.Text,
		Model:  ep.Model,
	})
	if err != nil {
		return "", classifyGoogleError(ep.ID, err)
	}

	if len(translations) == 0 {
		return "", malformed(ep.ID, "no translation returned")
	}

	return translations[0].Text, nil
}

func classifyGoogleError(endpoint string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return statusError(endpoint, gerr.Code, gerr.Message)
	}
	return newEndpointError(endpoint, Unknown, fmt.Errorf("translation failed: %w", err))
}

func (s *GoogleBackend) IsAvailable(ctx context.Context) error {
	return nil
}
