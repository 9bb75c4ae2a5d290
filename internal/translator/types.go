package translator

import (
	"context"

	"github.com/valpere/regiontran/internal"
	"github.com/valpere/regiontran/internal/catalog"
)

// ChunkFunc receives incremental text as a backend streams it. Each call
// carries only the newly produced fragment.
type ChunkFunc func(chunk string)

// Backend performs one translation call against one kind of remote service.
// When onChunk is nil the call must deliver the result as a single batch.
type Backend interface {
	Kind() string
	Translate(ctx context.Context, ep catalog.EndpointDescriptor, req internal.TranslationRequest, onChunk ChunkFunc) (string, error)
	IsAvailable(ctx context.Context) error
}

// Credentials groups the per-kind connection settings used to build backends.
type Credentials struct {
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OllamaBaseURL     string
	GoogleCredentials string
	MyMemoryEmail     string
	LambdaRegion      string
}
