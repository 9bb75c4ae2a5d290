package translator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/valpere/regiontran/internal"
	"github.com/valpere/regiontran/internal/catalog"
)

// MyMemoryBackend calls the free MyMemory API. Text only, batch only; the
// source language is always auto-detected by the service.
type MyMemoryBackend struct {
	email   string
	baseURL string
	client  *http.Client
}

func NewMyMemoryBackend(email string) *MyMemoryBackend {
	return &MyMemoryBackend{
		email:   email,
		baseURL: "https://api.mymemory.translated.net",
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *MyMemoryBackend) Kind() string {
	return "mymemory"
}

func (s *MyMemoryBackend) Translate(ctx context.Context, ep catalog.EndpointDescriptor, req internal.TranslationRequest, _ ChunkFunc) (string, error) {
	if req.Payload.Kind != internal.PayloadText {
		return "", malformed(ep.ID, "mymemory backend accepts text payloads only")
	}
	if req.Mode == internal.ModeStructured {
		return "", malformed(ep.ID, "mymemory backend cannot produce structured output")
	}

	q := url.Values{}
	q.Set("q", req.Payload.Text)
	q.Set("langpair", fmt.Sprintf("autodetect|%s", req.TargetLanguage))
	if s.email != "" {
		q.Set("de", s.email)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/get?"+q.Encode(), nil)
	if err != nil {
		return "", malformed(ep.ID, "failed to create request: %v", err)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", transportError(ep.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", statusError(ep.ID, resp.StatusCode, string(body))
	}

	var mymemResp struct {
		ResponseData struct {
			TranslatedText string `json:"translatedText"`
		} `json:"responseData"`
		ResponseStatus  json.Number `json:"responseStatus"`
		ResponseDetails string      `json:"responseDetails"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&mymemResp); err != nil {
		return "", malformed(ep.ID, "failed to decode response: %v", err)
	}

	// The API reports quota and validation problems in the body with HTTP 200.
	status, _ := mymemResp.ResponseStatus.Int64()
	if status != http.StatusOK {
		return "", statusError(ep.ID, int(status), mymemResp.ResponseDetails)
	}
	if mymemResp.ResponseData.TranslatedText == "" {
		return "", newEndpointError(ep.ID, Malformed, errors.New("empty translation"))
	}

	return mymemResp.ResponseData.TranslatedText, nil
}

func (s *MyMemoryBackend) IsAvailable(ctx context.Context) error {
	return nil
}
