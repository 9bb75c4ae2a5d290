package translator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/valpere/regiontran/internal"
	"github.com/valpere/regiontran/internal/catalog"
)

const defaultOllamaModel = "gemma3:12b"

type OllamaBackend struct {
	baseURL string
	client  *http.Client
}

func NewOllamaBackend(baseURL string) *OllamaBackend {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

func (s *OllamaBackend) Kind() string {
	return "ollama"
}

type ollamaRequest struct {
	Model  string   `json:"model"`
	System string   `json:"system"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
	Format string   `json:"format,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (s *OllamaBackend) Translate(ctx context.Context, ep catalog.EndpointDescriptor, req internal.TranslationRequest, onChunk ChunkFunc) (string, error) {
	model := ep.Model
	if model == "" {
		model = defaultOllamaModel
	}

	ollamaReq := ollamaRequest{
		Model:  model,
		System: buildSystemPrompt(req),
		Prompt: userText(req),
		Stream: onChunk != nil,
	}
	if req.Payload.Kind == internal.PayloadImage {
		ollamaReq.Images = []string{base64.StdEncoding.EncodeToString(req.Payload.Image)}
	}
	if req.Mode == internal.ModeStructured {
		ollamaReq.Format = "json"
	}

	jsonData, err := json.Marshal(ollamaReq)
	if err != nil {
		return "", malformed(ep.ID, "failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/generate", s.baseURL), bytes.NewBuffer(jsonData))
	if err != nil {
		return "", malformed(ep.ID, "failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", transportError(ep.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", statusError(ep.ID, resp.StatusCode, string(body))
	}

	if onChunk != nil {
		return s.readStream(ctx, ep, resp.Body, onChunk)
	}

	var ollamaResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return "", malformed(ep.ID, "failed to decode response: %v", err)
	}
	if ollamaResp.Error != "" {
		return "", newEndpointError(ep.ID, Unknown, errors.New(ollamaResp.Error))
	}

	return ollamaResp.Response, nil
}

// readStream consumes newline-delimited JSON objects until one reports done.
func (s *OllamaBackend) readStream(ctx context.Context, ep catalog.EndpointDescriptor, body io.Reader, onChunk ChunkFunc) (string, error) {
	var full strings.Builder

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", malformed(ep.ID, "failed to decode stream chunk: %v", err)
		}
		if chunk.Error != "" {
			return "", newEndpointError(ep.ID, Unknown, errors.New(chunk.Error))
		}
		if chunk.Response != "" {
			full.WriteString(chunk.Response)
			onChunk(chunk.Response)
		}
		if chunk.Done {
			return full.String(), nil
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		return "", newEndpointError(ep.ID, Unavailable, fmt.Errorf("stream interrupted: %w", err))
	}
	return "", newEndpointError(ep.ID, Unavailable, errors.New("stream closed before completion"))
}

func (s *OllamaBackend) IsAvailable(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/tags", s.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("Ollama not available: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Ollama returned status %d", resp.StatusCode)
	}
	return nil
}
