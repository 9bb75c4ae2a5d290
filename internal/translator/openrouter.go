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
	"time"

	"github.com/valpere/regiontran/internal"
	"github.com/valpere/regiontran/internal/catalog"
)

const defaultOpenRouterModel = "google/gemini-2.5-flash"

// OpenRouterBackend talks to any OpenAI-compatible chat completions API.
type OpenRouterBackend struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewOpenRouterBackend(apiKey, baseURL string) *OpenRouterBackend {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterBackend{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		// Deadlines come from the catalog; the client timeout is only a backstop.
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (s *OpenRouterBackend) Kind() string {
	return "openrouter"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream"`
}

func (s *OpenRouterBackend) buildRequest(ep catalog.EndpointDescriptor, req internal.TranslationRequest, stream bool) chatRequest {
	model := ep.Model
	if model == "" {
		model = defaultOpenRouterModel
	}

	var user chatMessage
	if req.Payload.Kind == internal.PayloadImage {
		dataURI := fmt.Sprintf("data:%s;base64,%s", req.Payload.MIMEType, base64.StdEncoding.EncodeToString(req.Payload.Image))
		user = chatMessage{Role: "user", Content: []chatContentPart{
			{Type: "text", Text: userText(req)},
			{Type: "image_url", ImageURL: &chatImageURL{URL: dataURI}},
		}}
	} else {
		user = chatMessage{Role: "user", Content: userText(req)}
	}

	return chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: buildSystemPrompt(req)},
			user,
		},
		MaxTokens: 4096,
		Stream:    stream,
	}
}

func (s *OpenRouterBackend) Translate(ctx context.Context, ep catalog.EndpointDescriptor, req internal.TranslationRequest, onChunk ChunkFunc) (string, error) {
	if s.apiKey == "" {
		return "", internal.NewConfigurationError("endpoint %s: OpenRouter API key required", ep.ID)
	}

	stream := onChunk != nil
	jsonData, err := json.Marshal(s.buildRequest(ep, req, stream))
	if err != nil {
		return "", malformed(ep.ID, "failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/chat/completions", s.baseURL), bytes.NewBuffer(jsonData))
	if err != nil {
		return "", malformed(ep.ID, "failed to create request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.apiKey))
	httpReq.Header.Set("HTTP-Referer", "https://regiontran.local")
	httpReq.Header.Set("X-Title", "RegionTran")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", transportError(ep.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", statusError(ep.ID, resp.StatusCode, string(body))
	}

	if stream {
		return s.readStream(ctx, ep, resp.Body, onChunk)
	}

	var chatResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", malformed(ep.ID, "failed to decode response: %v", err)
	}
	if chatResp.Error != nil {
		return "", statusError(ep.ID, chatResp.Error.Code, chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", malformed(ep.ID, "empty response from API")
	}

	return chatResp.Choices[0].Message.Content, nil
}

// readStream consumes a server-sent event stream of chat completion chunks.
func (s *OpenRouterBackend) readStream(ctx context.Context, ep catalog.EndpointDescriptor, body io.Reader, onChunk ChunkFunc) (string, error) {
	var full strings.Builder

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// Comments (": OPENROUTER PROCESSING") and blank separators carry no data.
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return full.String(), nil
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Error *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", malformed(ep.ID, "failed to decode stream chunk: %v", err)
		}
		if chunk.Error != nil {
			return "", statusError(ep.ID, chunk.Error.Code, chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		onChunk(delta)
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		return "", newEndpointError(ep.ID, Unavailable, fmt.Errorf("stream interrupted: %w", err))
	}

	// A stream that ends without [DONE] still counts if it produced text.
	if full.Len() == 0 {
		return "", malformed(ep.ID, "stream ended without content")
	}
	return full.String(), nil
}

func (s *OpenRouterBackend) IsAvailable(ctx context.Context) error {
	if s.apiKey == "" {
		return fmt.Errorf("OpenRouter API key not configured")
	}
	return nil
}
