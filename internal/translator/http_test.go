package translator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/valpere/regiontran/internal"
	"github.com/valpere/regiontran/internal/catalog"
)

var testEndpoint = catalog.EndpointDescriptor{ID: "test", Kind: "openrouter", Model: "m", Timeout: time.Second, SupportsStreaming: true, SupportsImagePayload: true}

func textRequest(text string) internal.TranslationRequest {
	return internal.NewTranslationRequest(internal.TextPayload(text), "uk", internal.ModePlain)
}

func TestOpenRouterBackend_Translate_NoAPIKey(t *testing.T) {
	svc := NewOpenRouterBackend("", "")

	_, err := svc.Translate(context.Background(), testEndpoint, textRequest("Hello"), nil)

	var cfgErr *internal.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestOpenRouterBackend_Translate_Batch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("expected stream=false for batch call")
		}
		if req.Model != "m" {
			t.Errorf("expected model 'm', got %q", req.Model)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "Привіт"}},
			},
		})
	}))
	defer server.Close()

	svc := NewOpenRouterBackend("key", server.URL)

	text, err := svc.Translate(context.Background(), testEndpoint, textRequest("Hello"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Привіт" {
		t.Errorf("expected 'Привіт', got %q", text)
	}
}

func TestOpenRouterBackend_Translate_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("expected stream=true")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": OPENROUTER PROCESSING\n\n")
		for _, part := range []string{"При", "віт", ", світе"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	svc := NewOpenRouterBackend("key", server.URL)

	var chunks []string
	text, err := svc.Translate(context.Background(), testEndpoint, textRequest("Hello, world"), func(c string) {
		chunks = append(chunks, c)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Привіт, світе" {
		t.Errorf("unexpected full text %q", text)
	}
	if len(chunks) != 3 {
		t.Errorf("expected 3 chunks, got %d: %v", len(chunks), chunks)
	}
}

func TestOpenRouterBackend_Translate_ImagePayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(req.Messages))
		}
		var parts []chatContentPart
		if err := json.Unmarshal(req.Messages[1].Content, &parts); err != nil {
			t.Fatalf("expected multipart user content: %v", err)
		}
		if len(parts) != 2 || parts[1].ImageURL == nil || !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,") {
			t.Errorf("expected image_url data URI part, got %+v", parts)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "Вихід"}}},
		})
	}))
	defer server.Close()

	svc := NewOpenRouterBackend("key", server.URL)
	req := internal.NewTranslationRequest(internal.ImagePayload([]byte{0x89, 'P', 'N', 'G'}, ""), "uk", internal.ModePlain)

	text, err := svc.Translate(context.Background(), testEndpoint, req, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Вихід" {
		t.Errorf("expected 'Вихід', got %q", text)
	}
}

func TestOpenRouterBackend_Translate_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   Classification
	}{
		{http.StatusTooManyRequests, RateLimited},
		{http.StatusServiceUnavailable, Overloaded},
		{http.StatusBadGateway, Unavailable},
		{http.StatusUnauthorized, Malformed},
		{http.StatusTeapot, Unknown},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer server.Close()

			svc := NewOpenRouterBackend("key", server.URL)
			_, err := svc.Translate(context.Background(), testEndpoint, textRequest("Hello"), nil)

			var epErr *EndpointError
			if !errors.As(err, &epErr) {
				t.Fatalf("expected EndpointError, got %v", err)
			}
			if epErr.Classification != tt.want {
				t.Errorf("expected %s, got %s", tt.want, epErr.Classification)
			}
			if epErr.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, epErr.StatusCode)
			}
		})
	}
}

func TestOpenRouterBackend_Translate_Unreachable(t *testing.T) {
	svc := NewOpenRouterBackend("key", "http://127.0.0.1:1")

	_, err := svc.Translate(context.Background(), testEndpoint, textRequest("Hello"), nil)

	var epErr *EndpointError
	if !errors.As(err, &epErr) {
		t.Fatalf("expected EndpointError, got %v", err)
	}
	if epErr.Classification != Unavailable {
		t.Errorf("expected Unavailable, got %s", epErr.Classification)
	}
}

func TestOllamaBackend_Translate_Batch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("expected stream=false")
		}
		if req.Model != "llama3.2" {
			t.Errorf("expected model 'llama3.2', got %q", req.Model)
		}
		json.NewEncoder(w).Encode(ollamaResponse{Response: "Привіт", Done: true})
	}))
	defer server.Close()

	svc := NewOllamaBackend(server.URL)
	ep := catalog.EndpointDescriptor{ID: "local", Kind: "ollama", Model: "llama3.2"}

	text, err := svc.Translate(context.Background(), ep, textRequest("Hello"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Привіт" {
		t.Errorf("expected 'Привіт', got %q", text)
	}
}

func TestOllamaBackend_Translate_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(ollamaResponse{Response: "При"})
		enc.Encode(ollamaResponse{Response: "віт"})
		enc.Encode(ollamaResponse{Done: true})
	}))
	defer server.Close()

	svc := NewOllamaBackend(server.URL)
	ep := catalog.EndpointDescriptor{ID: "local", Kind: "ollama"}

	var got strings.Builder
	text, err := svc.Translate(context.Background(), ep, textRequest("Hello"), func(c string) { got.WriteString(c) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Привіт" || got.String() != "Привіт" {
		t.Errorf("unexpected text %q / chunks %q", text, got.String())
	}
}

func TestOllamaBackend_Translate_StreamCutShort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaResponse{Response: "При"})
	}))
	defer server.Close()

	svc := NewOllamaBackend(server.URL)
	ep := catalog.EndpointDescriptor{ID: "local", Kind: "ollama"}

	_, err := svc.Translate(context.Background(), ep, textRequest("Hello"), func(string) {})

	var epErr *EndpointError
	if !errors.As(err, &epErr) || epErr.Classification != Unavailable {
		t.Errorf("expected Unavailable EndpointError, got %v", err)
	}
}

func TestOllamaBackend_Translate_ImagesAndJSONFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Images) != 1 {
			t.Errorf("expected one image, got %d", len(req.Images))
		}
		if req.Format != "json" {
			t.Errorf("expected json format for structured mode, got %q", req.Format)
		}
		json.NewEncoder(w).Encode(ollamaResponse{Response: `{"full_translation":"Вихід"}`, Done: true})
	}))
	defer server.Close()

	svc := NewOllamaBackend(server.URL)
	ep := catalog.EndpointDescriptor{ID: "local", Kind: "ollama", SupportsImagePayload: true}
	req := internal.NewTranslationRequest(internal.ImagePayload([]byte("img"), "image/jpeg"), "uk", internal.ModeStructured)

	if _, err := svc.Translate(context.Background(), ep, req, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOllamaBackend_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := NewOllamaBackend(server.URL).IsAvailable(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	down := &OllamaBackend{baseURL: "http://localhost:19999", client: &http.Client{Timeout: 100 * time.Millisecond}}
	if err := down.IsAvailable(context.Background()); err == nil {
		t.Error("expected error when Ollama is not running")
	}
}

func TestMyMemoryBackend_Translate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("langpair"); got != "autodetect|uk" {
			t.Errorf("unexpected langpair %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"responseData":   map[string]any{"translatedText": "Привіт"},
			"responseStatus": 200,
		})
	}))
	defer server.Close()

	svc := NewMyMemoryBackend("")
	svc.baseURL = server.URL
	ep := catalog.EndpointDescriptor{ID: "mm", Kind: "mymemory"}

	text, err := svc.Translate(context.Background(), ep, textRequest("Hello"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Привіт" {
		t.Errorf("expected 'Привіт', got %q", text)
	}
}

func TestMyMemoryBackend_Translate_QuotaInBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"responseData":    map[string]any{"translatedText": ""},
			"responseStatus":  "429",
			"responseDetails": "MYMEMORY WARNING: YOU USED ALL AVAILABLE FREE TRANSLATIONS FOR TODAY",
		})
	}))
	defer server.Close()

	svc := NewMyMemoryBackend("")
	svc.baseURL = server.URL
	ep := catalog.EndpointDescriptor{ID: "mm", Kind: "mymemory"}

	_, err := svc.Translate(context.Background(), ep, textRequest("Hello"), nil)

	var epErr *EndpointError
	if !errors.As(err, &epErr) || epErr.Classification != RateLimited {
		t.Errorf("expected RateLimited, got %v", err)
	}
}

func TestTextOnlyBackends_RejectImages(t *testing.T) {
	req := internal.NewTranslationRequest(internal.ImagePayload([]byte("img"), ""), "uk", internal.ModePlain)
	backends := []Backend{NewGoogleBackend(""), NewMyMemoryBackend(""), NewLambdaBackend("")}

	for _, b := range backends {
		t.Run(b.Kind(), func(t *testing.T) {
			ep := catalog.EndpointDescriptor{ID: b.Kind(), Kind: b.Kind(), Model: "fn"}
			_, err := b.Translate(context.Background(), ep, req, nil)

			var epErr *EndpointError
			if !errors.As(err, &epErr) || epErr.Classification != Malformed {
				t.Errorf("expected Malformed, got %v", err)
			}
		})
	}
}
