package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/valpere/regiontran/internal"
	"github.com/valpere/regiontran/internal/catalog"
	"github.com/valpere/regiontran/internal/stream"
	"github.com/valpere/regiontran/internal/translator"
)

type invokeFunc func(ctx context.Context, attempt int32, onChunk translator.ChunkFunc) (string, error)

// mockInvoker dispatches by endpoint ID and counts calls per endpoint.
type mockInvoker struct {
	mu    sync.Mutex
	funcs map[string]invokeFunc
	calls map[string]*atomic.Int32
}

func newMockInvoker() *mockInvoker {
	return &mockInvoker{funcs: map[string]invokeFunc{}, calls: map[string]*atomic.Int32{}}
}

func (m *mockInvoker) on(id string, f invokeFunc) *mockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs[id] = f
	m.calls[id] = &atomic.Int32{}
	return m
}

func (m *mockInvoker) callCount(id string) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.calls[id]; ok {
		return c.Load()
	}
	return 0
}

func (m *mockInvoker) Invoke(ctx context.Context, ep catalog.EndpointDescriptor, req internal.TranslationRequest, onChunk translator.ChunkFunc) (string, error) {
	m.mu.Lock()
	f, ok := m.funcs[ep.ID]
	counter := m.calls[ep.ID]
	m.mu.Unlock()
	if !ok {
		return "", errors.New("unexpected endpoint " + ep.ID)
	}
	n := counter.Add(1)
	return f(ctx, n, onChunk)
}

func succeed(text string) invokeFunc {
	return func(ctx context.Context, attempt int32, onChunk translator.ChunkFunc) (string, error) {
		if onChunk != nil {
			onChunk(text)
		}
		return text, nil
	}
}

func failWith(class translator.Classification) invokeFunc {
	return func(ctx context.Context, attempt int32, onChunk translator.ChunkFunc) (string, error) {
		return "", &translator.EndpointError{Classification: class, Err: errors.New(string(class))}
	}
}

func endpoint(id string, timeout time.Duration) catalog.EndpointDescriptor {
	return catalog.EndpointDescriptor{ID: id, Kind: "mock", Timeout: timeout, SupportsStreaming: true, SupportsImagePayload: true}
}

func mustCatalog(t *testing.T, entries ...catalog.EndpointDescriptor) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(entries...)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return c
}

func newTestOrchestrator(cat *catalog.Catalog, inv Invoker) *Orchestrator {
	return New(cat, inv, Config{MaxAttempts: 3, RetryDelay: time.Millisecond}, zerolog.Nop())
}

func textReq(text string) internal.TranslationRequest {
	return internal.NewTranslationRequest(internal.TextPayload(text), "uk", internal.ModePlain)
}

type eventLog struct {
	mu     sync.Mutex
	events []stream.Event
}

func (l *eventLog) handle(ev stream.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []stream.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]stream.Event(nil), l.events...)
}

func TestOrchestrator_New_Defaults(t *testing.T) {
	o := New(nil, nil, Config{}, zerolog.Nop())
	if o.config.MaxAttempts != 3 {
		t.Errorf("expected default MaxAttempts=3, got %d", o.config.MaxAttempts)
	}
}

func TestOrchestrator_AllEndpointsFail(t *testing.T) {
	inv := newMockInvoker().
		on("a", failWith(translator.Overloaded)).
		on("b", failWith(translator.Malformed)).
		on("c", failWith(translator.Unavailable))
	cat := mustCatalog(t, endpoint("a", time.Second), endpoint("b", time.Second), endpoint("c", 0))

	_, err := newTestOrchestrator(cat, inv).Translate(context.Background(), textReq("Hello"), nil)

	if !errors.Is(err, ErrAllEndpointsExhausted) {
		t.Fatalf("expected ErrAllEndpointsExhausted, got %v", err)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %T", err)
	}
	var last *translator.EndpointError
	if !errors.As(exhausted.Last, &last) || last.Classification != translator.Unavailable {
		t.Errorf("expected last reason from endpoint c, got %v", exhausted.Last)
	}
	// a and c retried, b fatal.
	if len(exhausted.Attempts) != 7 {
		t.Errorf("expected 7 recorded attempts, got %d", len(exhausted.Attempts))
	}
}

func TestOrchestrator_StopsAtFirstSuccess(t *testing.T) {
	inv := newMockInvoker().
		on("a", failWith(translator.RateLimited)).
		on("b", failWith(translator.Malformed)).
		on("c", succeed("Привіт")).
		on("d", succeed("never"))
	cat := mustCatalog(t, endpoint("a", time.Second), endpoint("b", time.Second), endpoint("c", time.Second), endpoint("d", 0))

	res, err := newTestOrchestrator(cat, inv).Execute(context.Background(), textReq("Hello"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "Привіт" || res.EndpointID != "c" {
		t.Errorf("unexpected result %+v", res)
	}

	want := map[string]int32{"a": 3, "b": 1, "c": 1, "d": 0}
	for id, n := range want {
		if got := inv.callCount(id); got != n {
			t.Errorf("endpoint %s: expected %d calls, got %d", id, n, got)
		}
	}

	last := res.Attempts[len(res.Attempts)-1]
	if last.Kind != internal.OutcomeSuccess || last.Text != "Привіт" {
		t.Errorf("expected final success outcome with text, got %+v", last)
	}
}

func TestOrchestrator_TimeoutAdvancesRegardlessOfLatency(t *testing.T) {
	const deadline = 50 * time.Millisecond

	for _, extra := range []time.Duration{20 * time.Millisecond, 400 * time.Millisecond} {
		inv := newMockInvoker().
			on("slow", func(ctx context.Context, attempt int32, onChunk translator.ChunkFunc) (string, error) {
				// No cooperative abort: the call runs to completion.
				time.Sleep(deadline + extra)
				return "too late", nil
			}).
			on("backup", succeed("ok"))
		cat := mustCatalog(t, endpoint("slow", deadline), endpoint("backup", 0))

		start := time.Now()
		text, err := newTestOrchestrator(cat, inv).Translate(context.Background(), textReq("Hello"), nil)
		elapsed := time.Since(start)

		if err != nil || text != "ok" {
			t.Fatalf("latency +%v: expected backup result, got %q (%v)", extra, text, err)
		}
		if elapsed > deadline+100*time.Millisecond {
			t.Errorf("latency +%v: expected fallback within ~%v, took %v", extra, deadline, elapsed)
		}
	}
}

func TestOrchestrator_TimeoutRecordedAsOutcome(t *testing.T) {
	inv := newMockInvoker().
		on("slow", func(ctx context.Context, attempt int32, onChunk translator.ChunkFunc) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}).
		on("backup", succeed("ok"))
	cat := mustCatalog(t, endpoint("slow", 20*time.Millisecond), endpoint("backup", 0))

	res, err := newTestOrchestrator(cat, inv).Execute(context.Background(), textReq("Hello"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempts[0].EndpointID != "slow" || res.Attempts[0].Kind != internal.OutcomeTimedOut {
		t.Errorf("expected timed out outcome for slow endpoint, got %+v", res.Attempts)
	}
}

// Scaled down 10x: A(timeout=100ms) always fails transiently with a 100ms
// backoff base, B(timeout=200ms) succeeds.
func TestOrchestrator_FailingFastEndpointThenReliableOne(t *testing.T) {
	inv := newMockInvoker().
		on("a", failWith(translator.Overloaded)).
		on("b", succeed("B text")).
		on("c", succeed("C text"))
	cat := mustCatalog(t, endpoint("a", 100*time.Millisecond), endpoint("b", 200*time.Millisecond), endpoint("c", 0))
	o := New(cat, inv, Config{MaxAttempts: 3, RetryDelay: 100 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	text, err := o.Translate(context.Background(), textReq("Hello"), nil)
	elapsed := time.Since(start)

	if err != nil || text != "B text" {
		t.Fatalf("expected B's text, got %q (%v)", text, err)
	}
	if elapsed > 320*time.Millisecond {
		t.Errorf("expected completion within ~320ms, took %v", elapsed)
	}
	if inv.callCount("c") != 0 {
		t.Error("expected third endpoint never to be invoked")
	}
}

func TestOrchestrator_ConfigurationErrorStopsChain(t *testing.T) {
	inv := newMockInvoker().
		on("a", func(ctx context.Context, attempt int32, onChunk translator.ChunkFunc) (string, error) {
			return "", internal.NewConfigurationError("missing API key")
		}).
		on("b", succeed("ok"))
	cat := mustCatalog(t, endpoint("a", time.Second), endpoint("b", 0))

	_, err := newTestOrchestrator(cat, inv).Translate(context.Background(), textReq("Hello"), nil)

	var cfgErr *internal.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if inv.callCount("a") != 1 || inv.callCount("b") != 0 {
		t.Errorf("expected a=1 b=0 calls, got a=%d b=%d", inv.callCount("a"), inv.callCount("b"))
	}
}

func TestOrchestrator_EmptyCatalog(t *testing.T) {
	o := New(nil, newMockInvoker(), Config{}, zerolog.Nop())
	_, err := o.Translate(context.Background(), textReq("Hello"), nil)

	var cfgErr *internal.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}

func TestOrchestrator_ImagePayloadSkipsTextOnlyEndpoints(t *testing.T) {
	textOnly := endpoint("mt", time.Second)
	textOnly.SupportsImagePayload = false

	inv := newMockInvoker().
		on("mt", succeed("never")).
		on("vision", succeed("Знак"))
	cat := mustCatalog(t, textOnly, endpoint("vision", 0))

	req := internal.NewTranslationRequest(internal.ImagePayload([]byte("png"), ""), "uk", internal.ModePlain)
	res, err := newTestOrchestrator(cat, inv).Execute(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.callCount("mt") != 0 {
		t.Error("expected text-only endpoint not to be invoked for an image")
	}
	if res.Attempts[0].Kind != internal.OutcomeSkipped {
		t.Errorf("expected skipped outcome, got %+v", res.Attempts[0])
	}
}

func TestOrchestrator_NoEndpointAcceptsPayload(t *testing.T) {
	textOnly := endpoint("mt", 0)
	textOnly.SupportsImagePayload = false
	cat := mustCatalog(t, textOnly)

	req := internal.NewTranslationRequest(internal.ImagePayload([]byte("png"), ""), "uk", internal.ModePlain)
	_, err := newTestOrchestrator(cat, newMockInvoker().on("mt", succeed("x"))).Translate(context.Background(), req, nil)

	var cfgErr *internal.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}

func TestOrchestrator_ResetAcrossFallback(t *testing.T) {
	inv := newMockInvoker().
		on("a", func(ctx context.Context, attempt int32, onChunk translator.ChunkFunc) (string, error) {
			onChunk("Довгий частковий ")
			onChunk("переклад")
			return "", &translator.EndpointError{Classification: translator.Malformed, Err: errors.New("truncated")}
		}).
		on("b", func(ctx context.Context, attempt int32, onChunk translator.ChunkFunc) (string, error) {
			onChunk("Ко")
			onChunk("ротко")
			return "Коротко", nil
		})
	cat := mustCatalog(t, endpoint("a", time.Second), endpoint("b", 0))

	log := &eventLog{}
	text, err := newTestOrchestrator(cat, inv).Translate(context.Background(), textReq("Hello"), log.handle)
	if err != nil || text != "Коротко" {
		t.Fatalf("expected b's text, got %q (%v)", text, err)
	}

	events := log.all()
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}
	if events[1].Kind != stream.Delta || events[1].Full != "Довгий частковий переклад" {
		t.Errorf("unexpected second event %+v", events[1])
	}
	if events[2].Kind != stream.Reset || events[2].EndpointID != "b" || events[2].Full != "Ко" {
		t.Errorf("expected reset to b's text, got %+v", events[2])
	}
	if events[3].Kind != stream.Delta || events[3].Full != "Коротко" {
		t.Errorf("unexpected last event %+v", events[3])
	}
}

func TestOrchestrator_LateStreamFromTimedOutEndpointDropped(t *testing.T) {
	inv := newMockInvoker().
		on("slow", func(ctx context.Context, attempt int32, onChunk translator.ChunkFunc) (string, error) {
			time.Sleep(60 * time.Millisecond)
			onChunk("stale")
			return "stale", nil
		}).
		on("backup", func(ctx context.Context, attempt int32, onChunk translator.ChunkFunc) (string, error) {
			time.Sleep(100 * time.Millisecond)
			onChunk("fresh")
			return "fresh", nil
		})
	cat := mustCatalog(t, endpoint("slow", 20*time.Millisecond), endpoint("backup", 0))

	log := &eventLog{}
	text, err := newTestOrchestrator(cat, inv).Translate(context.Background(), textReq("Hello"), log.handle)
	if err != nil || text != "fresh" {
		t.Fatalf("expected fresh text, got %q (%v)", text, err)
	}
	for _, ev := range log.all() {
		if strings.Contains(ev.Full, "stale") {
			t.Fatalf("late fragment from abandoned endpoint leaked: %+v", ev)
		}
	}
}

func TestOrchestrator_ParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inv := newMockInvoker().
		on("a", func(ctx context.Context, attempt int32, onChunk translator.ChunkFunc) (string, error) {
			cancel()
			return "", &translator.EndpointError{Classification: translator.Unavailable, Err: errors.New("reset")}
		}).
		on("b", succeed("never"))
	cat := mustCatalog(t, endpoint("a", time.Second), endpoint("b", 0))

	_, err := newTestOrchestrator(cat, inv).Translate(ctx, textReq("Hello"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrAllEndpointsExhausted) {
		t.Error("cancellation must not be reported as exhaustion")
	}
	if inv.callCount("b") != 0 {
		t.Error("expected no fallback after cancellation")
	}
}

func TestOrchestrator_Stream(t *testing.T) {
	inv := newMockInvoker().on("a", func(ctx context.Context, attempt int32, onChunk translator.ChunkFunc) (string, error) {
		onChunk("При")
		onChunk("віт")
		return "Привіт", nil
	})
	cat := mustCatalog(t, endpoint("a", 0))

	var events []stream.Event
	for ev := range newTestOrchestrator(cat, inv).Stream(context.Background(), textReq("Hello")) {
		events = append(events, ev)
	}

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.Kind != stream.Final || last.Text != "Привіт" || last.EndpointID != "a" {
		t.Errorf("unexpected terminal event %+v", last)
	}
}

func TestOrchestrator_StreamFailure(t *testing.T) {
	inv := newMockInvoker().on("a", failWith(translator.Malformed))
	cat := mustCatalog(t, endpoint("a", 0))

	var last stream.Event
	for ev := range newTestOrchestrator(cat, inv).Stream(context.Background(), textReq("Hello")) {
		last = ev
	}
	if last.Kind != stream.Failed || !errors.Is(last.Err, ErrAllEndpointsExhausted) {
		t.Errorf("expected Failed event wrapping exhaustion, got %+v", last)
	}
}

func TestOrchestrator_MissingCredentialStopsChain(t *testing.T) {
	var fallbackHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackHits.Add(1)
		w.Write([]byte(`{"response": "Привіт", "done": true}`))
	}))
	defer server.Close()

	disp := translator.NewDispatcher([]translator.Backend{
		translator.NewOpenRouterBackend("", ""),
		translator.NewOllamaBackend(server.URL),
	})
	cat := mustCatalog(t,
		catalog.EndpointDescriptor{ID: "hosted", Kind: "openrouter", Model: "m", Timeout: time.Second},
		catalog.EndpointDescriptor{ID: "local", Kind: "ollama", Model: "m"},
	)

	_, err := newTestOrchestrator(cat, disp).Execute(context.Background(), textReq("Hello"), nil)

	var cfgErr *internal.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if errors.Is(err, ErrAllEndpointsExhausted) {
		t.Error("expected a configuration error, not exhaustion")
	}
	if fallbackHits.Load() != 0 {
		t.Errorf("expected the chain to stop before the fallback, got %d calls", fallbackHits.Load())
	}
}
