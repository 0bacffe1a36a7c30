package pipeline

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PredPulse/internal/cache"
	"PredPulse/internal/domain/models"
	"PredPulse/pkg/logger"
)

type fakeModel struct {
	calls int64
	fn    func(attempt int64) (*models.RawOutput, error)
}

func (m *fakeModel) Infer(_ context.Context, _ *models.Features) (*models.RawOutput, error) {
	n := atomic.AddInt64(&m.calls, 1)
	if m.fn != nil {
		return m.fn(n)
	}
	return &models.RawOutput{Predicted: []float64{100 + float64(n)}, Confidence: 0.9}, nil
}

type fakeGate struct {
	mu       sync.Mutex
	allowErr error
	recorded []string
}

func (g *fakeGate) Allow() error { return g.allowErr }

func (g *fakeGate) Record(stage string, _ error, _ float64) {
	g.mu.Lock()
	g.recorded = append(g.recorded, stage)
	g.mu.Unlock()
}

func (g *fakeGate) Snapshot() models.HealthSnapshot {
	return models.HealthSnapshot{State: models.StateHealthy}
}

type fakeBroadcaster struct {
	mu        sync.Mutex
	published []*models.PredictionResult
}

func (b *fakeBroadcaster) Publish(_ string, r *models.PredictionResult) {
	b.mu.Lock()
	b.published = append(b.published, r)
	b.mu.Unlock()
}

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

type nopMetrics struct{}

func (nopMetrics) RecordPrediction(string, string) {}
func (nopMetrics) RecordError(string)              {}
func (nopMetrics) RecordLatency(string, float64)   {}
func (nopMetrics) SetConnectedClients(int)         {}
func (nopMetrics) RecordDropped(string)            {}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func newTestPipeline(t *testing.T, model *fakeModel, gate *fakeGate) (*Pipeline, *fakeBroadcaster, *cache.InferenceCache) {
	t.Helper()
	c := cache.New(cache.WithTTLs(time.Second, 100*time.Millisecond))
	t.Cleanup(func() { _ = c.Close() })
	bc := &fakeBroadcaster{}
	p := New(c, model, gate, bc, nopMetrics{}, testLogger(t),
		WithBucket(10*time.Second),
		WithModelTimeout(time.Second),
	)
	return p, bc, c
}

func TestProcessFreshThenCached(t *testing.T) {
	model := &fakeModel{}
	p, bc, _ := newTestPipeline(t, model, &fakeGate{})

	first, err := p.Process(context.Background(), validEvent())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if first.Cached {
		t.Error("first result should be marked fresh")
	}
	if bc.count() != 1 {
		t.Fatalf("published %d results, want 1", bc.count())
	}

	second, err := p.Process(context.Background(), validEvent())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !second.Cached {
		t.Error("second result should be marked cached")
	}
	if atomic.LoadInt64(&model.calls) != 1 {
		t.Errorf("model called %d times, want 1", model.calls)
	}
	if bc.count() != 1 {
		t.Errorf("cache hit must not re-broadcast, published = %d", bc.count())
	}
}

func TestIdenticalEventsShareOneModelCall(t *testing.T) {
	model := &fakeModel{fn: func(n int64) (*models.RawOutput, error) {
		time.Sleep(30 * time.Millisecond)
		return &models.RawOutput{Predicted: []float64{42}, Confidence: 0.8}, nil
	}}
	p, _, c := newTestPipeline(t, model, &fakeGate{})

	const n = 5
	var wg sync.WaitGroup
	results := make([]*models.PredictionResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := p.Process(context.Background(), validEvent())
			if err != nil {
				t.Errorf("process %d: %v", i, err)
				return
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt64(&model.calls); got != 1 {
		t.Fatalf("model invoked %d times for identical events, want 1", got)
	}
	for i := 0; i < n; i++ {
		if results[i] == nil || results[i].Predicted[0] != 42 {
			t.Fatalf("caller %d got unexpected result %+v", i, results[i])
		}
	}
	if c.Len() != 1 {
		t.Errorf("cache holds %d entries, want 1", c.Len())
	}
}

func TestInvalidInputTerminal(t *testing.T) {
	model := &fakeModel{}
	p, _, _ := newTestPipeline(t, model, &fakeGate{})

	e := validEvent()
	e.Price = 0
	_, err := p.Process(context.Background(), e)
	if models.CodeOf(err) != models.CodeInvalidInput {
		t.Fatalf("error code = %s, want invalid_input", models.CodeOf(err))
	}
	if atomic.LoadInt64(&model.calls) != 0 {
		t.Error("model must not be called for invalid input")
	}
}

func TestModelFailureRetriedOnceThenCached(t *testing.T) {
	boom := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	model := &fakeModel{fn: func(int64) (*models.RawOutput, error) { return nil, boom }}
	p, bc, _ := newTestPipeline(t, model, &fakeGate{})

	_, err := p.Process(context.Background(), validEvent())
	if models.CodeOf(err) != models.CodeUpstreamUnavailable {
		t.Fatalf("error code = %s, want upstream_unavailable", models.CodeOf(err))
	}
	if got := atomic.LoadInt64(&model.calls); got != 2 {
		t.Fatalf("model attempted %d times, want exactly 2 (one retry)", got)
	}

	// Within the failure TTL the cached error is served without new attempts.
	_, err = p.Process(context.Background(), validEvent())
	if models.CodeOf(err) != models.CodeUpstreamUnavailable {
		t.Fatalf("cached failure not surfaced: %v", err)
	}
	if got := atomic.LoadInt64(&model.calls); got != 2 {
		t.Errorf("model attempted %d times after cached failure, want 2", got)
	}
	if bc.count() != 0 {
		t.Error("failures must not be broadcast")
	}
}

func TestTerminalModelErrorNotRetried(t *testing.T) {
	model := &fakeModel{fn: func(int64) (*models.RawOutput, error) {
		return nil, errors.New("empty prediction")
	}}
	p, bc, _ := newTestPipeline(t, model, &fakeGate{})

	_, err := p.Process(context.Background(), validEvent())
	if models.CodeOf(err) != models.CodeUpstreamUnavailable {
		t.Fatalf("error code = %s, want upstream_unavailable", models.CodeOf(err))
	}
	if got := atomic.LoadInt64(&model.calls); got != 1 {
		t.Fatalf("model attempted %d times, want 1 (no retry on a terminal error)", got)
	}
	if bc.count() != 0 {
		t.Error("failures must not be broadcast")
	}
}

func TestRetrySucceedsOnSecondAttempt(t *testing.T) {
	model := &fakeModel{fn: func(n int64) (*models.RawOutput, error) {
		if n == 1 {
			return nil, context.DeadlineExceeded
		}
		return &models.RawOutput{Predicted: []float64{7}, Confidence: 0.5}, nil
	}}
	p, bc, _ := newTestPipeline(t, model, &fakeGate{})

	r, err := p.Process(context.Background(), validEvent())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if r.Predicted[0] != 7 {
		t.Errorf("Predicted = %v", r.Predicted)
	}
	if atomic.LoadInt64(&model.calls) != 2 {
		t.Errorf("model attempted %d times, want 2", model.calls)
	}
	if bc.count() != 1 {
		t.Errorf("published = %d, want 1", bc.count())
	}
}

func TestDegradedFailsFastWithoutModelCall(t *testing.T) {
	model := &fakeModel{}
	gate := &fakeGate{allowErr: models.ServiceDegradedError("admission refused")}
	p, _, _ := newTestPipeline(t, model, gate)

	_, err := p.Process(context.Background(), validEvent())
	if models.CodeOf(err) != models.CodeServiceDegraded {
		t.Fatalf("error code = %s, want service_degraded", models.CodeOf(err))
	}
	if atomic.LoadInt64(&model.calls) != 0 {
		t.Error("model must not be touched while admission is refused")
	}
}
