package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PredPulse/internal/domain/models"
)

func newTestCache(t *testing.T, opts ...Option) *InferenceCache {
	t.Helper()
	c := New(opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func result(symbol string) *models.PredictionResult {
	return &models.PredictionResult{Symbol: symbol, Predicted: []float64{101.5}, GeneratedAt: time.Now()}
}

func TestSingleFlight(t *testing.T) {
	c := newTestCache(t)

	var calls int64
	const n = 25

	var wg sync.WaitGroup
	results := make([]*models.PredictionResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, _, err := c.GetOrCompute("fp-1", func() (*models.PredictionResult, error) {
				atomic.AddInt64(&calls, 1)
				time.Sleep(50 * time.Millisecond)
				return result("AAPL"), nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("compute invoked %d times, want 1", got)
	}
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d received a different result", i)
		}
	}
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t, WithTTLs(40*time.Millisecond, 4*time.Millisecond))

	var calls int
	compute := func() (*models.PredictionResult, error) {
		calls++
		return result("MSFT"), nil
	}

	if _, hit, _ := c.GetOrCompute("fp", compute); hit {
		t.Fatal("first call should be a miss")
	}
	if _, hit, _ := c.GetOrCompute("fp", compute); !hit {
		t.Fatal("second call within TTL should hit")
	}

	time.Sleep(60 * time.Millisecond)

	if _, hit, _ := c.GetOrCompute("fp", compute); hit {
		t.Fatal("call after TTL should miss")
	}
	if calls != 2 {
		t.Fatalf("compute called %d times, want 2", calls)
	}
}

func TestFailureCachedWithShorterTTL(t *testing.T) {
	c := newTestCache(t, WithTTLs(200*time.Millisecond, 20*time.Millisecond))

	boom := errors.New("model down")
	var failCalls, okCalls int

	_, _, err := c.GetOrCompute("fail", func() (*models.PredictionResult, error) {
		failCalls++
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected model error, got %v", err)
	}
	if _, _, err := c.GetOrCompute("ok", func() (*models.PredictionResult, error) {
		okCalls++
		return result("GOOG"), nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Failure served from cache within its TTL, no recompute.
	_, hit, err := c.GetOrCompute("fail", func() (*models.PredictionResult, error) {
		failCalls++
		return nil, boom
	})
	if !hit || !errors.Is(err, boom) {
		t.Fatalf("cached failure not served: hit=%v err=%v", hit, err)
	}

	time.Sleep(50 * time.Millisecond)

	// Failure entry expired; success entry from the same instant still live.
	if _, hit, _ := c.GetOrCompute("fail", func() (*models.PredictionResult, error) {
		failCalls++
		return result("GOOG"), nil
	}); hit {
		t.Fatal("failure entry should have expired before success entry")
	}
	if _, hit, _ := c.GetOrCompute("ok", func() (*models.PredictionResult, error) {
		okCalls++
		return result("GOOG"), nil
	}); !hit {
		t.Fatal("success entry expired too early")
	}

	if failCalls != 2 || okCalls != 1 {
		t.Fatalf("failCalls=%d okCalls=%d, want 2 and 1", failCalls, okCalls)
	}
}

func TestBoundedEvictionOldestFirst(t *testing.T) {
	c := newTestCache(t, WithMaxEntries(3))

	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("fp-%d", i)
		sym := fmt.Sprintf("SYM%d", i)
		if _, _, err := c.GetOrCompute(key, func() (*models.PredictionResult, error) {
			return result(sym), nil
		}); err != nil {
			t.Fatalf("compute %s: %v", key, err)
		}
		time.Sleep(time.Millisecond) // distinct creation times
	}

	if got := c.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}

	// fp-0 was oldest-created and must be gone; fp-3 (newest) retained.
	if _, hit, _ := c.GetOrCompute("fp-0", func() (*models.PredictionResult, error) {
		return result("SYM0"), nil
	}); hit {
		t.Error("oldest entry fp-0 should have been evicted")
	}
	if _, hit, _ := c.GetOrCompute("fp-3", func() (*models.PredictionResult, error) {
		return result("SYM3"), nil
	}); !hit {
		t.Error("newest entry fp-3 should have survived eviction")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	c := newTestCache(t,
		WithTTLs(10*time.Millisecond, time.Millisecond),
		WithSweepInterval(20*time.Millisecond),
	)

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("fp-%d", i)
		_, _, _ = c.GetOrCompute(key, func() (*models.PredictionResult, error) {
			return result("X"), nil
		})
	}

	time.Sleep(60 * time.Millisecond)

	if got := c.Len(); got != 0 {
		t.Fatalf("Len after sweep = %d, want 0", got)
	}
}
