package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"PredPulse/internal/domain/models"
	"PredPulse/pkg/logger"
)

type fakeConn struct {
	mu      sync.Mutex
	frames  []interface{}
	closed  bool
	block   bool
	release chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{release: make(chan struct{})}
}

func newBlockingConn() *fakeConn {
	c := newFakeConn()
	c.block = true
	return c
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	if c.block {
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) written() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]interface{}, len(c.frames))
	copy(out, c.frames)
	return out
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

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = 16
	}
	if cfg.OverflowPolicy == "" {
		cfg.OverflowPolicy = DropOldest
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = time.Second
	}
	if cfg.MissedHeartbeats == 0 {
		cfg.MissedHeartbeats = 3
	}
	r := New(cfg, nil, nopMetrics{}, testLogger(t))
	t.Cleanup(r.Close)
	return r
}

func prediction(symbol string, v float64) *models.PredictionResult {
	return &models.PredictionResult{
		Symbol:      symbol,
		Predicted:   []float64{v},
		Confidence:  0.9,
		GeneratedAt: time.Now(),
	}
}

// waitFrames polls until conn has at least n frames or the deadline passes.
func waitFrames(t *testing.T, conn *fakeConn, n int) []interface{} {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if frames := conn.written(); len(frames) >= n {
			return frames
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames, have %d", n, len(conn.written()))
	return nil
}

func firstValue(t *testing.T, frame interface{}) float64 {
	t.Helper()
	msg, ok := frame.(models.StockUpdatesMessage)
	if !ok {
		t.Fatalf("frame is %T, want StockUpdatesMessage", frame)
	}
	return msg.Updates[0].Predicted[0]
}

func TestRegisterTransitionsToRegistered(t *testing.T) {
	r := newTestRegistry(t, Config{})
	sub := r.Register(newFakeConn())

	if got := sub.State(); got != StateRegistered {
		t.Fatalf("state = %s, want registered", got)
	}
	if r.Count() != 1 {
		t.Fatalf("Count = %d, want 1", r.Count())
	}
}

func TestPublishMatchesTopics(t *testing.T) {
	r := newTestRegistry(t, Config{})

	aapl := newFakeConn()
	msft := newFakeConn()
	all := newFakeConn()

	subA := r.Register(aapl)
	subM := r.Register(msft)
	subAll := r.Register(all)

	if _, err := r.Subscribe(subA.ID, []string{"AAPL"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := r.Subscribe(subM.ID, []string{"MSFT"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := r.Subscribe(subAll.ID, []string{"all"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	r.Publish("AAPL", prediction("AAPL", 190))

	waitFrames(t, aapl, 1)
	waitFrames(t, all, 1)

	time.Sleep(30 * time.Millisecond)
	if frames := msft.written(); len(frames) != 0 {
		t.Errorf("MSFT subscriber received %d frames, want 0", len(frames))
	}
}

func TestPublishSkipsUnsubscribed(t *testing.T) {
	r := newTestRegistry(t, Config{})
	conn := newFakeConn()
	r.Register(conn) // registered, never subscribed

	r.Publish("AAPL", prediction("AAPL", 190))
	time.Sleep(30 * time.Millisecond)

	if frames := conn.written(); len(frames) != 0 {
		t.Errorf("unsubscribed client received %d frames", len(frames))
	}
}

func TestDropOldestRetainsNewest(t *testing.T) {
	r := newTestRegistry(t, Config{QueueCapacity: 2, OverflowPolicy: DropOldest})
	conn := newBlockingConn()
	defer close(conn.release)

	sub := r.Register(conn)
	if _, err := r.Subscribe(sub.ID, []string{"AAPL"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// First publish is taken by the pump and blocks in WriteJSON.
	r.Publish("AAPL", prediction("AAPL", 1))
	time.Sleep(20 * time.Millisecond)

	// Fill the queue, then overflow it.
	r.Publish("AAPL", prediction("AAPL", 2))
	r.Publish("AAPL", prediction("AAPL", 3))
	r.Publish("AAPL", prediction("AAPL", 4)) // queue full: 2 is dropped

	conn.release <- struct{}{} // finish 1
	conn.release <- struct{}{} // finish 3
	conn.release <- struct{}{} // finish 4

	frames := waitFrames(t, conn, 3)
	got := []float64{firstValue(t, frames[0]), firstValue(t, frames[1]), firstValue(t, frames[2])}
	want := []float64{1, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivered %v, want %v (newest retained, oldest dropped)", got, want)
		}
	}
	if sub.State() != StateSubscribed {
		t.Errorf("drop_oldest must not close the subscriber, state = %s", sub.State())
	}
}

func TestDropOldestAlwaysKeepsNewest(t *testing.T) {
	sub := newSubscriber(newFakeConn(), 2, DropOldest)

	// Fill the queue, then overflow: the incoming message must land.
	for i := 1; i <= 2; i++ {
		if ok, _ := sub.enqueue(i); !ok {
			t.Fatalf("enqueue %d into empty slot failed", i)
		}
	}
	if ok, dropped := sub.enqueue(3); !ok || !dropped {
		t.Fatalf("overflow enqueue: ok=%v dropped=%v, want true,true", ok, dropped)
	}
	var last interface{}
drain:
	for {
		select {
		case v := <-sub.queue:
			last = v
		default:
			break drain
		}
	}
	if last != 3 {
		t.Fatalf("newest queued message = %v, want 3", last)
	}
}

func TestDropOldestUnderContention(t *testing.T) {
	sub := newSubscriber(newFakeConn(), 2, DropOldest)

	// Concurrent publishers racing for the same two slots: every enqueue
	// must keep its own message, dropping older ones instead.
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if ok, _ := sub.enqueue(i); !ok {
					t.Errorf("drop_oldest enqueue discarded the new message")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestDisconnectPolicyClosesSubscriber(t *testing.T) {
	r := newTestRegistry(t, Config{QueueCapacity: 1, OverflowPolicy: Disconnect})
	conn := newBlockingConn()
	defer close(conn.release)

	sub := r.Register(conn)
	if _, err := r.Subscribe(sub.ID, []string{"AAPL"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	r.Publish("AAPL", prediction("AAPL", 1)) // pump takes it, blocks
	time.Sleep(20 * time.Millisecond)
	r.Publish("AAPL", prediction("AAPL", 2)) // fills queue
	r.Publish("AAPL", prediction("AAPL", 3)) // overflow: disconnect

	deadline := time.Now().Add(time.Second)
	for sub.State() != StateClosed && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sub.State() != StateClosed {
		t.Fatalf("state = %s, want closed", sub.State())
	}
	if r.Count() != 0 {
		t.Errorf("Count = %d, want 0 after forced disconnect", r.Count())
	}

	// No further deliveries are attempted.
	r.Publish("AAPL", prediction("AAPL", 4))
}

func TestSlowSubscriberDoesNotStallOthers(t *testing.T) {
	r := newTestRegistry(t, Config{QueueCapacity: 64, OverflowPolicy: DropOldest})

	slow := newBlockingConn()
	defer close(slow.release)
	fast := newFakeConn()

	subSlow := r.Register(slow)
	subFast := r.Register(fast)
	_, _ = r.Subscribe(subSlow.ID, []string{"AAPL"})
	_, _ = r.Subscribe(subFast.ID, []string{"AAPL"})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			r.Publish("AAPL", prediction("AAPL", float64(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked by a slow subscriber")
	}
	waitFrames(t, fast, 50)
}

func TestHeartbeatTimeoutRemovesSubscriber(t *testing.T) {
	cfg := Config{
		QueueCapacity:     16,
		OverflowPolicy:    DropOldest,
		HeartbeatInterval: 20 * time.Millisecond,
		MissedHeartbeats:  3,
	}
	r := newTestRegistry(t, cfg)
	r.Start(context.Background())

	conn := newFakeConn()
	sub := r.Register(conn)
	_, _ = r.Subscribe(sub.ID, []string{"AAPL"})

	// 3x the interval with no heartbeat: Closing -> Closed and removed.
	deadline := time.Now().Add(time.Second)
	for r.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if r.Count() != 0 {
		t.Fatal("silent subscriber was not reaped")
	}
	if sub.State() != StateClosed {
		t.Fatalf("state = %s, want closed", sub.State())
	}

	// Removed from topic sets: publishing must not deliver to it.
	before := len(conn.written())
	r.Publish("AAPL", prediction("AAPL", 9))
	time.Sleep(30 * time.Millisecond)
	if len(conn.written()) != before {
		t.Error("reaped subscriber still receives broadcasts")
	}
}

func TestHeartbeatKeepsSubscriberAlive(t *testing.T) {
	cfg := Config{
		QueueCapacity:     16,
		OverflowPolicy:    DropOldest,
		HeartbeatInterval: 20 * time.Millisecond,
		MissedHeartbeats:  3,
	}
	r := newTestRegistry(t, cfg)
	r.Start(context.Background())

	sub := r.Register(newFakeConn())
	_, _ = r.Subscribe(sub.ID, []string{"AAPL"})

	for i := 0; i < 10; i++ {
		time.Sleep(15 * time.Millisecond)
		r.Heartbeat(sub.ID)
	}
	if r.Count() != 1 {
		t.Fatal("heartbeating subscriber was reaped")
	}
}

func TestIdleTransitionAndRecovery(t *testing.T) {
	cfg := Config{
		QueueCapacity:     16,
		OverflowPolicy:    DropOldest,
		HeartbeatInterval: 20 * time.Millisecond,
		MissedHeartbeats:  10,
	}
	r := newTestRegistry(t, cfg)
	r.Start(context.Background())

	sub := r.Register(newFakeConn())
	_, _ = r.Subscribe(sub.ID, []string{"AAPL"})

	deadline := time.Now().Add(time.Second)
	for sub.State() != StateIdle && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sub.State() != StateIdle {
		t.Fatalf("state = %s, want idle after a missed heartbeat", sub.State())
	}

	r.Heartbeat(sub.ID)
	if sub.State() != StateSubscribed {
		t.Fatalf("state = %s, want subscribed after heartbeat", sub.State())
	}
}

func TestExplicitRemove(t *testing.T) {
	r := newTestRegistry(t, Config{})
	conn := newFakeConn()
	sub := r.Register(conn)

	r.Remove(sub.ID)

	if sub.State() != StateClosed {
		t.Fatalf("state = %s, want closed", sub.State())
	}
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Error("underlying connection not closed")
	}
	if r.Count() != 0 {
		t.Errorf("Count = %d, want 0", r.Count())
	}
}

func TestIllegalTransitions(t *testing.T) {
	sub := newSubscriber(newFakeConn(), 1, DropOldest)

	if sub.transition(StateSubscribed) {
		t.Error("connecting -> subscribed must be illegal")
	}
	if sub.transition(StateClosed) {
		t.Error("connecting -> closed must go through closing")
	}
	if !sub.transition(StateRegistered) {
		t.Error("connecting -> registered must be legal")
	}
	if sub.transition(StateIdle) {
		t.Error("registered -> idle must be illegal")
	}
	if !sub.transition(StateClosing) || !sub.transition(StateClosed) {
		t.Error("closing path must be legal from any live state")
	}
	if sub.transition(StateSubscribed) {
		t.Error("closed is terminal")
	}
}
