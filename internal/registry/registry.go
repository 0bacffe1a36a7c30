package registry

import (
	"context"
	"sync"
	"time"

	"PredPulse/internal/domain/models"
	"PredPulse/internal/domain/repository"
	"PredPulse/pkg/logger"
)

// Config holds registry tunables; all come from the configuration surface.
type Config struct {
	QueueCapacity     int
	OverflowPolicy    OverflowPolicy
	HeartbeatInterval time.Duration
	MissedHeartbeats  int
}

// Registry tracks every live subscriber and fans predictions out to the
// ones whose topic set matches. Mutation of the subscriber map is mutually
// exclusive with broadcast iteration, but broadcasts work on a snapshot so
// the lock is never held for the full fan-out.
type Registry struct {
	cfg     Config
	gate    repository.HealthGate
	metrics repository.Metrics
	log     *logger.Logger

	mu   sync.RWMutex
	subs map[string]*Subscriber

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an empty registry.
func New(cfg Config, gate repository.HealthGate, metrics repository.Metrics, log *logger.Logger) *Registry {
	return &Registry{
		cfg:     cfg,
		gate:    gate,
		metrics: metrics,
		log:     log,
		subs:    make(map[string]*Subscriber),
	}
}

// Start launches the heartbeat reaper. Stops on ctx cancel or Close.
func (r *Registry) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.reap()
			}
		}
	}()
}

// Register admits a new connection: Connecting -> Registered, identity and
// empty queue assigned, write pump started.
func (r *Registry) Register(conn Conn) *Subscriber {
	sub := newSubscriber(conn, r.cfg.QueueCapacity, r.cfg.OverflowPolicy)
	sub.transition(StateRegistered)

	r.mu.Lock()
	r.subs[sub.ID] = sub
	n := len(r.subs)
	r.mu.Unlock()

	r.metrics.SetConnectedClients(n)
	r.log.Info("subscriber registered", logger.String("id", sub.ID), logger.Int("connected", n))

	r.wg.Add(1)
	go r.writePump(sub)

	return sub
}

// Subscribe declares the topic set for a registered subscriber.
func (r *Registry) Subscribe(id string, topics []string) ([]string, error) {
	sub := r.get(id)
	if sub == nil {
		return nil, models.DeliveryFailedError(id, nil)
	}
	if !sub.subscribe(topics) {
		return nil, models.DeliveryFailedError(id, nil)
	}
	r.log.Debug("subscriber topics updated", logger.String("id", id), logger.Strings("topics", topics))
	return sub.topicList(), nil
}

// Heartbeat records a client ping.
func (r *Registry) Heartbeat(id string) {
	if sub := r.get(id); sub != nil {
		sub.touch()
	}
}

// Send enqueues a direct message to one subscriber, applying the overflow
// policy. Used for handshake, confirmations, pong, status and error frames,
// so every outbound frame shares the FIFO queue with broadcasts.
func (r *Registry) Send(id string, msg interface{}) {
	sub := r.get(id)
	if sub == nil {
		return
	}
	r.deliver(sub, msg)
}

// Publish fans one result out to every Subscribed subscriber matching the
// topic, never blocking on any individual queue.
func (r *Registry) Publish(topic string, result *models.PredictionResult) {
	start := time.Now()
	frame := models.NewStockUpdates(result)

	r.mu.RLock()
	targets := make([]*Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.matches(topic) {
			targets = append(targets, sub)
		}
	}
	r.mu.RUnlock()

	for _, sub := range targets {
		r.deliver(sub, frame)
	}

	if r.gate != nil {
		r.gate.Record(models.StageBroadcast, nil, time.Since(start).Seconds())
	}
	r.metrics.RecordLatency("broadcast", time.Since(start).Seconds())
}

// Broadcast delivers one frame to every tracked subscriber regardless of
// topic subscriptions. Used for server-wide status pushes.
func (r *Registry) Broadcast(msg interface{}) {
	r.mu.RLock()
	targets := make([]*Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		targets = append(targets, sub)
	}
	r.mu.RUnlock()

	for _, sub := range targets {
		r.deliver(sub, msg)
	}
}

// deliver enqueues one frame, enforcing the overflow policy.
func (r *Registry) deliver(sub *Subscriber, msg interface{}) {
	ok, dropped := sub.enqueue(msg)
	if dropped {
		r.metrics.RecordDropped(string(sub.policy))
	}
	if !ok && sub.policy == Disconnect {
		r.fail(sub, models.DeliveryFailedError(sub.ID, nil))
	}
}

// Remove closes one subscriber on explicit disconnect.
func (r *Registry) Remove(id string) {
	if sub := r.get(id); sub != nil {
		r.drop(sub, "client disconnect")
	}
}

// Count returns the number of tracked subscribers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Close tears down the reaper and every subscriber.
func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}

	r.mu.Lock()
	subs := make([]*Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.subs = make(map[string]*Subscriber)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	r.metrics.SetConnectedClients(0)
	r.wg.Wait()
}

func (r *Registry) get(id string) *Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subs[id]
}

// fail handles an unrecoverable per-subscriber delivery error. Strictly
// isolated: nothing here touches any other subscriber or the pipeline.
func (r *Registry) fail(sub *Subscriber, err error) {
	if r.gate != nil {
		r.gate.Record(models.StageBroadcast, err, 0)
	}
	r.metrics.RecordError(string(models.CodeDeliveryFailed))
	r.drop(sub, err.Error())
}

func (r *Registry) drop(sub *Subscriber, reason string) {
	r.mu.Lock()
	_, present := r.subs[sub.ID]
	delete(r.subs, sub.ID)
	n := len(r.subs)
	r.mu.Unlock()

	sub.close()
	if present {
		r.metrics.SetConnectedClients(n)
		r.log.Info("subscriber closed",
			logger.String("id", sub.ID),
			logger.String("reason", reason),
			logger.Int("connected", n),
		)
	}
}

// writePump drains one subscriber's queue to its connection. Per-subscriber
// FIFO delivery order is this goroutine's responsibility.
func (r *Registry) writePump(sub *Subscriber) {
	defer r.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case msg := <-sub.queue:
			if err := sub.conn.WriteJSON(msg); err != nil {
				r.fail(sub, models.DeliveryFailedError(sub.ID, err))
				return
			}
		}
	}
}

// reap walks subscribers, marking quiet ones Idle and closing the ones past
// the missed-heartbeat threshold. Heartbeats are the sole liveness signal;
// outbound silence is not failure.
func (r *Registry) reap() {
	limit := time.Duration(r.cfg.MissedHeartbeats) * r.cfg.HeartbeatInterval

	r.mu.RLock()
	snapshot := make([]*Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		snapshot = append(snapshot, sub)
	}
	r.mu.RUnlock()

	for _, sub := range snapshot {
		elapsed := sub.sinceHeartbeat()
		switch {
		case elapsed >= limit:
			r.drop(sub, "heartbeat timeout")
		case elapsed >= r.cfg.HeartbeatInterval:
			sub.transition(StateIdle)
		}
	}
}
