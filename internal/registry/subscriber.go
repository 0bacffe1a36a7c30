package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a subscriber's lifecycle position.
// Connecting -> Registered -> Subscribed <-> Idle -> Closing -> Closed.
type State int32

const (
	StateConnecting State = iota
	StateRegistered
	StateSubscribed
	StateIdle
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateSubscribed:
		return "subscribed"
	case StateIdle:
		return "idle"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// OverflowPolicy decides what happens when an outbound queue is full.
// Blocking the publisher is not an option: one slow subscriber must never
// stall delivery to the rest.
type OverflowPolicy string

const (
	DropOldest OverflowPolicy = "drop_oldest"
	Disconnect OverflowPolicy = "disconnect"
)

// ParsePolicy validates a configured overflow policy string.
func ParsePolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(s); p {
	case DropOldest, Disconnect:
		return p, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Conn is the slice of a WebSocket connection the registry needs.
// *websocket.Conn satisfies it; tests substitute fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Subscriber is one connected client, owned exclusively by the Registry.
type Subscriber struct {
	ID   string
	conn Conn

	mu            sync.Mutex
	state         State
	topics        map[string]struct{}
	all           bool
	lastHeartbeat time.Time

	queue     chan interface{}
	policy    OverflowPolicy
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(conn Conn, queueCapacity int, policy OverflowPolicy) *Subscriber {
	return &Subscriber{
		ID:            uuid.NewString(),
		conn:          conn,
		state:         StateConnecting,
		topics:        make(map[string]struct{}),
		lastHeartbeat: time.Now(),
		queue:         make(chan interface{}, queueCapacity),
		policy:        policy,
		done:          make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves the subscriber along a legal edge, returning false for
// illegal moves (including anything out of Closing/Closed).
func (s *Subscriber) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *Subscriber) transitionLocked(to State) bool {
	from := s.state
	legal := false
	switch to {
	case StateRegistered:
		legal = from == StateConnecting
	case StateSubscribed:
		legal = from == StateRegistered || from == StateIdle || from == StateSubscribed
	case StateIdle:
		legal = from == StateSubscribed
	case StateClosing:
		legal = from != StateClosing && from != StateClosed
	case StateClosed:
		legal = from == StateClosing
	}
	if legal {
		s.state = to
	}
	return legal
}

// subscribe records the topic set. "all" subscribes to every symbol.
func (s *Subscriber) subscribe(topics []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.transitionLocked(StateSubscribed) {
		return false
	}
	for _, t := range topics {
		if t == "all" {
			s.all = true
			continue
		}
		s.topics[t] = struct{}{}
	}
	return true
}

// matches reports whether a Subscribed subscriber wants topic.
func (s *Subscriber) matches(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSubscribed {
		return false
	}
	if s.all {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

// topicList returns the declared topics for confirmation messages.
func (s *Subscriber) topicList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.all {
		return []string{"all"}
	}
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// touch records a heartbeat; an Idle subscriber becomes Subscribed again.
func (s *Subscriber) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = time.Now()
	if s.state == StateIdle {
		s.state = StateSubscribed
	}
}

// sinceHeartbeat reports the elapsed time since the last heartbeat.
func (s *Subscriber) sinceHeartbeat() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastHeartbeat)
}

// enqueue places a message on the outbound queue without ever blocking the
// caller. Under drop_oldest, the oldest queued message is discarded and the
// new one retained; the ok return reports whether msg was kept. dropped is
// true whenever any message was lost.
func (s *Subscriber) enqueue(msg interface{}) (ok, dropped bool) {
	select {
	case <-s.done:
		return false, false
	default:
	}

	select {
	case s.queue <- msg:
		return true, false
	default:
	}

	if s.policy == Disconnect {
		return false, true
	}

	// drop_oldest: keep discarding from the front until msg lands. The loop
	// terminates because each pass either enqueues or removes one element,
	// and concurrent publishers doing the same cannot starve each other on a
	// non-empty queue.
	for {
		select {
		case <-s.queue:
			dropped = true
		default:
		}
		select {
		case s.queue <- msg:
			return true, dropped
		default:
		}
	}
}

// close tears the connection down. Idempotent.
func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		s.transition(StateClosing)
		close(s.done)
		_ = s.conn.Close()
		s.transition(StateClosed)
	})
}
