// ABOUTME: Fan-out notifier delivering JSON events to live subscriber connections
// ABOUTME: One bounded queue and writer per connection; stalled or failing connections are evicted

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/frontdesk-gateway/internal/metrics"
)

const (
	// DefaultQueueSize is the per-connection outbound buffer.
	DefaultQueueSize = 64

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 5 * time.Second
)

// Conn is the write side of a subscriber's transport.
type Conn interface {
	// WriteText writes one UTF-8 text frame, honoring ctx's deadline.
	WriteText(ctx context.Context, data []byte) error
	Close() error
}

// Subscriber identifies a registered connection.
// SessionID ties a caller's connection to its call; supervisors leave it empty.
type Subscriber struct {
	ID        string
	SessionID string
	Role      string
}

// Config tunes per-connection delivery.
type Config struct {
	QueueSize    int
	WriteTimeout time.Duration
}

type subscription struct {
	sub   Subscriber
	conn  Conn
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// Notifier owns the live subscriber set. It holds no business state.
type Notifier struct {
	mu   sync.RWMutex
	subs map[string]*subscription

	queueSize    int
	writeTimeout time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// New creates a Notifier. Zero config values take the defaults; logger and m may be nil.
func New(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Notifier{
		subs:         make(map[string]*subscription),
		queueSize:    cfg.QueueSize,
		writeTimeout: cfg.WriteTimeout,
		metrics:      m,
		logger:       logger.With("component", "notifier"),
	}
}

// Register adds conn to the live set and returns its subscriber ID.
// An empty sub.ID is replaced with a generated one.
func (n *Notifier) Register(sub Subscriber, conn Conn) string {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}

	s := &subscription{
		sub:   sub,
		conn:  conn,
		queue: make(chan []byte, n.queueSize),
		done:  make(chan struct{}),
	}

	n.mu.Lock()
	old := n.subs[sub.ID]
	n.subs[sub.ID] = s
	n.mu.Unlock()

	if old != nil {
		old.stop()
		_ = old.conn.Close()
		n.metrics.SubscriberRemoved(false)
	}
	n.metrics.SubscriberAdded()

	go n.writeLoop(s)

	n.logger.Debug("subscriber added", "sub_id", sub.ID, "session_id", sub.SessionID, "role", sub.Role)
	return sub.ID
}

// Unregister removes a subscriber. Removing an absent subscriber is a no-op.
func (n *Notifier) Unregister(id string) {
	n.remove(id, nil, nil)
}

// Broadcast encodes event once and queues it for every live subscriber.
// A full queue is given up to the write timeout to drain before its subscriber
// is evicted. Only encoding errors are returned.
func (n *Notifier) Broadcast(ctx context.Context, event Event) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event.Type, err)
	}
	n.deliver(event.Type, frame, func(Subscriber) bool { return true })
	return nil
}

// SendTo queues event for subscribers registered with sessionID and reports
// how many were reached.
func (n *Notifier) SendTo(ctx context.Context, sessionID string, event Event) (int, error) {
	frame, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("encoding %s event: %w", event.Type, err)
	}
	return n.deliver(event.Type, frame, func(s Subscriber) bool { return s.SessionID == sessionID }), nil
}

// SendToSubscriber queues event for one subscriber and reports whether it was live.
func (n *Notifier) SendToSubscriber(ctx context.Context, id string, event Event) (bool, error) {
	frame, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("encoding %s event: %w", event.Type, err)
	}
	return n.deliver(event.Type, frame, func(s Subscriber) bool { return s.ID == id }) == 1, nil
}

func (n *Notifier) deliver(eventType string, frame []byte, match func(Subscriber) bool) int {
	// Copy targets under read lock so sends never hold the lock
	n.mu.RLock()
	targets := make([]*subscription, 0, len(n.subs))
	for _, s := range n.subs {
		if match(s.sub) {
			targets = append(targets, s)
		}
	}
	n.mu.RUnlock()

	var (
		wg        sync.WaitGroup
		delivered atomic.Int64
	)
	for _, s := range targets {
		select {
		case s.queue <- frame:
			delivered.Add(1)
			continue
		default:
		}

		// Full queues wait concurrently so one slow connection bounds the call at writeTimeout
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n.enqueue(s, frame) {
				delivered.Add(1)
			}
		}()
	}
	wg.Wait()

	n.logger.Debug("event queued", "type", eventType, "subscribers", delivered.Load())
	return int(delivered.Load())
}

// enqueue waits up to writeTimeout for room in a full queue, then evicts.
// A writer that is only behind a burst drains within that window.
func (n *Notifier) enqueue(s *subscription, frame []byte) bool {
	timer := time.NewTimer(n.writeTimeout)
	defer timer.Stop()

	select {
	case s.queue <- frame:
		return true
	case <-s.done:
		return false
	case <-timer.C:
		n.remove(s.sub.ID, s, fmt.Errorf("outbound queue full (%d frames) for %s", n.queueSize, n.writeTimeout))
		return false
	}
}

// writeLoop is the only writer for s.conn, which keeps per-connection order.
func (n *Notifier) writeLoop(s *subscription) {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.queue:
			ctx, cancel := context.WithTimeout(context.Background(), n.writeTimeout)
			err := s.conn.WriteText(ctx, frame)
			cancel()
			if err != nil {
				n.remove(s.sub.ID, s, err)
				return
			}
		}
	}
}

// remove deletes id from the live set. If expect is non-nil, only that exact
// subscription is removed, so a stale writer cannot evict a re-registration.
// A non-nil cause marks an eviction.
func (n *Notifier) remove(id string, expect *subscription, cause error) {
	n.mu.Lock()
	s, ok := n.subs[id]
	if !ok || (expect != nil && s != expect) {
		n.mu.Unlock()
		return
	}
	delete(n.subs, id)
	n.mu.Unlock()

	s.stop()
	_ = s.conn.Close()
	n.metrics.SubscriberRemoved(cause != nil)

	if cause != nil {
		n.logger.Warn("subscriber evicted", "sub_id", id, "session_id", s.sub.SessionID, "error", cause)
		return
	}
	n.logger.Debug("subscriber removed", "sub_id", id)
}

// Count returns the number of live subscribers.
func (n *Notifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Subscribers returns a snapshot of the live set.
func (n *Notifier) Subscribers() []Subscriber {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]Subscriber, 0, len(n.subs))
	for _, s := range n.subs {
		out = append(out, s.sub)
	}
	return out
}

// Close removes every subscriber and closes their connections.
func (n *Notifier) Close() {
	n.mu.Lock()
	all := n.subs
	n.subs = make(map[string]*subscription)
	n.mu.Unlock()

	for _, s := range all {
		s.stop()
		_ = s.conn.Close()
		n.metrics.SubscriberRemoved(false)
	}

	n.logger.Debug("notifier closed", "subscribers", len(all))
}
