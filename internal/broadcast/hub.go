// Package broadcast fans pipeline messages out to connected observers.
//
// Every subscriber owns a bounded outbound queue drained by its own writer
// goroutine, so a slow or broken observer only ever delays itself. A publish
// round encodes the message once, enqueues it for every subscriber and waits
// until each delivery has completed or hit the send timeout.
package broadcast

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/banshee-data/inventory.report/internal/monitoring"
	"github.com/banshee-data/inventory.report/internal/timeutil"
)

// Defaults for hub options.
const (
	DefaultSendTimeout = 500 * time.Millisecond
	DefaultQueueSize   = 16
)

var (
	// ErrTransportPanic marks a send that panicked inside the transport.
	ErrTransportPanic = errors.New("transport panicked")
	// ErrQueueFull marks a delivery dropped because the subscriber's queue
	// stayed full until the send deadline.
	ErrQueueFull = errors.New("subscriber queue full")
	// ErrRemoved marks a delivery abandoned because the subscriber left.
	ErrRemoved = errors.New("subscriber removed")
)

// Transport carries encoded messages to one observer.
type Transport interface {
	// Send writes payload. Implementations must give up once ctx is done.
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Result summarises one publish round.
type Result struct {
	Subscribers int
	Delivered   int
	Failed      int
}

// SubscriberStats reports delivery counters for one subscriber.
type SubscriberStats struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	Sent      uint64    `json:"sent"`
	Failed    uint64    `json:"failed"`
}

type delivery struct {
	msgType  string
	payload  []byte
	deadline time.Time
	// done receives the send outcome; nil for fire-and-forget replies.
	done chan error
}

type subscriber struct {
	id        string
	transport Transport
	connected time.Time
	queue     chan delivery

	ctx    context.Context
	cancel context.CancelFunc
	exited chan struct{}
	once   sync.Once

	sent   atomic.Uint64
	failed atomic.Uint64
}

// Hub is the registry of subscribers. It is safe for concurrent use.
type Hub struct {
	logger      *slog.Logger
	metrics     *monitoring.Metrics
	clock       timeutil.Clock
	sendTimeout time.Duration
	queueSize   int

	mu     sync.RWMutex
	subs   map[string]*subscriber
	latest map[string][]byte
	closed bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithSendTimeout bounds each delivery, including time spent queued.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.sendTimeout = d
		}
	}
}

// WithQueueSize sets the per-subscriber queue capacity.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithMetrics records delivery counters on m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithClock sets the clock used to stamp the initial inventory message.
func WithClock(c timeutil.Clock) Option {
	return func(h *Hub) {
		if c != nil {
			h.clock = c
		}
	}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		logger:      monitoring.Component(logger, "broadcast"),
		clock:       timeutil.RealClock{},
		sendTimeout: DefaultSendTimeout,
		queueSize:   DefaultQueueSize,
		subs:        make(map[string]*subscriber),
		latest:      make(map[string][]byte),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// AddSubscriber registers t and queues the latest inventory (or an empty
// one) as its initial state. Nothing else published before the call is
// replayed. It returns the subscriber's handle, or "" once the hub is closed.
func (h *Hub) AddSubscriber(t Transport) string {
	s := &subscriber{
		id:        uuid.NewString(),
		transport: t,
		connected: h.clock.Now(),
		queue:     make(chan delivery, h.queueSize),
		exited:    make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.cancel()
		_ = t.Close()
		return ""
	}
	initial, ok := h.latest[TypeInventory]
	if !ok {
		initial = h.emptyInventory()
	}
	// the queue is empty, so this never blocks
	s.queue <- delivery{msgType: TypeInventory, payload: initial, deadline: time.Now().Add(h.sendTimeout)}
	h.subs[s.id] = s
	count := len(h.subs)
	h.mu.Unlock()

	go h.write(s)

	if h.metrics != nil {
		h.metrics.Subscribers.Set(float64(count))
	}
	h.logger.Info("subscriber connected", "subscriber", s.id, "total", count)
	return s.id
}

func (h *Hub) emptyInventory() []byte {
	b, err := json.Marshal(NewMessage(TypeInventory, map[string]int{}, h.clock.Now()))
	if err != nil {
		panic(err)
	}
	return b
}

// RemoveSubscriber stops id's writer and closes its transport. Removing an
// unknown or already removed subscriber is a no-op.
func (h *Hub) RemoveSubscriber(id string) {
	h.mu.Lock()
	s, ok := h.subs[id]
	delete(h.subs, id)
	count := len(h.subs)
	h.mu.Unlock()
	if !ok {
		return
	}

	h.stop(s)
	if h.metrics != nil {
		h.metrics.Subscribers.Set(float64(count))
	}
	h.logger.Info("subscriber disconnected", "subscriber", id, "total", count)
}

func (h *Hub) stop(s *subscriber) {
	s.once.Do(func() {
		s.cancel()
		if err := s.transport.Close(); err != nil {
			h.logger.Debug("closing transport", "subscriber", s.id, "error", err)
		}
	})
}

// Publish delivers msg to every current subscriber and waits for the round.
// Each delivery is bounded by the send timeout or by ctx's deadline when
// that is sooner. Failures are logged and counted, and the failing
// subscriber stays registered.
func (h *Hub) Publish(ctx context.Context, msg Message) Result {
	start := time.Now()
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encoding message", "type", msg.Type, "error", err)
		return Result{}
	}

	h.mu.Lock()
	h.latest[msg.Type] = payload
	subs := slices.Collect(maps.Values(h.subs))
	h.mu.Unlock()

	if len(subs) == 0 {
		return Result{}
	}

	deadline := start.Add(h.sendTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	var delivered atomic.Int64
	wg := conc.NewWaitGroup()
	for _, s := range subs {
		wg.Go(func() {
			if h.deliver(ctx, s, msg.Type, payload, deadline) == nil {
				delivered.Add(1)
			}
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		h.logger.Error("publish round panicked", "type", msg.Type, "panic", r.Value)
	}

	if h.metrics != nil {
		h.metrics.BroadcastDuration.WithLabelValues(msg.Type).Observe(time.Since(start).Seconds())
	}
	n := int(delivered.Load())
	return Result{Subscribers: len(subs), Delivered: n, Failed: len(subs) - n}
}

func (h *Hub) deliver(ctx context.Context, s *subscriber, msgType string, payload []byte, deadline time.Time) error {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	done := make(chan error, 1)
	select {
	case s.queue <- delivery{msgType: msgType, payload: payload, deadline: deadline, done: done}:
	case <-timer.C:
		h.record(s, msgType, ErrQueueFull)
		return ErrQueueFull
	case <-s.ctx.Done():
		return ErrRemoved
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return context.DeadlineExceeded
	case <-s.ctx.Done():
		return ErrRemoved
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendTo queues msg for one subscriber without waiting for delivery. It
// reports false when id is unknown or its queue is full.
func (h *Hub) SendTo(id string, msg Message) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encoding message", "type", msg.Type, "error", err)
		return false
	}
	return h.enqueue(id, msg.Type, payload)
}

// SendLatest queues the most recently published message of msgType for one
// subscriber. It reports false when nothing of that type has been published.
func (h *Hub) SendLatest(id, msgType string) bool {
	h.mu.RLock()
	payload, ok := h.latest[msgType]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.enqueue(id, msgType, payload)
}

func (h *Hub) enqueue(id, msgType string, payload []byte) bool {
	h.mu.RLock()
	s, ok := h.subs[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case s.queue <- delivery{msgType: msgType, payload: payload, deadline: time.Now().Add(h.sendTimeout)}:
		return true
	default:
		h.record(s, msgType, ErrQueueFull)
		return false
	}
}

func (h *Hub) write(s *subscriber) {
	defer close(s.exited)
	for {
		select {
		case <-s.ctx.Done():
			return
		case d := <-s.queue:
			err := h.send(s, d)
			h.record(s, d.msgType, err)
			if d.done != nil {
				d.done <- err
			}
		}
	}
}

func (h *Hub) send(s *subscriber, d delivery) (err error) {
	ctx, cancel := context.WithDeadline(s.ctx, d.deadline)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return err
	}

	var pc panics.Catcher
	pc.Try(func() { err = s.transport.Send(ctx, d.payload) })
	if r := pc.Recovered(); r != nil {
		return fmt.Errorf("%w: %v", ErrTransportPanic, r.Value)
	}
	return err
}

func (h *Hub) record(s *subscriber, msgType string, err error) {
	if err == nil {
		s.sent.Add(1)
		if h.metrics != nil {
			h.metrics.MessagesSent.WithLabelValues(msgType).Inc()
		}
		return
	}
	if errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
		// subscriber went away mid-send
		return
	}

	s.failed.Add(1)
	reason := failureReason(err)
	if h.metrics != nil {
		h.metrics.SendFailures.WithLabelValues(reason).Inc()
	}
	h.logger.Warn("send failed", "subscriber", s.id, "type", msgType, "reason", reason, "error", err)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrTransportPanic):
		return "panic"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats returns per-subscriber counters ordered by connection time.
func (h *Hub) Stats() []SubscriberStats {
	h.mu.RLock()
	out := make([]SubscriberStats, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, SubscriberStats{
			ID:        s.id,
			Connected: s.connected,
			Sent:      s.sent.Load(),
			Failed:    s.failed.Load(),
		})
	}
	h.mu.RUnlock()

	slices.SortFunc(out, func(a, b SubscriberStats) int {
		if c := a.Connected.Compare(b.Connected); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Close removes every subscriber and waits for their writers to exit.
// Subscribers added afterwards are rejected.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := slices.Collect(maps.Values(h.subs))
	clear(h.subs)
	h.closed = true
	h.mu.Unlock()

	for _, s := range subs {
		h.stop(s)
	}
	for _, s := range subs {
		<-s.exited
	}
	if h.metrics != nil {
		h.metrics.Subscribers.Set(0)
	}
	if len(subs) > 0 {
		h.logger.Info("broadcast hub closed", "subscribers", len(subs))
	}
}
