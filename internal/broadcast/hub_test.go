package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/inventory.report/internal/monitoring"
)

type mode int

const (
	modeOK mode = iota
	modeError
	modePanic
	modeBlock
)

type fakeTransport struct {
	mode  mode
	delay time.Duration

	mu     sync.Mutex
	msgs   []Message
	closes atomic.Int32
}

func (f *fakeTransport) Send(ctx context.Context, payload []byte) error {
	switch f.mode {
	case modeError:
		return errors.New("connection reset")
	case modePanic:
		panic("transport exploded")
	case modeBlock:
		<-ctx.Done()
		return ctx.Err()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, m)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.closes.Add(1)
	return nil
}

func (f *fakeTransport) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.msgs...)
}

func (f *fakeTransport) types() []string {
	var out []string
	for _, m := range f.messages() {
		out = append(out, m.Type)
	}
	return out
}

func waitFor(t *testing.T, f *fakeTransport, n int) []Message {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.messages()) >= n }, 2*time.Second, 5*time.Millisecond)
	return f.messages()
}

var stamp = time.Date(2025, 6, 23, 23, 0, 0, 0, time.UTC)

func TestInitialStateIsEmptyInventory(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ft := &fakeTransport{}
	id := h.AddSubscriber(ft)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, h.Count())

	msgs := waitFor(t, ft, 1)
	assert.Equal(t, TypeInventory, msgs[0].Type)
	assert.Equal(t, map[string]any{}, msgs[0].Data)
}

func TestInitialStateUsesLatestInventoryWithoutReplay(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()
	ctx := context.Background()

	assert.Equal(t, Result{}, h.Publish(ctx, NewMessage(TypeInventory, map[string]int{"Bowl1": 2}, stamp)))
	assert.Equal(t, Result{}, h.Publish(ctx, NewMessage(TypeFrame, "aGVsbG8=", stamp)))

	ft := &fakeTransport{}
	h.AddSubscriber(ft)
	res := h.Publish(ctx, NewMessage(TypeStats, Stats{FPS: 30}, stamp))
	assert.Equal(t, Result{Subscribers: 1, Delivered: 1}, res)

	msgs := ft.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{TypeInventory, TypeStats}, ft.types())
	assert.Equal(t, map[string]any{"Bowl1": 2.0}, msgs[0].Data)
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	fast := &fakeTransport{}
	slow := &fakeTransport{delay: time.Millisecond}
	h.AddSubscriber(fast)
	h.AddSubscriber(slow)

	const n = 40
	for i := 0; i < n; i++ {
		res := h.Publish(context.Background(), NewMessage(TypeInventory, map[string]int{"seq": i + 1}, stamp))
		require.Equal(t, 2, res.Delivered)
	}

	for _, ft := range []*fakeTransport{fast, slow} {
		msgs := waitFor(t, ft, n+1)
		for i, m := range msgs[1:] {
			assert.Equal(t, map[string]any{"seq": float64(i + 1)}, m.Data)
		}
	}
}

func TestFailingSubscribersAreIsolated(t *testing.T) {
	metrics := monitoring.NewMetrics()
	h := NewHub(nil, WithSendTimeout(50*time.Millisecond), WithMetrics(metrics))
	defer h.Close()

	good := &fakeTransport{}
	failing := &fakeTransport{mode: modeError}
	panicking := &fakeTransport{mode: modePanic}
	blocked := &fakeTransport{mode: modeBlock}

	goodID := h.AddSubscriber(good)
	for _, ft := range []*fakeTransport{failing, panicking, blocked} {
		h.AddSubscriber(ft)
	}

	start := time.Now()
	res := h.Publish(context.Background(), NewMessage(TypeInventory, map[string]int{"Cup": 1}, stamp))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Result{Subscribers: 4, Delivered: 1, Failed: 3}, res)
	assert.Equal(t, 4, h.Count(), "failures never evict")

	res = h.Publish(context.Background(), NewMessage(TypeInventory, map[string]int{"Cup": 2}, stamp))
	assert.Equal(t, 1, res.Delivered)

	msgs := waitFor(t, good, 3)
	assert.Equal(t, map[string]any{"Cup": 2.0}, msgs[2].Data)

	require.Eventually(t, func() bool {
		for _, st := range h.Stats() {
			if st.ID != goodID && st.Failed < 3 {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	for _, st := range h.Stats() {
		if st.ID == goodID {
			assert.Equal(t, uint64(3), st.Sent)
			assert.Zero(t, st.Failed)
		}
	}

	assert.GreaterOrEqual(t, promtest.ToFloat64(metrics.SendFailures.WithLabelValues("panic")), 3.0)
	assert.GreaterOrEqual(t, promtest.ToFloat64(metrics.SendFailures.WithLabelValues("error")), 3.0)
	assert.GreaterOrEqual(t, promtest.ToFloat64(metrics.SendFailures.WithLabelValues("timeout")), 3.0)
	assert.Equal(t, 4.0, promtest.ToFloat64(metrics.Subscribers))
}

func TestRemoveSubscriberIsIdempotent(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ft := &fakeTransport{}
	id := h.AddSubscriber(ft)
	waitFor(t, ft, 1)

	h.RemoveSubscriber(id)
	h.RemoveSubscriber(id)
	h.RemoveSubscriber("unknown")

	assert.Equal(t, 0, h.Count())
	assert.Equal(t, int32(1), ft.closes.Load())
	assert.False(t, h.SendTo(id, NewMessage(TypePong, nil, stamp)))
	assert.Equal(t, Result{}, h.Publish(context.Background(), NewMessage(TypeInventory, map[string]int{}, stamp)))
}

func TestSendToAndSendLatest(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ft := &fakeTransport{}
	id := h.AddSubscriber(ft)

	assert.False(t, h.SendLatest(id, TypeFrame), "nothing published yet")
	h.Publish(context.Background(), NewMessage(TypeFrame, "Zm9v", stamp))
	assert.True(t, h.SendLatest(id, TypeFrame))
	assert.True(t, h.SendTo(id, NewMessage(TypePong, nil, stamp)))

	msgs := waitFor(t, ft, 4)
	assert.Equal(t, []string{TypeInventory, TypeFrame, TypeFrame, TypePong}, ft.types())
	assert.Equal(t, "Zm9v", msgs[2].Data)
	assert.Nil(t, msgs[3].Data)
}

func TestCloseRejectsNewSubscribers(t *testing.T) {
	h := NewHub(nil)
	a, b := &fakeTransport{}, &fakeTransport{}
	h.AddSubscriber(a)
	h.AddSubscriber(b)

	h.Close()
	assert.Equal(t, 0, h.Count())
	assert.Equal(t, int32(1), a.closes.Load())
	assert.Equal(t, int32(1), b.closes.Load())

	late := &fakeTransport{}
	assert.Empty(t, h.AddSubscriber(late))
	assert.Equal(t, int32(1), late.closes.Load())
}

func TestParseInbound(t *testing.T) {
	in, err := ParseInbound([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, TypePing, in.Type)

	in, err = ParseInbound([]byte(`{"type":"request_frame","data":{"quality":"high"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeRequestFrame, in.Type)
	assert.JSONEq(t, `{"quality":"high"}`, string(in.Data))

	for _, bad := range []string{`not json`, `{}`, `{"type":7}`, `[]`} {
		_, err := ParseInbound([]byte(bad))
		assert.ErrorIs(t, err, ErrMalformed, "input %q", bad)
	}
}

func TestMessageEncoding(t *testing.T) {
	b, err := json.Marshal(NewMessage(TypePong, nil, time.Unix(1750719826, 500_000_000)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong","timestamp":1750719826.5}`, string(b))

	b, err = json.Marshal(NewMessage(TypeInventory, map[string]int{}, time.Unix(10, 0)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"inventory","data":{},"timestamp":10}`, string(b))
}

func TestWSTransport(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.AddSubscriber(NewWSTransport(conn))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() Message {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var m Message
		require.NoError(t, conn.ReadJSON(&m))
		return m
	}

	assert.Equal(t, TypeInventory, read().Type)

	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)
	res := h.Publish(context.Background(), NewMessage(TypeStats, Stats{FPS: 29.5, TotalItems: 3}, stamp))
	assert.Equal(t, 1, res.Delivered)

	m := read()
	assert.Equal(t, TypeStats, m.Type)
	assert.Equal(t, 29.5, m.Data.(map[string]any)["fps"])
}
