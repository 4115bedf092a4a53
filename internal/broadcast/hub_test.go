package broadcast

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/racecontrol/internal/adapter/metrics"
)

type fakeSubscriber struct {
	id string

	mu       sync.Mutex
	messages []string
	sendErr  error
	closed   int
	reason   string
	block    chan struct{}
}

func newFakeSubscriber(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id}
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(msg string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeSubscriber) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.reason = reason
	return nil
}

func (f *fakeSubscriber) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func (f *fakeSubscriber) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestHub_BroadcastReachesAllSubscribers(t *testing.T) {
	hub := NewHub(nil)
	a, b := newFakeSubscriber("a"), newFakeSubscriber("b")
	require.NoError(t, hub.Connect(a))
	require.NoError(t, hub.Connect(b))

	hub.Broadcast("hello")

	assert.Equal(t, []string{"hello"}, a.received())
	assert.Equal(t, []string{"hello"}, b.received())
}

func TestHub_BroadcastWithNoSubscribers(t *testing.T) {
	hub := NewHub(nil)
	assert.NotPanics(t, func() { hub.Broadcast("nobody listens") })
}

func TestHub_DisconnectTwiceIsNoop(t *testing.T) {
	hub := NewHub(nil)
	a := newFakeSubscriber("a")
	require.NoError(t, hub.Connect(a))

	hub.Disconnect(a)
	assert.NotPanics(t, func() { hub.Disconnect(a) })
	assert.Equal(t, 0, hub.Count())

	hub.Broadcast("after disconnect")
	assert.Empty(t, a.received())
}

func TestHub_DisconnectUnknownSubscriber(t *testing.T) {
	hub := NewHub(nil)
	require.NoError(t, hub.Connect(newFakeSubscriber("a")))

	hub.Disconnect(newFakeSubscriber("stranger"))
	assert.Equal(t, 1, hub.Count())
}

func TestHub_FailedSubscriberIsEvicted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewHubMetrics(reg)
	hub := NewHub(m)

	healthy := newFakeSubscriber("healthy")
	broken := newFakeSubscriber("broken")
	broken.sendErr = errors.New("write: broken pipe")
	require.NoError(t, hub.Connect(healthy))
	require.NoError(t, hub.Connect(broken))

	hub.Broadcast("first")
	assert.Equal(t, 1, hub.Count())
	assert.Equal(t, 1, broken.closeCount())

	// the evicted subscriber is no longer part of the next call
	broken.mu.Lock()
	broken.sendErr = nil
	broken.mu.Unlock()
	hub.Broadcast("second")

	assert.Equal(t, []string{"first", "second"}, healthy.received())
	assert.Empty(t, broken.received())
	assert.InDelta(t, 1, testutil.ToFloat64(m.DeliveryFailures), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.MessagesSent), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Subscribers), 0)
}

func TestHub_SlowSendDoesNotBlockConnect(t *testing.T) {
	hub := NewHub(nil)
	slow := newFakeSubscriber("slow")
	slow.block = make(chan struct{})
	require.NoError(t, hub.Connect(slow))

	done := make(chan struct{})
	go func() {
		hub.Broadcast("stuck")
		close(done)
	}()

	connected := make(chan struct{})
	go func() {
		_ = hub.Connect(newFakeSubscriber("late"))
		hub.Disconnect(slow)
		close(connected)
	}()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("connect blocked behind a slow send")
	}

	close(slow.block)
	<-done
	assert.Equal(t, 1, hub.Count())
}

func TestHub_ConcurrentBroadcastAndDisconnect(t *testing.T) {
	hub := NewHub(nil)

	const subscribers = 50
	const broadcasts = 20
	subs := make([]*fakeSubscriber, subscribers)
	for i := range subs {
		subs[i] = newFakeSubscriber(fmt.Sprintf("sub-%d", i))
		require.NoError(t, hub.Connect(subs[i]))
	}

	var wg sync.WaitGroup
	for i := range broadcasts {
		wg.Go(func() { hub.Broadcast(fmt.Sprintf("msg-%d", i)) })
	}
	for i := 0; i < subscribers; i += 2 {
		wg.Go(func() {
			hub.Disconnect(subs[i])
			hub.Disconnect(subs[i])
		})
	}
	wg.Wait()

	assert.Equal(t, subscribers/2, hub.Count())
	for i, sub := range subs {
		seen := make(map[string]int)
		for _, msg := range sub.received() {
			seen[msg]++
			assert.Equal(t, 1, seen[msg], "duplicate delivery of %s", msg)
		}
		if i%2 == 1 {
			assert.Len(t, sub.received(), broadcasts, "still-connected subscriber got every message")
		}
	}
}

func TestHub_CloseClosesSubscribersAndRejectsConnect(t *testing.T) {
	hub := NewHub(nil)
	a := newFakeSubscriber("a")
	require.NoError(t, hub.Connect(a))

	hub.Close()
	hub.Close()

	assert.Equal(t, 1, a.closeCount())
	assert.Equal(t, "server shutting down", a.reason)
	assert.Equal(t, 0, hub.Count())
	assert.ErrorIs(t, hub.Connect(newFakeSubscriber("b")), ErrHubClosed)
}
