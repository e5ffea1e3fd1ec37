package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"chromate/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHubDeliversInOrder(t *testing.T) {
	hub := NewHub(nil)
	t.Cleanup(hub.Close)

	rec := &recorder{}
	_, err := hub.Register("page", rec.handle)
	require.NoError(t, err)

	for _, dir := range []string{"up", "down", "up"} {
		require.NoError(t, hub.Send(context.Background(), "page", domain.Message{Type: domain.MessageScroll, Direction: dir}))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	got := rec.snapshot()
	assert.Equal(t, "up", got[0].Direction)
	assert.Equal(t, "down", got[1].Direction)
	assert.Equal(t, "up", got[2].Direction)
}

func TestHubSendToMissingContextFails(t *testing.T) {
	hub := NewHub(nil)
	t.Cleanup(hub.Close)

	err := hub.Send(context.Background(), "gone", domain.Message{Type: domain.MessageReload})
	assert.ErrorIs(t, err, ErrNoReceiver)

	err = hub.Send(context.Background(), "", domain.Message{Type: domain.MessageReload})
	assert.ErrorIs(t, err, ErrNoReceiver)
}

func TestHubEmptyIDTargetsActiveContext(t *testing.T) {
	hub := NewHub(nil)
	t.Cleanup(hub.Close)

	first, second := &recorder{}, &recorder{}
	_, err := hub.Register("first", first.handle)
	require.NoError(t, err)
	unregisterSecond, err := hub.Register("second", second.handle)
	require.NoError(t, err)

	require.NoError(t, hub.Send(context.Background(), "", domain.Message{Type: domain.MessageReload}))
	require.Eventually(t, func() bool { return len(second.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Activate("first"))
	require.NoError(t, hub.Send(context.Background(), "", domain.Message{Type: domain.MessageReload}))
	require.Eventually(t, func() bool { return len(first.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	unregisterSecond()
	unregisterSecond()
	assert.ElementsMatch(t, []string{"first"}, hub.Contexts())
	assert.ErrorIs(t, hub.Activate("second"), ErrNoReceiver)
}

func TestHubFallsBackToRemainingContext(t *testing.T) {
	hub := NewHub(nil)
	t.Cleanup(hub.Close)

	local, tab := &recorder{}, &recorder{}
	_, err := hub.Register("local-browser", local.handle)
	require.NoError(t, err)
	unregisterTab, err := hub.Register("ext-tab", tab.handle)
	require.NoError(t, err)
	assert.Equal(t, "ext-tab", hub.Active())

	unregisterTab()
	assert.Equal(t, "local-browser", hub.Active())
	require.NoError(t, hub.Send(context.Background(), "", domain.Message{Type: domain.MessageReload}))
	require.Eventually(t, func() bool { return len(local.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, tab.snapshot())
}

func TestHubActivateSurvivesLaterUnregister(t *testing.T) {
	hub := NewHub(nil)
	t.Cleanup(hub.Close)

	noop := func(context.Context, domain.Message) {}
	_, err := hub.Register("a", noop)
	require.NoError(t, err)
	unregisterB, err := hub.Register("b", noop)
	require.NoError(t, err)
	unregisterC, err := hub.Register("c", noop)
	require.NoError(t, err)

	require.NoError(t, hub.Activate("b"))
	assert.Equal(t, "b", hub.Active())

	unregisterC()
	assert.Equal(t, "b", hub.Active())
	unregisterB()
	assert.Equal(t, "a", hub.Active())
}

func TestHubRegisterReplacesExistingContext(t *testing.T) {
	hub := NewHub(nil)
	t.Cleanup(hub.Close)

	stale, other, fresh := &recorder{}, &recorder{}, &recorder{}
	unregisterStale, err := hub.Register("ext-tab", stale.handle)
	require.NoError(t, err)
	_, err = hub.Register("local-browser", other.handle)
	require.NoError(t, err)
	_, err = hub.Register("ext-tab", fresh.handle)
	require.NoError(t, err)
	assert.Equal(t, "ext-tab", hub.Active())

	unregisterStale()
	assert.Equal(t, "ext-tab", hub.Active())
	require.NoError(t, hub.Send(context.Background(), "", domain.Message{Type: domain.MessageReload}))
	require.Eventually(t, func() bool { return len(fresh.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, stale.snapshot())
	assert.Empty(t, other.snapshot())
}

func TestHubUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub(nil)
	t.Cleanup(hub.Close)

	rec := &recorder{}
	unregister, err := hub.Register("page", rec.handle)
	require.NoError(t, err)
	unregister()

	err = hub.Send(context.Background(), "page", domain.Message{Type: domain.MessageReload})
	assert.ErrorIs(t, err, ErrNoReceiver)
}

func TestHubBroadcastAndClose(t *testing.T) {
	hub := NewHub(nil)

	a, b := &recorder{}, &recorder{}
	_, err := hub.Register("a", a.handle)
	require.NoError(t, err)
	_, err = hub.Register("b", b.handle)
	require.NoError(t, err)

	status := domain.Status{State: domain.SessionStateListening, Active: true}
	assert.Equal(t, 2, hub.Broadcast(domain.Message{Type: domain.MessageStatus, Status: &status}))

	require.Eventually(t, func() bool {
		return len(a.snapshot()) == 1 && len(b.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	hub.Close()
	hub.Close()
	assert.ErrorIs(t, hub.Send(context.Background(), "a", domain.Message{}), ErrHubClosed)
	assert.Equal(t, 0, hub.Broadcast(domain.Message{}))
	_, err = hub.Register("c", a.handle)
	assert.ErrorIs(t, err, ErrHubClosed)
}

func TestHubRegisterValidation(t *testing.T) {
	hub := NewHub(nil)
	t.Cleanup(hub.Close)

	_, err := hub.Register("", func(context.Context, domain.Message) {})
	assert.Error(t, err)
	_, err = hub.Register("x", nil)
	assert.Error(t, err)
}

type recorder struct {
	mu       sync.Mutex
	messages []domain.Message
	sources  []string
}

func (r *recorder) handle(ctx context.Context, msg domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	r.sources = append(r.sources, Source(ctx))
}

func (r *recorder) snapshot() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *recorder) snapshotSources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sources))
	copy(out, r.sources)
	return out
}
