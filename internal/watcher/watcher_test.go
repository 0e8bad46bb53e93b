package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, w *Watcher) ChangeSet {
	t.Helper()
	select {
	case set, ok := <-w.Changes():
		require.True(t, ok, "changes closed")
		return set
	case <-time.After(2 * time.Second):
		t.Fatal("no change set received")
		return ChangeSet{}
	}
}

func pendingCount(w *Watcher) int {
	p, err := w.Pending()
	if err != nil {
		return -1
	}
	return len(p)
}

func TestWatcherDeliversChangeSets(t *testing.T) {
	clock := clockwork.NewFakeClock()
	agg := NewAggregator("/w", WithClock(clock), WithEventInterval(interval))
	w := NewWatcher(agg, WithoutNotify())

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	clock.Advance(interval)
	initial := receive(t, w)
	assert.True(t, initial.Initial)
	assert.Empty(t, initial.Paths)
	assert.Equal(t, "/w", initial.Root)

	w.Inject("/w/a.txt")
	w.Inject("b.txt")
	require.Eventually(t, func() bool { return pendingCount(w) == 2 }, time.Second, 5*time.Millisecond)

	clock.Advance(interval)
	set := receive(t, w)
	assert.False(t, set.Initial)
	assert.Equal(t, []string{"/w/a.txt", "/w/b.txt"}, set.Paths)
}

func TestWatcherControl(t *testing.T) {
	clock := clockwork.NewFakeClock()
	agg := NewAggregator("/w", WithClock(clock), WithEventInterval(interval))
	w := NewWatcher(agg, WithoutNotify())

	require.NoError(t, w.Start(context.Background()))

	clock.Advance(interval)
	receive(t, w)

	require.NoError(t, w.SetEventsEnabled(false))
	w.Inject("/w/ignored")
	require.NoError(t, w.SetEventsEnabled(true))
	w.Inject("/w/kept")
	require.Eventually(t, func() bool { return pendingCount(w) >= 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, w.ClearPendingEvents())
	assert.Equal(t, 0, pendingCount(w))

	w.Stop()
	_, ok := <-w.Changes()
	assert.False(t, ok)
	assert.ErrorIs(t, w.SetEventsEnabled(true), ErrWatcherStopped)
	assert.Error(t, w.Start(context.Background()))
}
