package broadcast

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/taskgen/internal/taskcard"
)

func TestSubscribeSendsInitBeforeUpdate(t *testing.T) {
	h := NewHub(func() ([]taskcard.TaskCard, error) { return nil, nil })
	sub := h.Subscribe()
	assert.Equal(t, 1, h.SubscriberCount())

	msg := <-sub.C()
	assert.Equal(t, EventInit, msg.Type)
	assert.Equal(t, 0, msg.Count)

	h.Unsubscribe(sub)
	assert.Equal(t, 0, h.SubscriberCount())

	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestHeartbeatDeliversToAllSubscribers(t *testing.T) {
	h := NewHub(nil)
	s1 := h.Subscribe()
	s2 := h.Subscribe()
	<-s1.C() // init
	<-s2.C() // init

	h.Heartbeat()

	msg1 := <-s1.C()
	msg2 := <-s2.C()
	assert.Equal(t, EventHeartbeat, msg1.Type)
	assert.Equal(t, EventHeartbeat, msg2.Type)
}

func TestRecomputeSendsUpdateAndNotificationOnGrowth(t *testing.T) {
	tasks := []taskcard.TaskCard{}
	h := NewHub(func() ([]taskcard.TaskCard, error) { return tasks, nil })

	sub := h.Subscribe()
	<-sub.C() // init, count 0

	tasks = []taskcard.TaskCard{{ID: "a"}, {ID: "b"}}
	h.Recompute()

	update := <-sub.C()
	assert.Equal(t, EventUpdate, update.Type)
	assert.Equal(t, 2, update.Count)
	assert.Equal(t, 2, update.Delta)

	notif := <-sub.C()
	assert.Equal(t, EventNotification, notif.Type)
	assert.Equal(t, "2 new tasks generated", notif.Message)
}

func TestRecomputeIsNoopWhenCardinalityUnchanged(t *testing.T) {
	tasks := []taskcard.TaskCard{{ID: "a"}}
	h := NewHub(func() ([]taskcard.TaskCard, error) { return tasks, nil })
	sub := h.Subscribe()
	<-sub.C() // init, count 1

	h.Recompute() // same count, no-op

	select {
	case msg := <-sub.C():
		t.Fatalf("expected no message, got %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishDropsSubscriberWithFullQueue(t *testing.T) {
	h := NewHub(nil)
	sub := h.Subscribe()
	<-sub.C() // init

	for i := 0; i < subscriberBuffer+5; i++ {
		h.Heartbeat()
	}

	assert.Equal(t, int64(1), h.Dropped())
	assert.Equal(t, 0, h.SubscriberCount())
}

func TestWatcherRecomputesOnStoreChangedSignal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "generated_tasks.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	tasks := []taskcard.TaskCard{}
	h := NewHub(func() ([]taskcard.TaskCard, error) { return tasks, nil })
	storeChanged := make(chan struct{}, 1)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w := NewWatcher(h, path, 50*time.Millisecond, storeChanged, logger)

	sub := h.Subscribe()
	<-sub.C() // init, count 0
	tasks = []taskcard.TaskCard{{ID: "a"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	storeChanged <- struct{}{}

	select {
	case msg := <-sub.C():
		assert.Equal(t, EventUpdate, msg.Type)
		assert.Equal(t, 1, msg.Count)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an update message")
	}
}
