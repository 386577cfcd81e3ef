// Package broadcast implements the change broadcast layer: a fan-out hub
// that notifies subscribers (the SSE handler at
// /tasks/stream) whenever the task store changes, either through this
// process's own writes or through an external process editing the JSONL
// file directly. Every new subscriber gets one init event carrying the
// current active-task snapshot; subsequent changes recompute that same
// snapshot and diff its size against the last broadcast, emitting an
// update (and, on growth, a notification) rather than a raw diff; this
// absorbs duplicate signals from the in-process store hook and the
// debounced filesystem watcher without leaking extra events. Subscriber
// queues are bounded; a slow reader is dropped and its resources released
// rather than allowed to block the hub.
package broadcast

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/antigravity-dev/taskgen/internal/taskcard"
)

// EventType enumerates the kinds of message a subscriber can receive,
// matching the SSE event names on the wire.
type EventType string

const (
	EventInit         EventType = "init"
	EventUpdate       EventType = "update"
	EventNotification EventType = "notification"
	EventHeartbeat    EventType = "heartbeat"
)

// Message is one notification delivered to subscribers.
type Message struct {
	Type    EventType           `json:"type"`
	At      time.Time           `json:"at"`
	Tasks   []taskcard.TaskCard `json:"tasks,omitempty"`
	Count   int                 `json:"count"`
	Delta   int                 `json:"delta,omitempty"`
	Message string              `json:"message,omitempty"`
}

// Subscriber is a single client's bounded inbox.
type Subscriber struct {
	id string
	ch chan Message
}

// C returns the channel to receive messages on.
func (s *Subscriber) C() <-chan Message { return s.ch }

const subscriberBuffer = 32

// activeTaskLimit caps the broadcast snapshot at the 50 highest-priority
// active tasks, independent of any HTTP caller's own limit param.
const activeTaskLimit = 50

// Lister returns the current active (status=generated) task list, highest
// priority first; the hub truncates it to activeTaskLimit itself.
type Lister func() ([]taskcard.TaskCard, error)

// Hub fans messages out to every active subscriber.
type Hub struct {
	lister Lister

	mu          sync.Mutex
	subscribers map[string]*Subscriber
	nextID      int
	dropped     int64
	lastCount   int
}

// NewHub builds an empty Hub. lister may be nil in tests that only
// exercise raw Publish/heartbeat plumbing; Recompute and Subscribe then
// treat the active-task snapshot as always empty.
func NewHub(lister Lister) *Hub {
	return &Hub{subscribers: make(map[string]*Subscriber), lister: lister}
}

// Subscribe registers a new subscriber with a bounded queue and
// immediately enqueues its init event; every subscriber receives init
// exactly once, before any update. The init snapshot's size becomes the
// last broadcast count that Recompute compares against. Callers must call
// Unsubscribe when the client disconnects.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscriber{
		id: strconv.Itoa(h.nextID),
		ch: make(chan Message, subscriberBuffer),
	}
	h.subscribers[sub.id] = sub

	tasks := h.snapshot()
	h.lastCount = len(tasks)
	sub.ch <- Message{Type: EventInit, At: time.Now().UTC(), Tasks: tasks, Count: len(tasks)}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub.id)
}

func (h *Hub) removeLocked(id string) {
	sub, ok := h.subscribers[id]
	if !ok {
		return
	}
	delete(h.subscribers, id)
	close(sub.ch)
}

func (h *Hub) snapshot() []taskcard.TaskCard {
	if h.lister == nil {
		return nil
	}
	tasks, err := h.lister()
	if err != nil {
		return nil
	}
	if len(tasks) > activeTaskLimit {
		tasks = tasks[:activeTaskLimit]
	}
	return tasks
}

// Recompute re-derives the active-task snapshot and, if its cardinality
// differs from the last broadcast, publishes an update to every
// subscriber; a positive delta additionally publishes a notification with
// a short human-readable count. Called from
// both the in-process store-changed signal and the debounced filesystem
// watcher; either source converges on the same idempotent recompute, so
// duplicate signals from both never double-publish.
func (h *Hub) Recompute() {
	tasks := h.snapshot()
	count := len(tasks)

	h.mu.Lock()
	if count == h.lastCount {
		h.mu.Unlock()
		return
	}
	delta := count - h.lastCount
	h.lastCount = count
	h.mu.Unlock()

	now := time.Now().UTC()
	h.publish(Message{Type: EventUpdate, At: now, Tasks: tasks, Count: count, Delta: delta})

	if delta > 0 {
		noun := "tasks"
		if delta == 1 {
			noun = "task"
		}
		h.publish(Message{
			Type:    EventNotification,
			At:      now,
			Count:   count,
			Delta:   delta,
			Message: fmt.Sprintf("%d new %s generated", delta, noun),
		})
	}
}

// Heartbeat publishes a keepalive to every subscriber, every 30s
// independent of change activity.
func (h *Hub) Heartbeat() {
	h.publish(Message{Type: EventHeartbeat, At: time.Now().UTC()})
}

// publish delivers msg to every subscriber. A subscriber whose queue is
// full is dropped outright and its resources released: broadcast favors
// availability over lossless delivery and never blocks on a slow
// consumer.
func (h *Hub) publish(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var full []string
	for id, sub := range h.subscribers {
		select {
		case sub.ch <- msg:
		default:
			full = append(full, id)
		}
	}
	for _, id := range full {
		h.removeLocked(id)
		h.dropped++
	}
}

// Publish is exposed for tests and for callers that want to inject a raw
// message (e.g. a synthetic heartbeat) without going through Recompute.
func (h *Hub) Publish(msg Message) {
	h.publish(msg)
}

// SubscriberCount reports the number of currently connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Dropped reports the cumulative count of subscribers dropped for
// backpressure.
func (h *Hub) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
