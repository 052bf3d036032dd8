// Package notify delivers task notifications to in-process subscribers and
// external sinks.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/UniQw/transferq/task"
	"github.com/google/uuid"
)

// Notifier delivers one notification. Implementations must not block for long;
// they are called from the task manager loop.
type Notifier interface {
	Notify(ctx context.Context, n task.Notification) error
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n task.Notification) error {
	var errs []error
	for _, nt := range m {
		if nt == nil {
			continue
		}
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Callback receives notifications of a subscribed task.
type Callback func(task.Notification)

// Hub keeps per-task subscriptions of in-process listeners. Callbacks run on
// one delivery goroutine in the order notifications arrived, so a callback may
// call back into the task manager.
type Hub struct {
	mu   sync.RWMutex
	subs map[uint32]map[uuid.UUID]Callback

	qmu     sync.Mutex
	queue   []delivery
	running bool
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

type delivery struct {
	n   task.Notification
	fns []Callback
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[uint32]map[uuid.UUID]Callback),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Subscribe registers fn for notifications of taskID and returns its id.
func (h *Hub) Subscribe(taskID uint32, fn Callback) uuid.UUID {
	id := uuid.New()
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.subs[taskID]
	if !ok {
		m = make(map[uuid.UUID]Callback)
		h.subs[taskID] = m
	}
	m[id] = fn
	return id
}

// Unsubscribe drops one subscription. It reports false if it was not registered.
func (h *Hub) Unsubscribe(taskID uint32, id uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.subs[taskID]
	if !ok {
		return false
	}
	if _, ok := m[id]; !ok {
		return false
	}
	delete(m, id)
	if len(m) == 0 {
		delete(h.subs, taskID)
	}
	return true
}

// Drop removes every subscription of taskID.
func (h *Hub) Drop(taskID uint32) {
	h.mu.Lock()
	delete(h.subs, taskID)
	h.mu.Unlock()
}

// Subscribers returns the number of subscriptions of taskID.
func (h *Hub) Subscribers(taskID uint32) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[taskID])
}

// Notify queues n for the subscribers of its task and returns at once.
func (h *Hub) Notify(_ context.Context, n task.Notification) error {
	h.mu.RLock()
	fns := make([]Callback, 0, len(h.subs[n.TaskID]))
	for _, fn := range h.subs[n.TaskID] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()
	if len(fns) == 0 {
		return nil
	}
	h.qmu.Lock()
	if h.closed {
		h.qmu.Unlock()
		return nil
	}
	h.queue = append(h.queue, delivery{n: n, fns: fns})
	if !h.running {
		h.running = true
		go h.deliver()
	}
	h.qmu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
	return nil
}

func (h *Hub) deliver() {
	defer close(h.done)
	for {
		h.qmu.Lock()
		batch, closed := h.queue, h.closed
		h.queue = nil
		h.qmu.Unlock()
		for _, d := range batch {
			for _, fn := range d.fns {
				fn(d.n)
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-h.wake
	}
}

// Close delivers what is queued and stops the hub. Later notifications are dropped.
func (h *Hub) Close() {
	h.qmu.Lock()
	if h.closed {
		h.qmu.Unlock()
		return
	}
	h.closed = true
	running := h.running
	h.qmu.Unlock()
	if !running {
		return
	}
	select {
	case h.wake <- struct{}{}:
	default:
	}
	<-h.done
}

// encodeJSON encodes value using stdlib json.Marshal for lower latency in encoding.
func encodeJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
