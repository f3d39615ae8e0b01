package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Hub is the central event bus.
// It provides pub/sub semantics with typed events and non-blocking fan-out.
type Hub struct {
	mu   sync.Mutex
	subs map[EventType][]chan Event

	// Global subscribers receive all events
	global []chan Event

	// One-shot callbacks, removed after their first matching event
	once map[EventType][]func(Event)

	// Metrics
	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a new event hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[EventType][]chan Event),
		once: make(map[EventType][]func(Event)),
	}
}

// Publish sends an event to all subscribers of that event type and returns
// how many receivers took it: subscriber channels with room plus one-shot
// callbacks. This is non-blocking - if a subscriber's channel is full, the
// event is dropped for that subscriber. One-shot callbacks run synchronously
// on the publishing goroutine.
func (h *Hub) Publish(e Event) int {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	h.published.Add(1)
	delivered := 0

	h.mu.Lock()
	callbacks := h.once[e.Type]
	delete(h.once, e.Type)

	// Send to type-specific subscribers
	for _, ch := range h.subs[e.Type] {
		select {
		case ch <- e:
			delivered++
		default:
			h.dropped.Add(1)
		}
	}

	// Send to global subscribers
	for _, ch := range h.global {
		select {
		case ch <- e:
			delivered++
		default:
			h.dropped.Add(1)
		}
	}
	h.mu.Unlock()

	for _, fn := range callbacks {
		fn(e)
	}
	return delivered + len(callbacks)
}

// Subscribe returns a channel that receives events of the specified types.
// If no types are specified, subscribes to all events.
// The caller is responsible for draining the channel to avoid drops.
func (h *Hub) Subscribe(bufSize int, types ...EventType) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}

	ch := make(chan Event, bufSize)

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(types) == 0 {
		// Global subscription
		h.global = append(h.global, ch)
	} else {
		for _, t := range types {
			h.subs[t] = append(h.subs[t], ch)
		}
	}

	return ch
}

// Once registers fn to run for the next event of type t only.
func (h *Hub) Once(t EventType, fn func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.once[t] = append(h.once[t], fn)
}

// Unsubscribe removes a channel from all subscriptions.
// The channel is NOT closed by this method.
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Remove from global
	h.global = removeFromSlice(h.global, ch)

	// Remove from type-specific
	for t, subs := range h.subs {
		h.subs[t] = removeFromSlice(subs, ch)
	}
}

// Stats returns publish/drop counts for monitoring.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}

// removeFromSlice removes a channel from a slice of channels.
func removeFromSlice(slice []chan Event, target <-chan Event) []chan Event {
	result := make([]chan Event, 0, len(slice))
	for _, ch := range slice {
		if ch != target {
			result = append(result, ch)
		}
	}
	return result
}

// ──────────────────────────────────────────────────────────────────────────────
// Readiness
// ──────────────────────────────────────────────────────────────────────────────

// ReadySignal latches the first EventPoliciesInitialized. Callbacks
// registered after the event run immediately.
type ReadySignal struct {
	mu      sync.Mutex
	fired   bool
	waiting []func()
}

// NewReadySignal starts watching hub for EventPoliciesInitialized.
func NewReadySignal(hub *Hub) *ReadySignal {
	r := &ReadySignal{}
	hub.Once(EventPoliciesInitialized, func(Event) { r.fire() })
	return r
}

func (r *ReadySignal) fire() {
	r.mu.Lock()
	r.fired = true
	waiting := r.waiting
	r.waiting = nil
	r.mu.Unlock()

	for _, fn := range waiting {
		fn()
	}
}

// Fired reports whether the policies have been initialized.
func (r *ReadySignal) Fired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fired
}

// OnSystemReady runs fn once the policies are initialized.
func (r *ReadySignal) OnSystemReady(fn func()) {
	r.mu.Lock()
	if !r.fired {
		r.waiting = append(r.waiting, fn)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	fn()
}

// ──────────────────────────────────────────────────────────────────────────────
// Convenience Methods
// ──────────────────────────────────────────────────────────────────────────────

// EmitPoliciesInitialized publishes the policy manager's ready event.
func (h *Hub) EmitPoliciesInitialized() {
	h.Publish(Event{
		Type:   EventPoliciesInitialized,
		Source: "policy",
	})
}

// EmitReenforce publishes a re-enforcement command and returns the number of
// receivers.
func (h *Hub) EmitReenforce(data ReenforceData) int {
	return h.Publish(Event{
		Type:   EventPolicyReenforce,
		Source: "rulecheck",
		Data:   data,
	})
}

// EmitRuleCheckPass publishes a pass summary.
func (h *Hub) EmitRuleCheckPass(data RuleCheckPassData) {
	h.Publish(Event{
		Type:   EventRuleCheckPass,
		Source: "rulecheck",
		Data:   data,
	})
}
