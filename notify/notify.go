// Package notify is the done-signal bus between node executions. A parent
// that spawns children registers a callback under a correlation id; whoever
// finishes the subtree signals that id exactly once.
package notify

import (
	"context"
	"sync"

	"github.com/goliatone/go-pipeline"
)

// Done carries the outcome signalled for a correlation id.
type Done struct {
	CorrelationID   string               `json:"correlationId"`
	NodeExecutionID string               `json:"nodeExecutionId"`
	Status          pipeline.Status      `json:"status"`
	FailureInfo     pipeline.FailureInfo `json:"failureInfo,omitempty"`

	// Responses is the raw response document an external system completed
	// with; the waiting step interprets it.
	Responses map[string]any `json:"responses,omitempty"`
	// AsyncError marks a transport-level failure: the work never produced a
	// business outcome and Responses at best describes the fault.
	AsyncError bool `json:"asyncError,omitempty"`
}

// Callback handles one done signal.
type Callback func(ctx context.Context, done Done)

// Bus delivers done signals at most once per correlation id.
type Bus interface {
	// Subscribe registers the callback for a correlation id. One callback
	// per id; a second subscribe replaces the first.
	Subscribe(correlationID string, cb Callback) Subscription
	// DoneWith signals the id, invoking its callback. Repeat signals for the
	// same id are dropped; the return value reports whether this call won.
	DoneWith(ctx context.Context, done Done) bool
}

// Subscription detaches a registered callback.
type Subscription interface {
	Unsubscribe()
}

// InMemoryBus is a process-local bus.
type InMemoryBus struct {
	mu        sync.Mutex
	callbacks map[string]Callback
	signalled map[string]bool
	// pending holds signals that won before anyone subscribed; the next
	// subscriber for the id receives them immediately.
	pending map[string]Done
}

// NewInMemoryBus constructs an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		callbacks: make(map[string]Callback),
		signalled: make(map[string]bool),
		pending:   make(map[string]Done),
	}
}

// Subscribe registers the callback for a correlation id. A signal that
// already won for the id is delivered right away.
func (b *InMemoryBus) Subscribe(correlationID string, cb Callback) Subscription {
	b.mu.Lock()
	if done, ok := b.pending[correlationID]; ok {
		delete(b.pending, correlationID)
		b.mu.Unlock()
		cb(context.Background(), done)
		return &subs{bus: b, correlationID: correlationID}
	}
	b.callbacks[correlationID] = cb
	b.mu.Unlock()
	return &subs{bus: b, correlationID: correlationID}
}

// DoneWith signals the id at most once, running the callback outside the
// lock.
func (b *InMemoryBus) DoneWith(ctx context.Context, done Done) bool {
	b.mu.Lock()
	if b.signalled[done.CorrelationID] {
		b.mu.Unlock()
		return false
	}
	b.signalled[done.CorrelationID] = true
	cb := b.callbacks[done.CorrelationID]
	delete(b.callbacks, done.CorrelationID)
	if cb == nil {
		b.pending[done.CorrelationID] = done
	}
	b.mu.Unlock()

	if cb != nil {
		cb(ctx, done)
	}
	return true
}

type subs struct {
	bus           *InMemoryBus
	correlationID string
}

func (s *subs) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.callbacks, s.correlationID)
}
