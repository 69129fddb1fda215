package facilitate

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-pipeline"
)

// Interrupt types understood by the pre-facilitation checks.
const (
	InterruptAbort  = "ABORT_ALL"
	InterruptPause  = "PAUSE_ALL"
	InterruptExpire = "EXPIRE_ALL"
)

// Interrupt is an operator request against a running plan. An empty
// NodeExecutionID scopes the interrupt to the whole plan execution.
type Interrupt struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	PlanExecutionID    string `json:"planExecutionId"`
	NodeExecutionID    string `json:"nodeExecutionId,omitempty"`
	RegisteredAtMillis int64  `json:"registeredAtMillis"`
}

// EndStatus maps the interrupt to the status a gated node should conclude
// with.
func (i Interrupt) EndStatus() pipeline.Status {
	switch i.Type {
	case InterruptPause:
		return pipeline.StatusPaused
	case InterruptExpire:
		return pipeline.StatusExpired
	default:
		return pipeline.StatusAborted
	}
}

// InterruptStore registers and queries active interrupts.
type InterruptStore interface {
	Register(ctx context.Context, interrupt Interrupt) error
	// Active returns plan-scoped interrupts plus any scoped to the given
	// runtime ids, oldest first.
	Active(ctx context.Context, planExecutionID string, scopeRuntimeIDs ...string) ([]Interrupt, error)
	// Discard removes an interrupt once it has been processed.
	Discard(ctx context.Context, interruptID string) error
}

// InMemoryInterruptStore keeps interrupts per plan execution under a lock.
type InMemoryInterruptStore struct {
	mu         sync.RWMutex
	interrupts map[string][]Interrupt
}

// NewInMemoryInterruptStore creates an empty store.
func NewInMemoryInterruptStore() *InMemoryInterruptStore {
	return &InMemoryInterruptStore{interrupts: make(map[string][]Interrupt)}
}

// Register stores the interrupt, stamping the registration time when unset.
func (s *InMemoryInterruptStore) Register(_ context.Context, interrupt Interrupt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if interrupt.RegisteredAtMillis == 0 {
		interrupt.RegisteredAtMillis = time.Now().UnixMilli()
	}
	s.interrupts[interrupt.PlanExecutionID] = append(s.interrupts[interrupt.PlanExecutionID], interrupt)
	return nil
}

// Active returns matching interrupts oldest first.
func (s *InMemoryInterruptStore) Active(_ context.Context, planExecutionID string, scopeRuntimeIDs ...string) ([]Interrupt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope := make(map[string]bool, len(scopeRuntimeIDs))
	for _, id := range scopeRuntimeIDs {
		scope[id] = true
	}

	var out []Interrupt
	for _, i := range s.interrupts[planExecutionID] {
		if i.NodeExecutionID == "" || scope[i.NodeExecutionID] {
			out = append(out, i)
		}
	}
	return out, nil
}

// Discard removes the interrupt by id across all plans.
func (s *InMemoryInterruptStore) Discard(_ context.Context, interruptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for plan, list := range s.interrupts {
		kept := list[:0]
		for _, i := range list {
			if i.ID != interruptID {
				kept = append(kept, i)
			}
		}
		s.interrupts[plan] = kept
	}
	return nil
}
