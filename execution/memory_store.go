package execution

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-pipeline"
)

// InMemoryStore is a thread-safe in-memory execution store.
type InMemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*NodeExecution
	order      []string
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{executions: make(map[string]*NodeExecution)}
}

// Save inserts a new execution with version 1.
func (s *InMemoryStore) Save(_ context.Context, ne *NodeExecution) (*NodeExecution, error) {
	if ne == nil || strings.TrimSpace(ne.UUID) == "" {
		return nil, ErrExecutionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[ne.UUID]; exists {
		return nil, ErrDuplicateID
	}
	rec := ne.Clone()
	rec.Version = 1
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	s.executions[rec.UUID] = rec
	s.order = append(s.order, rec.UUID)
	return rec.Clone(), nil
}

// Get returns a cloned execution record.
func (s *InMemoryStore) Get(_ context.Context, id string) (*NodeExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return rec.Clone(), nil
}

// Update applies ops under the lock without a status guard.
func (s *InMemoryStore) Update(_ context.Context, id string, ops Ops) (*NodeExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	next := rec.Clone()
	if ops != nil {
		ops(next)
	}
	next.Version = rec.Version + 1
	next.UpdatedAt = time.Now().UTC()
	s.executions[id] = next
	return next.Clone(), nil
}

// UpdateStatusWithOps transitions with an allowed-from guard. A rejected
// guard returns (nil, nil).
func (s *InMemoryStore) UpdateStatusWithOps(_ context.Context, id string, to pipeline.Status, ops Ops, allowedFrom pipeline.StatusSet) (*NodeExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	if len(allowedFrom) > 0 && !allowedFrom.Contains(rec.Status) {
		return nil, nil
	}
	next := rec.Clone()
	next.Status = to
	if ops != nil {
		ops(next)
	}
	next.Version = rec.Version + 1
	next.UpdatedAt = time.Now().UTC()
	s.executions[id] = next
	return next.Clone(), nil
}

// FetchByPlanExecution returns the run's executions in creation order.
func (s *InMemoryStore) FetchByPlanExecution(_ context.Context, planExecutionID string) ([]*NodeExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*NodeExecution
	for _, id := range s.order {
		rec := s.executions[id]
		if rec != nil && rec.Ambiance.PlanExecutionID == planExecutionID {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// FetchStageExecutions returns live stage executions in creation order.
func (s *InMemoryStore) FetchStageExecutions(_ context.Context, planExecutionID string) ([]*NodeExecution, error) {
	all, err := s.FetchByPlanExecution(nil, planExecutionID)
	if err != nil {
		return nil, err
	}
	var out []*NodeExecution
	for _, rec := range all {
		if rec.IsStage() && !rec.OldRetry {
			out = append(out, rec)
		}
	}
	return out, nil
}

// FetchActiveOlderThan returns non-terminal executions started at or before
// the cutoff, oldest first.
func (s *InMemoryStore) FetchActiveOlderThan(_ context.Context, cutoff time.Time) ([]*NodeExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoffMillis := cutoff.UnixMilli()
	var out []*NodeExecution
	for _, id := range s.order {
		rec := s.executions[id]
		if rec == nil || rec.Status.IsTerminal() {
			continue
		}
		if rec.StartTsMillis != 0 && rec.StartTsMillis <= cutoffMillis {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTsMillis < out[j].StartTsMillis })
	return out, nil
}
