package facilitate

import (
	"fmt"

	"github.com/goliatone/go-pipeline"
)

// Built-in facilitator types, one per step mode.
const (
	TypeSync       = "SYNC"
	TypeAsync      = "ASYNC"
	TypeTask       = "TASK"
	TypeChild      = "CHILD"
	TypeChildChain = "CHILD_CHAIN"
)

var builtinTypes = map[string]bool{
	TypeSync:       true,
	TypeAsync:      true,
	TypeTask:       true,
	TypeChild:      true,
	TypeChildChain: true,
}

// Registry stores facilitators by obtainment type.
type Registry struct {
	facilitators map[string]Facilitator
}

// NewRegistry creates a registry preloaded with the built-in mode
// facilitators.
func NewRegistry() *Registry {
	r := &Registry{facilitators: make(map[string]Facilitator)}
	r.facilitators[TypeSync] = modeFacilitator{mode: pipeline.StepModeSync}
	r.facilitators[TypeAsync] = modeFacilitator{mode: pipeline.StepModeAsync}
	r.facilitators[TypeTask] = modeFacilitator{mode: pipeline.StepModeTask}
	r.facilitators[TypeChild] = modeFacilitator{mode: pipeline.StepModeChild}
	r.facilitators[TypeChildChain] = modeFacilitator{mode: pipeline.StepModeChildChain}
	return r
}

// Register stores a facilitator by obtainment type.
func (r *Registry) Register(obtainmentType string, f Facilitator) error {
	if obtainmentType == "" || f == nil {
		return nil
	}
	if r.facilitators == nil {
		r.facilitators = make(map[string]Facilitator)
	}
	if _, exists := r.facilitators[obtainmentType]; exists {
		return fmt.Errorf("facilitator %s already registered", obtainmentType)
	}
	r.facilitators[obtainmentType] = f
	return nil
}

// Lookup returns a facilitator by obtainment type.
func (r *Registry) Lookup(obtainmentType string) (Facilitator, bool) {
	if r == nil {
		return nil, false
	}
	f, ok := r.facilitators[obtainmentType]
	return f, ok
}
