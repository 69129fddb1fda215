package advise

import "fmt"

// Registry stores advisers by obtainment type.
type Registry struct {
	advisers map[string]Adviser
}

// NewRegistry creates a registry preloaded with the built-in advisers.
func NewRegistry() *Registry {
	r := &Registry{advisers: make(map[string]Adviser)}
	r.advisers[TypeNextStep] = NextStepAdviser{}
	r.advisers[TypeRetry] = RetryAdviser{}
	r.advisers[TypeMarkSuccess] = MarkSuccessAdviser{}
	r.advisers[TypeIgnoreFailure] = IgnoreFailureAdviser{}
	r.advisers[TypeAbort] = AbortAdviser{}
	return r
}

// Register stores an adviser by obtainment type.
func (r *Registry) Register(obtainmentType string, a Adviser) error {
	if obtainmentType == "" || a == nil {
		return nil
	}
	if r.advisers == nil {
		r.advisers = make(map[string]Adviser)
	}
	if _, exists := r.advisers[obtainmentType]; exists {
		return fmt.Errorf("adviser %s already registered", obtainmentType)
	}
	r.advisers[obtainmentType] = a
	return nil
}

// Lookup returns an adviser by obtainment type.
func (r *Registry) Lookup(obtainmentType string) (Adviser, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.advisers[obtainmentType]
	return a, ok
}
