package advise

import (
	"context"
	"time"

	"github.com/goliatone/go-pipeline"
)

// Built-in obtainment types.
const (
	TypeNextStep      = "NEXT_STEP"
	TypeRetry         = "RETRY"
	TypeMarkSuccess   = "MARK_SUCCESS"
	TypeIgnoreFailure = "IGNORE_FAILURE"
	TypeAbort         = "ABORT"
)

var defaultFailureStatuses = pipeline.NewStatusSet(
	pipeline.StatusFailed,
	pipeline.StatusErrored,
	pipeline.StatusExpired,
)

// NextStepAdviser schedules the configured sibling node once the current one
// reaches an applicable status. Applies on success unless the obtainment
// overrides the status list.
type NextStepAdviser struct{}

func (NextStepAdviser) CanAdvise(event Event) bool {
	if paramString(event.Parameters, "nextNodeId") == "" {
		return false
	}
	return statusApplies(event, pipeline.NewStatusSet(pipeline.StatusSucceeded))
}

func (NextStepAdviser) OnAdviseEvent(_ context.Context, event Event) (*Advise, error) {
	return &Advise{
		Kind:       KindNextStep,
		NextNodeID: paramString(event.Parameters, "nextNodeId"),
	}, nil
}

// RetryAdviser re-queues a failed node until the configured attempt budget is
// exhausted. Wait intervals are taken positionally from "waitIntervals"; past
// the list the Backoff strategy decides, defaulting to no delay.
type RetryAdviser struct {
	Backoff BackoffStrategy
}

func (a RetryAdviser) CanAdvise(event Event) bool {
	if !statusApplies(event, defaultFailureStatuses) {
		return false
	}
	return event.RetryCount < paramInt(event.Parameters, "retryCount", 1)
}

func (a RetryAdviser) OnAdviseEvent(_ context.Context, event Event) (*Advise, error) {
	return &Advise{
		Kind:         KindRetry,
		WaitInterval: a.waitFor(event),
		Message:      event.FailureInfo.Message,
	}, nil
}

func (a RetryAdviser) waitFor(event Event) time.Duration {
	intervals := paramStringSlice(event.Parameters, "waitIntervals")
	if event.RetryCount < len(intervals) {
		if d, err := time.ParseDuration(intervals[event.RetryCount]); err == nil {
			return d
		}
	}
	if a.Backoff != nil {
		return a.Backoff.WaitDuration(event.RetryCount)
	}
	return 0
}

// MarkSuccessAdviser rewrites a failed outcome to SUCCEEDED, optionally
// scheduling a configured next node.
type MarkSuccessAdviser struct{}

func (MarkSuccessAdviser) CanAdvise(event Event) bool {
	return statusApplies(event, defaultFailureStatuses)
}

func (MarkSuccessAdviser) OnAdviseEvent(_ context.Context, event Event) (*Advise, error) {
	return &Advise{
		Kind:       KindMarkSuccess,
		ToStatus:   pipeline.StatusSucceeded,
		NextNodeID: paramString(event.Parameters, "nextNodeId"),
	}, nil
}

// IgnoreFailureAdviser lets the run continue past a failed node. The failure
// info stays on the record; only the roll-up status changes.
type IgnoreFailureAdviser struct{}

func (IgnoreFailureAdviser) CanAdvise(event Event) bool {
	return statusApplies(event, defaultFailureStatuses)
}

func (IgnoreFailureAdviser) OnAdviseEvent(_ context.Context, event Event) (*Advise, error) {
	return &Advise{
		Kind:     KindIgnoreFailure,
		ToStatus: pipeline.StatusSucceeded,
		Message:  event.FailureInfo.Message,
	}, nil
}

// AbortAdviser ends the whole plan when the node reaches an applicable
// failure status.
type AbortAdviser struct{}

func (AbortAdviser) CanAdvise(event Event) bool {
	return statusApplies(event, defaultFailureStatuses)
}

func (AbortAdviser) OnAdviseEvent(_ context.Context, event Event) (*Advise, error) {
	return &Advise{
		Kind:    KindEndPlan,
		Abort:   true,
		Message: event.FailureInfo.Message,
	}, nil
}

// statusApplies checks the obtainment's "applicableStatuses" override, falling
// back to the adviser's default set.
func statusApplies(event Event, defaults pipeline.StatusSet) bool {
	if overrides := paramStringSlice(event.Parameters, "applicableStatuses"); len(overrides) > 0 {
		for _, s := range overrides {
			if pipeline.Status(s) == event.ToStatus {
				return true
			}
		}
		return false
	}
	return defaults.Contains(event.ToStatus)
}

func paramString(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func paramInt(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func paramStringSlice(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
