package engine

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeNodeNotFound       = "ENGINE_NODE_NOT_FOUND"
	ErrCodeResolutionFailed   = "ENGINE_RESOLUTION_FAILED"
	ErrCodeFacilitationFailed = "ENGINE_FACILITATION_FAILED"
	ErrCodeStepNotRegistered  = "ENGINE_STEP_NOT_REGISTERED"
	ErrCodeStepFailed         = "ENGINE_STEP_FAILED"
	ErrCodeAdviceFailed       = "ENGINE_ADVICE_FAILED"
)

var (
	ErrNodeNotFound = apperrors.New("plan node not found", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeNodeNotFound)
	ErrResolutionFailed = apperrors.New("parameter resolution failed", apperrors.CategoryHandler).
				WithTextCode(ErrCodeResolutionFailed)
	ErrFacilitationFailed = apperrors.New("facilitation failed", apperrors.CategoryHandler).
				WithTextCode(ErrCodeFacilitationFailed)
	ErrStepNotRegistered = apperrors.New("step type not registered", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeStepNotRegistered)
	ErrStepFailed = apperrors.New("step execution failed", apperrors.CategoryHandler).
			WithTextCode(ErrCodeStepFailed)
	ErrAdviceFailed = apperrors.New("adviser consultation failed", apperrors.CategoryHandler).
			WithTextCode(ErrCodeAdviceFailed)
)

func cloneEngineError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrStepFailed
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

func engineErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}
