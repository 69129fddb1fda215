package execution

import (
	apperrors "github.com/goliatone/go-errors"
)

// Error codes surfaced by stores.
const (
	ErrCodeExecutionNotFound = "NODE_EXECUTION_NOT_FOUND"
	ErrCodeVersionConflict   = "NODE_EXECUTION_VERSION_CONFLICT"
	ErrCodeDuplicateID       = "NODE_EXECUTION_DUPLICATE_ID"
)

var (
	// ErrExecutionNotFound indicates the execution id is unknown.
	ErrExecutionNotFound = apperrors.New("node execution not found", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeExecutionNotFound)
	// ErrVersionConflict indicates the optimistic-lock compare-and-set failed.
	ErrVersionConflict = apperrors.New("node execution version conflict", apperrors.CategoryConflict).
				WithTextCode(ErrCodeVersionConflict)
	// ErrDuplicateID indicates a Save with an already used execution id.
	ErrDuplicateID = apperrors.New("node execution id already exists", apperrors.CategoryConflict).
			WithTextCode(ErrCodeDuplicateID)
)
