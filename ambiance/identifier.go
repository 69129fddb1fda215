package ambiance

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// StrategyMetadata describes one expansion of a looped or matrix node.
type StrategyMetadata struct {
	CurrentIteration int
	TotalIterations  int
	Matrix           *MatrixMetadata
}

// MatrixMetadata carries the coordinate of one matrix combination.
type MatrixMetadata struct {
	// Values maps axis name to the value chosen for this combination.
	Values map[string]string
	// KeysToSkipInName excludes axes from the generated identifier.
	KeysToSkipInName []string
	// NodeName, when set by the author, overrides the generated identifier.
	NodeName string
	// Combination is the positional index on each axis.
	Combination []int
}

const (
	// MatrixPostfixKeyForDuplicates is the reserved axis key whose value is
	// always appended last, regardless of naming mode, to keep duplicate
	// combinations distinguishable.
	MatrixPostfixKeyForDuplicates = "matrixIdentifierPostfixForDuplicates"

	// UseMatrixFieldNameSetting is the run setting that switches matrix
	// identifiers from positional indexes to axis values.
	UseMatrixFieldNameSetting = "enable_matrix_labels_by_value"

	maxIdentifierPostfixLength = 126
)

var specialCharacters = regexp.MustCompile(`[^a-zA-Z0-9]`)

// UseMatrixFieldName reports whether matrix identifiers use axis values.
func (a Ambiance) UseMatrixFieldName() bool {
	return a.SettingEnabled(UseMatrixFieldNameSetting)
}

// ModifyIdentifier suffixes identifier with the current level's strategy
// postfix, if any. Identifiers of non-strategy nodes pass through unchanged.
func (a Ambiance) ModifyIdentifier(identifier string) string {
	level, ok := a.CurrentLevel()
	if !ok || level.Strategy == nil {
		return identifier
	}
	return identifier + StrategyPostfix(level.Strategy, a.UseMatrixFieldName())
}

// StrategyPostfix derives the deterministic identifier suffix for one
// strategy expansion. Re-applying the same metadata always yields the same
// suffix.
func StrategyPostfix(md *StrategyMetadata, useMatrixFieldName bool) string {
	if md == nil {
		return ""
	}
	if md.Matrix == nil || len(md.Matrix.Values) == 0 {
		if md.TotalIterations <= 0 {
			return ""
		}
		return "_" + strconv.Itoa(md.CurrentIteration)
	}

	identifier := md.Matrix.NodeName
	if identifier == "" {
		if useMatrixFieldName {
			identifier = matrixValueIdentifier(md.Matrix)
		} else {
			identifier = matrixCombinationIdentifier(md.Matrix)
		}
	}

	// The de-duplication postfix is always appended last so duplicate
	// combinations stay unique in either naming mode.
	if dedupe, ok := md.Matrix.Values[MatrixPostfixKeyForDuplicates]; ok {
		identifier = identifier + "_" + dedupe
	}

	if len(identifier) > maxIdentifierPostfixLength {
		identifier = identifier[:maxIdentifierPostfixLength]
	}
	return specialCharacters.ReplaceAllString("_"+identifier, "_")
}

func matrixValueIdentifier(matrix *MatrixMetadata) string {
	skip := make(map[string]struct{}, len(matrix.KeysToSkipInName)+1)
	for _, key := range matrix.KeysToSkipInName {
		skip[key] = struct{}{}
	}
	skip[MatrixPostfixKeyForDuplicates] = struct{}{}

	keys := make([]string, 0, len(matrix.Values))
	for key := range matrix.Values {
		if _, excluded := skip[key]; !excluded {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, strings.ReplaceAll(matrix.Values[key], ".", ""))
	}
	return strings.Join(parts, "_")
}

func matrixCombinationIdentifier(matrix *MatrixMetadata) string {
	parts := make([]string, 0, len(matrix.Combination))
	for _, idx := range matrix.Combination {
		parts = append(parts, strconv.Itoa(idx))
	}
	return strings.Join(parts, "_")
}

// CombinedIndexes concatenates the current iteration of every strategy level
// with dots, producing the combined index of a nested expansion.
func (a Ambiance) CombinedIndexes() string {
	parts := make([]string, 0, len(a.Levels))
	for _, level := range a.Levels {
		if level.Strategy != nil {
			parts = append(parts, strconv.Itoa(level.Strategy.CurrentIteration))
		}
	}
	return strings.Join(parts, ".")
}
