package sync

import (
	"fmt"

	"tenantly/internal/pkg/errors"
)

// Conflict-resolution strategies.
const (
	SourceWins = "source_wins"
	TargetWins = "target_wins"
	Merge      = "merge"
)

func validStrategy(s string) error {
	switch s {
	case SourceWins, TargetWins, Merge:
		return nil
	default:
		return fmt.Errorf("%w: unknown conflict resolution strategy %q", errors.ErrSyncConflict, s)
	}
}

// Row is one entity's field set keyed by column name.
type Row map[string]interface{}

// Transform rewrites a row during copy, e.g. case normalization. It must not
// touch correlating keys.
type Transform func(Row) Row

func updatedAt(r Row) int64 {
	switch v := r["updated_at"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func emptyValue(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []byte:
		return len(val) == 0
	}
	return false
}

// mergeRows resolves a merge conflict field by field, deterministically:
//
//  1. The row with the newer updated_at supplies each field, unless its value
//     is empty, in which case the other row's value is kept.
//  2. With equal timestamps the target is kept, except fields where the target
//     is empty and the source is not.
//
// Ties favor the target, so swapping the two rows can change the result when
// their timestamps match.
func mergeRows(source, target Row, columns []string) Row {
	sourceNewer := updatedAt(source) > updatedAt(target)
	targetNewer := updatedAt(target) > updatedAt(source)

	merged := make(Row, len(columns))
	for _, col := range columns {
		if col == "id" {
			continue
		}
		sv, tv := source[col], target[col]
		switch {
		case sourceNewer:
			if emptyValue(sv) {
				merged[col] = tv
			} else {
				merged[col] = sv
			}
		case targetNewer:
			if emptyValue(tv) {
				merged[col] = sv
			} else {
				merged[col] = tv
			}
		default:
			if emptyValue(tv) && !emptyValue(sv) {
				merged[col] = sv
			} else {
				merged[col] = tv
			}
		}
	}
	return merged
}

// diffRows compares two rows field by field, ignoring schema-local ids.
func diffRows(source, target Row, columns []string) []string {
	var violations []string
	for _, col := range columns {
		if col == "id" {
			continue
		}
		sv := fmt.Sprintf("%v", normalize(source[col]))
		tv := fmt.Sprintf("%v", normalize(target[col]))
		if sv != tv {
			violations = append(violations, fmt.Sprintf("field %s differs: source=%v target=%v", col, sv, tv))
		}
	}
	return violations
}

func normalize(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
