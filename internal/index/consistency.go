package index

import (
	"context"
	"log/slog"
	"time"
)

// InconsistencyType categorizes a cross-store issue of the local backend.
type InconsistencyType int

const (
	// InconsistencyOrphanLexical is a lexical entry without a stored passage.
	InconsistencyOrphanLexical InconsistencyType = iota
	// InconsistencyOrphanVector is a vector without a stored passage.
	InconsistencyOrphanVector
	// InconsistencyMissingLexical is a passage absent from the lexical index.
	InconsistencyMissingLexical
	// InconsistencyMissingVector is a passage absent from the vector graph.
	InconsistencyMissingVector
)

// String returns the snake_case name used in logs and status output.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanLexical:
		return "orphan_lexical"
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingLexical:
		return "missing_lexical"
	case InconsistencyMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected issue.
type Inconsistency struct {
	Type InconsistencyType
	ID   string
}

// CheckResult is the outcome of Local.Check.
type CheckResult struct {
	// Checked is the number of stored passages.
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// Consistent reports whether no issue was found.
func (r *CheckResult) Consistent() bool {
	return len(r.Inconsistencies) == 0
}

// Check compares the passage store, which is the source of truth, with the
// lexical index and the vector graph.
func (l *Local) Check(ctx context.Context) (*CheckResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	start := time.Now()
	stored, err := l.meta.allIDs(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(stored))
	for _, id := range stored {
		known[id] = true
	}

	lexIDs, err := l.lexical.allIDs()
	if err != nil {
		return nil, err
	}
	var vecIDs []string
	if l.vectors != nil {
		vecIDs = l.vectors.ids()
	}

	var issues []Inconsistency
	issues = append(issues, diffIDs(lexIDs, known, InconsistencyOrphanLexical)...)
	issues = append(issues, diffIDs(vecIDs, known, InconsistencyOrphanVector)...)
	issues = append(issues, diffIDs(stored, toSet(lexIDs), InconsistencyMissingLexical)...)
	issues = append(issues, diffIDs(stored, toSet(vecIDs), InconsistencyMissingVector)...)

	result := &CheckResult{
		Checked:         len(stored),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}
	if len(issues) > 0 {
		slog.Warn("index_inconsistent",
			slog.Int("checked", result.Checked),
			slog.Int("issues", len(issues)))
	}
	return result, nil
}

// diffIDs returns an issue of type t for every id not in set.
func diffIDs(ids []string, set map[string]bool, t InconsistencyType) []Inconsistency {
	var out []Inconsistency
	for _, id := range ids {
		if !set[id] {
			out = append(out, Inconsistency{Type: t, ID: id})
		}
	}
	return out
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
