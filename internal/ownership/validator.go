// Package ownership implements the parallel-sibling file ownership
// validator of spec.md §4.6: before a task with owned_files dispatches, it
// is checked against every other active task in the same ticket for glob
// overlap, preventing two sandboxes from editing the same files at once.
package ownership

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/taskkernel/core/internal/config"
	"github.com/taskkernel/core/internal/storage"
)

// Conflict records one overlapping pattern pair between a task and a
// parallel sibling.
type Conflict struct {
	SiblingTaskID  string
	TaskPattern    string
	SiblingPattern string
}

// Result is the outcome of validating one task's ownership against its
// parallel siblings. Per spec.md §4.6, lenient mode moves every conflict
// into Warnings and Valid stays true; strict mode leaves them in Conflicts
// and Valid is false whenever any exist.
type Result struct {
	Valid              bool
	Conflicts          []Conflict
	Warnings           []Conflict
	ConflictingTaskIDs []string
}

// HasConflicts reports whether any hard conflict was found (strict mode).
func (r *Result) HasConflicts() bool { return len(r.Conflicts) > 0 }

// HasWarnings reports whether any soft conflict was found (lenient mode).
func (r *Result) HasWarnings() bool { return len(r.Warnings) > 0 }

// Validator checks a task's owned_files against its parallel siblings.
type Validator struct {
	tasks *storage.TaskRepo
	cfg   *config.OwnershipConfig
}

// New wires a Validator.
func New(tasks *storage.TaskRepo, cfg *config.OwnershipConfig) *Validator {
	return &Validator{tasks: tasks, cfg: cfg}
}

// ValidateTask checks t's owned_files patterns against every parallel
// sibling in the same ticket. A task with no owned_files has no
// restrictions and always validates clean (spec.md §4.6).
//
// Every sibling/pattern pair is evaluated; the scan never stops at the
// first conflict so callers get a complete report.
func (v *Validator) ValidateTask(ctx context.Context, t *storage.Task) (*Result, error) {
	result := &Result{Valid: true}
	if len(t.OwnedFiles) == 0 {
		return result, nil
	}

	siblings, err := v.tasks.ListParallelSiblings(ctx, t.TicketID, t.ID)
	if err != nil {
		return nil, fmt.Errorf("list parallel siblings: %w", err)
	}

	conflictingIDs := make(map[string]bool)
	for _, sibling := range siblings {
		if len(sibling.OwnedFiles) == 0 {
			continue
		}
		for _, taskPattern := range t.OwnedFiles {
			for _, siblingPattern := range sibling.OwnedFiles {
				if !mayOverlap(taskPattern, siblingPattern) {
					continue
				}
				c := Conflict{
					SiblingTaskID:  sibling.ID,
					TaskPattern:    taskPattern,
					SiblingPattern: siblingPattern,
				}
				if v.cfg.StrictMode {
					result.Conflicts = append(result.Conflicts, c)
				} else {
					result.Warnings = append(result.Warnings, c)
				}
				conflictingIDs[sibling.ID] = true
			}
		}
	}

	for id := range conflictingIDs {
		result.ConflictingTaskIDs = append(result.ConflictingTaskIDs, id)
	}
	if v.cfg.StrictMode && len(result.Conflicts) > 0 {
		result.Valid = false
	}
	return result, nil
}

// ValidPattern reports whether p is syntactically valid glob syntax, for
// rejecting malformed owned_files entries at task-creation time.
func ValidPattern(p string) bool {
	return doublestar.ValidatePattern(p)
}

// mayOverlap conservatively checks whether two glob patterns could match
// the same file. It errs toward reporting an overlap: doublestar matches a
// pattern against a concrete path, not pattern against pattern, so this
// walks both patterns segment by segment instead (spec.md §4.6).
func mayOverlap(p1, p2 string) bool {
	if p1 == p2 {
		return true
	}

	n1 := strings.TrimRight(p1, "/")
	n2 := strings.TrimRight(p2, "/")

	if strings.HasPrefix(n1, stripGlobStar(n2)) || strings.HasPrefix(n2, stripGlobStar(n1)) {
		return true
	}

	parts1 := strings.Split(n1, "/")
	parts2 := strings.Split(n2, "/")

	haveCommonPrefix := false
segments:
	for i := 0; i < len(parts1) && i < len(parts2); i++ {
		a, b := parts1[i], parts2[i]
		switch {
		case a == b && !strings.Contains(a, "*"):
			haveCommonPrefix = true
		case a == "**" || b == "**":
			return true
		case strings.Contains(a, "*") || strings.Contains(b, "*"):
			return true
		default:
			haveCommonPrefix = false
			break segments
		}
	}

	return haveCommonPrefix
}

// stripGlobStar removes a trailing "**" segment and any trailing slash so
// e.g. "src/**" becomes "src", letting a prefix check catch "src/**" vs
// "src/services/**".
func stripGlobStar(p string) string {
	p = strings.TrimRight(p, "/")
	p = strings.TrimSuffix(p, "**")
	return strings.TrimRight(p, "/")
}
