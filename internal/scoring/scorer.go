// Package scoring implements the Dynamic Scorer: the weighted-sum priority
// formula that orders the ready set for dispatch (spec.md §4.1).
package scoring

import (
	"time"

	"github.com/taskkernel/core/internal/config"
	"github.com/taskkernel/core/internal/storage"
)

// Scorer computes a task's dispatch score from its own fields plus the
// count of sibling tasks that depend on it.
type Scorer struct {
	cfg *config.ScoringConfig
}

// New constructs a Scorer bound to cfg.
func New(cfg *config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Input is the subset of a Task's fields the formula reads, plus the
// blocker count computed separately (storage.TaskRepo.DependentCounts).
type Input struct {
	Priority     storage.Priority
	CreatedAt    time.Time
	DeadlineAt   *time.Time
	RetryCount   int
	MaxRetries   int
	DependentsOn int // count of sibling tasks whose depends_on lists this task
	Now          time.Time
}

// Score computes the [0,1]-bounded dispatch score for in, per the formula of
// spec.md §4.1.
func (s *Scorer) Score(in Input) float64 {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	ageSeconds := now.Sub(in.CreatedAt).Seconds()
	if ageSeconds < 0 {
		ageSeconds = 0
	}

	priorityNorm := in.Priority.Norm()
	ageNorm := min(ageSeconds/float64(s.cfg.AgeCeilingSeconds), 1.0)

	var deadlineNorm float64
	var secondsUntilDeadline float64
	hasDeadline := in.DeadlineAt != nil
	if hasDeadline {
		secondsUntilDeadline = in.DeadlineAt.Sub(now).Seconds()
		switch {
		case secondsUntilDeadline <= 0:
			deadlineNorm = 1.0
		default:
			deadlineNorm = 1 - secondsUntilDeadline/float64(s.cfg.DeadlineHorizonSeconds)
			deadlineNorm = clamp01(deadlineNorm)
		}
	}

	blockerNorm := min(float64(in.DependentsOn)/float64(s.cfg.BlockerCeiling), 1.0)

	retryPenalty := 0.0
	if in.MaxRetries > 0 {
		retryPenalty = max(0, 1-float64(in.RetryCount)/float64(in.MaxRetries))
	}

	base := 0.45*priorityNorm + 0.20*ageNorm + 0.15*deadlineNorm +
		0.15*blockerNorm + 0.05*retryPenalty

	if hasDeadline && secondsUntilDeadline < float64(s.cfg.SLAUrgencyWindowSeconds) {
		base *= s.cfg.SLABoostMultiplier
	}

	if ageSeconds > float64(s.cfg.StarvationLimitSeconds) && base < s.cfg.StarvationFloorScore {
		base = s.cfg.StarvationFloorScore
	}

	return min(base, 1.0)
}

// ScoreTask is a convenience wrapper over Score for a storage.Task plus its
// precomputed blocker count.
func (s *Scorer) ScoreTask(t *storage.Task, dependentsOn int) float64 {
	return s.Score(Input{
		Priority:     t.Priority,
		CreatedAt:    t.CreatedAt,
		DeadlineAt:   t.DeadlineAt,
		RetryCount:   t.RetryCount,
		MaxRetries:   t.MaxRetries,
		DependentsOn: dependentsOn,
		Now:          time.Now(),
	})
}

func clamp01(f float64) float64 {
	return min(max(f, 0), 1)
}
