// Package dedup implements the two-phase deduplication pipeline of spec.md
// §4.4: an exact content-hash match, then a semantic cosine-similarity
// match scoped by entity type. The semantic phase always scans the
// candidates in process; there is no vector-index query.
package dedup

import (
	"context"
	"strings"

	"github.com/taskkernel/core/internal/config"
	"github.com/taskkernel/core/internal/embedding"
	"github.com/taskkernel/core/internal/metrics"
	"github.com/taskkernel/core/internal/storage"
)

// Action is the dedup verdict for a candidate row.
type Action string

const (
	ActionCreate Action = "create"
	ActionSkip   Action = "skip"
)

// Result is the outcome of checking one candidate against its scope.
type Result struct {
	Action            Action
	IsDuplicate       bool
	HighestSimilarity float64
	Match             *storage.Task
}

// Embedder produces the candidate's embedding for phase 2.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Checker runs the Task-scoped dedup pipeline. A Result carries the verdict,
// the highest similarity and the matched task only; it holds no content
// hash or embedding for the caller to store.
type Checker struct {
	tasks    *storage.TaskRepo
	embedder Embedder
	cfg      *config.DedupConfig
	metrics  *metrics.Registry
}

// New wires a Checker.
func New(tasks *storage.TaskRepo, embedder Embedder, cfg *config.DedupConfig) *Checker {
	return &Checker{tasks: tasks, embedder: embedder, cfg: cfg}
}

// SetMetrics wires a metrics.Registry for dedup hit-rate reporting. Safe
// to leave unset.
func (c *Checker) SetMetrics(r *metrics.Registry) {
	c.metrics = r
}

func (c *Checker) recordCheck(entityType string, result *Result) {
	if c.metrics == nil {
		return
	}
	c.metrics.DedupChecks.WithLabelValues(entityType).Inc()
	if result.IsDuplicate {
		kind := "semantic"
		if result.HighestSimilarity == 1.0 {
			kind = "exact"
		}
		c.metrics.DedupHits.WithLabelValues(entityType, kind).Inc()
	}
}

// thresholdFor returns the cosine-similarity bar for a task_type, per
// spec.md §4.4's per-entity thresholds. Diagnostic recovery tasks use the
// diagnostic threshold; everything else uses the task threshold.
func (c *Checker) thresholdFor(taskType string) float64 {
	if strings.HasPrefix(taskType, "discovery_diagnostic") {
		return c.cfg.DiagnosticThreshold
	}
	return c.cfg.TaskThreshold
}

// CheckTask runs the full two-phase pipeline for a candidate task
// description scoped to (ticketID, taskType).
func (c *Checker) CheckTask(ctx context.Context, ticketID, taskType, text string) (*Result, error) {
	hash := embedding.ContentHash(text)

	if existing, err := c.tasks.FindByContentHash(ctx, hash); err != nil {
		return nil, err
	} else if existing != nil && existing.TicketID == ticketID && existing.TaskType == taskType {
		result := &Result{Action: ActionSkip, IsDuplicate: true, HighestSimilarity: 1.0, Match: existing}
		c.recordCheck(taskType, result)
		return result, nil
	}

	threshold := c.thresholdFor(taskType)
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	match, similarity, err := c.bestSemanticMatch(ctx, ticketID, taskType, vec)
	if err != nil {
		return nil, err
	}
	var result *Result
	if match != nil && similarity >= threshold {
		result = &Result{Action: ActionSkip, IsDuplicate: true, HighestSimilarity: similarity, Match: match}
	} else {
		result = &Result{Action: ActionCreate, HighestSimilarity: similarity}
	}
	c.recordCheck(taskType, result)
	return result, nil
}

// SimilarPending scopes the semantic search to a caller-supplied threshold
// and task_type, satisfying diagnostic.DedupChecker without requiring
// diagnostic to import this package's Result/Action types.
func (c *Checker) SimilarPending(ctx context.Context, ticketID, taskType, text string, threshold float64) (*storage.Task, error) {
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	match, similarity, err := c.bestSemanticMatch(ctx, ticketID, taskType, vec)
	if err != nil {
		return nil, err
	}
	if match != nil && similarity >= threshold {
		return match, nil
	}
	return nil, nil
}

// bestSemanticMatch scans every non-terminal, embedded task in the ticket
// with a matching task_type and returns the highest cosine match. This is
// always the in-process fallback path (spec.md §4.4): the kernel has no
// separate ANN index, so "vector store query" and "fallback" are the same
// code path here.
func (c *Checker) bestSemanticMatch(ctx context.Context, ticketID, taskType string, vec []float32) (*storage.Task, float64, error) {
	candidates, err := c.tasks.CandidatesForSemanticDedup(ctx, ticketID)
	if err != nil {
		return nil, 0, err
	}

	var best *storage.Task
	var bestSim float64
	for _, cand := range candidates {
		if cand.TaskType != taskType {
			continue
		}
		sim := embedding.CosineSimilarity(vec, cand.EmbeddingVector)
		if best == nil || sim > bestSim {
			best, bestSim = cand, sim
		}
	}
	return best, bestSim, nil
}

// BulkResult partitions a bulk-dedup run, preserving input order within
// each partition (spec.md §4.4 bulk dedup).
type BulkResult struct {
	ToCreate []BulkItem
	ToSkip   []BulkItem
}

// BulkItem pairs an input candidate's index with its dedup Result.
type BulkItem struct {
	Index  int
	Result *Result
}

// BulkCheckTasks runs CheckTask over every candidate in order, partitioning
// into to_create/to_skip. Isolated per-item: one candidate's error doesn't
// abort the rest (spec.md §7 isolation), it's dropped from both partitions
// and the caller's candidates slice retains the gap via Index.
func (c *Checker) BulkCheckTasks(ctx context.Context, ticketID string, candidates []BulkCandidate) BulkResult {
	var out BulkResult
	for i, cand := range candidates {
		res, err := c.CheckTask(ctx, ticketID, cand.TaskType, cand.Text)
		if err != nil {
			continue
		}
		item := BulkItem{Index: i, Result: res}
		if res.Action == ActionSkip {
			out.ToSkip = append(out.ToSkip, item)
		} else {
			out.ToCreate = append(out.ToCreate, item)
		}
	}
	return out
}

// BulkCandidate is one element of a bulk dedup request.
type BulkCandidate struct {
	TaskType string
	Text     string
}
