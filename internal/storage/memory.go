package storage

import (
	"context"
	stdsql "database/sql"
	"errors"
	"time"

	"github.com/taskkernel/core/internal/kerrors"
)

// MemoryRepo is the repository for ACE TaskMemory and LearnedPattern records
// (spec.md §4.5).
type MemoryRepo struct {
	db *stdsql.DB
}

const memoryColumns = `
	id, task_id, execution_summary, memory_type, context_embedding, success,
	error_patterns, goal, result, feedback, tool_usage, reused_count, learned_at`

func scanMemory(row rowScanner) (*TaskMemory, error) {
	var m TaskMemory
	var embedding pqFloatArray
	var errPatterns pqStringArray
	err := row.Scan(
		&m.ID, &m.TaskID, &m.ExecutionSummary, &m.MemoryType, &embedding,
		&m.Success, &errPatterns, &m.Goal, &m.Result, &m.Feedback,
		&m.ToolUsage, &m.ReusedCount, &m.LearnedAt,
	)
	if err != nil {
		return nil, err
	}
	m.ContextEmbedding = []float32(embedding)
	m.ErrorPatterns = []string(errPatterns)
	return &m, nil
}

// Create inserts a new task memory, produced by the ACE Executor.
func (r *MemoryRepo) Create(ctx context.Context, m *TaskMemory) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO task_memories (
			id, task_id, execution_summary, memory_type, context_embedding,
			success, error_patterns, goal, result, feedback, tool_usage,
			learned_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		m.ID, m.TaskID, m.ExecutionSummary, m.MemoryType, pqFloatArray(m.ContextEmbedding),
		m.Success, pqStringArray(m.ErrorPatterns), m.Goal, m.Result, m.Feedback,
		m.ToolUsage, time.Now())
	if err != nil {
		return kerrors.Transient("storage.memory.create", err)
	}
	return nil
}

// Get fetches a task memory by ID.
func (r *MemoryRepo) Get(ctx context.Context, id string) (*TaskMemory, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM task_memories WHERE id = $1`, id)
	m, err := scanMemory(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, kerrors.NotFoundf("storage.memory.get", "task memory %s not found", id)
	}
	if err != nil {
		return nil, kerrors.Transient("storage.memory.get", err)
	}
	return m, nil
}

// ListByTask returns every memory recorded for a task, oldest first, so the
// Reflector can walk the iteration history.
func (r *MemoryRepo) ListByTask(ctx context.Context, taskID string) ([]*TaskMemory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM task_memories WHERE task_id = $1 ORDER BY learned_at ASC`, taskID)
	if err != nil {
		return nil, kerrors.Transient("storage.memory.list_by_task", err)
	}
	defer rows.Close()

	var memories []*TaskMemory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, kerrors.Transient("storage.memory.list_by_task", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// IncrementReused bumps the reuse counter when the Curator folds a memory
// into a playbook delta.
func (r *MemoryRepo) IncrementReused(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE task_memories SET reused_count = reused_count + 1 WHERE id = $1`, id)
	if err != nil {
		return kerrors.Transient("storage.memory.increment_reused", err)
	}
	return mustAffectOne(res, "storage.memory.increment_reused", id)
}

// UpsertLearnedPattern inserts a pattern, or for an existing id overwrites
// its confidence with p.ConfidenceScore and increments usage_count. It
// applies no confidence step and no clamp of its own.
func (r *MemoryRepo) UpsertLearnedPattern(ctx context.Context, p *LearnedPattern) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO learned_patterns (
			id, pattern_type, task_type_pattern, success_indicators,
			failure_indicators, embedding, confidence_score, usage_count
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			confidence_score = EXCLUDED.confidence_score,
			usage_count = learned_patterns.usage_count + 1`,
		p.ID, p.PatternType, p.TaskTypePattern, pqStringArray(p.SuccessIndicators),
		pqStringArray(p.FailureIndicators), pqFloatArray(p.Embedding),
		p.ConfidenceScore, p.UsageCount)
	if err != nil {
		return kerrors.Transient("storage.memory.upsert_learned_pattern", err)
	}
	return nil
}

// ListPatternsByType returns patterns of a kind for the Reflector's
// error-pattern matching pass.
func (r *MemoryRepo) ListPatternsByType(ctx context.Context, pt PatternType) ([]*LearnedPattern, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, pattern_type, task_type_pattern, success_indicators,
			failure_indicators, embedding, confidence_score, usage_count
		FROM learned_patterns WHERE pattern_type = $1`, pt)
	if err != nil {
		return nil, kerrors.Transient("storage.memory.list_patterns_by_type", err)
	}
	defer rows.Close()

	var patterns []*LearnedPattern
	for rows.Next() {
		var p LearnedPattern
		var success, failure pqStringArray
		var embedding pqFloatArray
		if err := rows.Scan(&p.ID, &p.PatternType, &p.TaskTypePattern, &success,
			&failure, &embedding, &p.ConfidenceScore, &p.UsageCount); err != nil {
			return nil, kerrors.Transient("storage.memory.list_patterns_by_type", err)
		}
		p.SuccessIndicators = []string(success)
		p.FailureIndicators = []string(failure)
		p.Embedding = []float32(embedding)
		patterns = append(patterns, &p)
	}
	return patterns, rows.Err()
}
