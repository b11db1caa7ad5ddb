// Package ace implements the Executor/Reflector/Curator memory pipeline of
// spec.md §4.5: turning one task completion into a TaskMemory, a set of
// structured insights, and (when novel) new PlaybookEntry bullets.
package ace

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/taskkernel/core/internal/config"
	"github.com/taskkernel/core/internal/events"
	"github.com/taskkernel/core/internal/storage"
)

// Embedder produces the fixed-dimension vector for a string of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Pipeline runs Executor, Reflector, then Curator for a completed task and
// satisfies validation.ACEInvoker structurally.
type Pipeline struct {
	tasks     *storage.TaskRepo
	memories  *storage.MemoryRepo
	playbooks *storage.PlaybookRepo
	embedder  Embedder
	bus       *events.Bus
	cfg       *config.ACEConfig
}

// New wires a Pipeline.
func New(tasks *storage.TaskRepo, memories *storage.MemoryRepo, playbooks *storage.PlaybookRepo,
	embedder Embedder, bus *events.Bus, cfg *config.ACEConfig) *Pipeline {
	return &Pipeline{tasks: tasks, memories: memories, playbooks: playbooks, embedder: embedder, bus: bus, cfg: cfg}
}

// toolUsageEntry is one recorded tool call, matching the file-ownership
// argument aliases an agent's executor log may use.
type toolUsageEntry struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// executionPayload is the shape a task's opaque Result blob is expected to
// carry when present; a Result that doesn't parse this way is still usable
// as a plain-text summary with no recorded tool usage.
type executionPayload struct {
	Summary   string           `json:"summary"`
	ToolUsage []toolUsageEntry `json:"tool_usage"`
}

func parseResult(raw []byte) executionPayload {
	var p executionPayload
	if len(raw) == 0 {
		return p
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		p.Summary = string(raw)
	}
	return p
}

// Run executes the full pipeline for taskID. Per spec.md §4.5 failure
// semantics, a Reflector or Curator error doesn't undo the memory the
// Executor already persisted; only an Executor-phase error aborts the run.
func (p *Pipeline) Run(ctx context.Context, taskID string) error {
	task, err := p.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}

	payload := parseResult(task.Result)
	goal := task.Description
	result := payload.Summary
	var feedback string
	if task.LastValidationFeedback != nil {
		feedback = *task.LastValidationFeedback
	}
	success := task.Status == storage.TaskCompleted

	memory, execErr := p.execute(ctx, task, goal, result, feedback, payload.ToolUsage, success)
	if execErr != nil {
		return execErr
	}

	insightCount, errorCount := 0, 0
	var reflection *reflectorResult
	reflection, err = p.reflect(ctx, task.TicketID, memory, goal, result, feedback)
	if err == nil {
		insightCount = len(reflection.Insights)
		errorCount = len(reflection.Errors)
	}

	playbookUpdates := 0
	if reflection != nil {
		if n, curateErr := p.curate(ctx, task.TicketID, memory, reflection.Insights, task.AssignedAgentID); curateErr == nil {
			playbookUpdates = n
		}
	}

	p.bus.Publish(events.SystemEvent{
		Type:     events.EventACEWorkflowCompleted,
		EntityID: taskID,
		Payload: events.ACEWorkflowCompletedPayload{
			TaskID: taskID, MemoryID: memory.ID,
			InsightCount: insightCount, ErrorCount: errorCount, PlaybookUpdates: playbookUpdates,
		},
	})
	return nil
}

func newID() string { return uuid.NewString() }

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
