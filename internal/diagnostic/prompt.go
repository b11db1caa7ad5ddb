package diagnostic

import (
	"fmt"
	"strings"

	"github.com/taskkernel/core/internal/storage"
)

const maxTaskSummaries = 15

// buildDiagnosticPrompt renders the diagnostic context (spec.md §4.3):
// workflow goal, task distribution by phase, and the last ≤15 task
// summaries. It does not include submitted-result history, and
// diagnosticSystemPrompt does not add it either.
func buildDiagnosticPrompt(t *storage.Ticket, tasks []*storage.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow goal: %s\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(&b, "Workflow description: %s\n", t.Description)
	}

	byPhase := make(map[string]int)
	for _, task := range tasks {
		byPhase[task.PhaseID]++
	}
	b.WriteString("\nTask distribution by phase:\n")
	for phase, n := range byPhase {
		fmt.Fprintf(&b, "- %s: %d tasks\n", phase, n)
	}

	b.WriteString("\nRecent task summaries:\n")
	for _, task := range recentTasks(tasks, maxTaskSummaries) {
		errText := ""
		if task.ErrorMessage != nil {
			errText = fmt.Sprintf(" error=%q", *task.ErrorMessage)
		}
		fmt.Fprintf(&b, "- [%s] %s: %s (retries=%d/%d)%s\n",
			task.Status, task.TaskType, task.Description, task.RetryCount, task.MaxRetries, errText)
	}

	b.WriteString("\nRespond with a JSON object: root_cause (string), hypotheses " +
		"(array of {description, likelihood}), recommendations (array of {action, priority}).")
	return b.String()
}

// recentTasks returns the last n tasks by UpdatedAt, most recent first.
func recentTasks(tasks []*storage.Task, n int) []*storage.Task {
	sorted := make([]*storage.Task, len(tasks))
	copy(sorted, tasks)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].UpdatedAt.After(sorted[j-1].UpdatedAt); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
