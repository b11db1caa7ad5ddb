package ace

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/taskkernel/core/internal/storage"
)

var fileTools = map[string]bool{
	"file_read": true, "file_edit": true, "file_create": true,
	"read_file": true, "write_file": true, "edit_file": true,
}

// extractFilePaths pulls file paths out of a tool_usage log, recognizing a
// known tool vocabulary and the path|file_path|file argument aliases an
// agent's tool-call log may use (spec.md §4.5).
func extractFilePaths(entries []toolUsageEntry) []string {
	seen := make(map[string]bool)
	for _, e := range entries {
		if !fileTools[strings.ToLower(e.ToolName)] {
			continue
		}
		for _, key := range []string{"path", "file_path", "file"} {
			if v, ok := e.Arguments[key]; ok {
				if s, ok := v.(string); ok && s != "" {
					seen[s] = true
					break
				}
			}
		}
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// classifyMemoryType assigns one of the §3 memory_type values from goal,
// result, and task description. This is the rule-based synchronous path;
// an LLM-backed classification (llmgateway.MemoryClassification) may
// override it but is never required for a memory to be recorded.
func classifyMemoryType(goal, result, description string, success bool) storage.MemoryType {
	text := strings.ToLower(strings.Join([]string{goal, result, description}, " "))

	switch {
	case !success && containsAny(text, "error", "exception", "traceback", "failed", "fix"):
		return storage.MemoryErrorFix
	case containsAny(text, "decide", "decision", "chose", "trade-off", "tradeoff"):
		return storage.MemoryDecision
	case containsAny(text, "warning", "caution", "careful", "watch out"):
		return storage.MemoryWarning
	case containsAny(text, "discover", "found that", "turns out", "investigat"):
		return storage.MemoryDiscovery
	case containsAny(text, "architecture", "codebase", "structure", "module layout"):
		return storage.MemoryCodebaseKnowledge
	default:
		return storage.MemoryLearning
	}
}

func containsAny(text string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// execute runs the Executor phase: classify, embed, and persist a
// TaskMemory, returning it so the Reflector/Curator phases can reference
// its id.
func (p *Pipeline) execute(ctx context.Context, task *storage.Task, goal, result, feedback string,
	toolUsage []toolUsageEntry, success bool) (*storage.TaskMemory, error) {

	memoryType := classifyMemoryType(goal, result, task.Description, success)
	content := joinNonEmpty(goal, "Result: "+result, feedback)

	vec, err := p.embedder.Embed(ctx, content)
	if err != nil {
		return nil, err
	}

	toolUsageJSON, _ := json.Marshal(toolUsage)

	var goalP, resultP, fb *string
	if goal != "" {
		goalP = &goal
	}
	if result != "" {
		resultP = &result
	}
	if feedback != "" {
		fb = &feedback
	}
	memory := &storage.TaskMemory{
		ID:               newID(),
		TaskID:           task.ID,
		ExecutionSummary: content,
		MemoryType:       memoryType,
		ContextEmbedding: vec,
		Success:          success,
		// files touched, for cross-referencing an ownership pattern later
		ErrorPatterns: extractFilePaths(toolUsage),
		Goal:          goalP,
		Result:        resultP,
		Feedback:      fb,
		ToolUsage:     toolUsageJSON,
	}
	if err := p.memories.Create(ctx, memory); err != nil {
		return nil, err
	}
	return memory, nil
}
