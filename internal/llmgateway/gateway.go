// Package llmgateway specifies the structured_output contract the kernel
// uses to ask an LLM for a JSON object matching one of the schemas in
// schemas.go (spec.md §6). The actual model transport is an external
// collaborator out of scope for the kernel; Completer is the seam.
package llmgateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskkernel/core/internal/kerrors"
)

// Request is one turn of a structured_output call.
type Request struct {
	SystemPrompt string
	Prompt       string
}

// Response is the raw model turn before JSON extraction.
type Response struct {
	Content string
}

// Completer is the external LLM transport contract (spec.md §6:
// "LLM inference is an external collaborator"). Any client satisfying this
// can back a Gateway.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Gateway wraps a Completer with the structured_output retry protocol: on a
// malformed or schema-mismatched response it re-prompts with the parse
// error appended, up to MaxAttempts times.
type Gateway struct {
	completer   Completer
	maxAttempts int
}

// New wires a Gateway around a Completer. maxAttempts <= 0 defaults to 3.
func New(completer Completer, maxAttempts int) *Gateway {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Gateway{completer: completer, maxAttempts: maxAttempts}
}

// StructuredOutput asks the model to produce JSON matching target's shape
// and unmarshals the extracted object into target. target must be a
// pointer to one of the schema types in schemas.go (or a compatible shape).
func (g *Gateway) StructuredOutput(ctx context.Context, systemPrompt, prompt string, target any) error {
	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		req := Request{SystemPrompt: systemPrompt, Prompt: prompt}
		if lastErr != nil {
			req.Prompt = fmt.Sprintf("%s\n\nYour previous response could not be parsed as the requested JSON object: %v\nRespond again with ONLY the corrected JSON object.", prompt, lastErr)
		}

		resp, err := g.completer.Complete(ctx, req)
		if err != nil {
			return kerrors.ExternalTimeout("llmgateway.structured_output", err)
		}

		raw := extractJSON(resp.Content)
		if raw == "" {
			lastErr = fmt.Errorf("no JSON object found in response")
			continue
		}
		if err := json.Unmarshal([]byte(raw), target); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return kerrors.Validationf("llmgateway.structured_output", "model did not produce a parseable JSON object after %d attempts: %v", g.maxAttempts, lastErr)
}
