package ace

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/taskkernel/core/internal/embedding"
	"github.com/taskkernel/core/internal/storage"
)

// identifiedError is one error match surfaced from feedback text.
type identifiedError struct {
	ErrorType string
	Message   string
	Context   string
}

// insight is a sentence-level takeaway extracted from a completion.
type insight struct {
	Kind       string // pattern, gotcha, best_practice
	Content    string
	Confidence float64
}

type reflectorResult struct {
	Errors                 []identifiedError
	Insights               []insight
	RelatedPlaybookEntries []string
}

var errorTypePatterns = []struct {
	errorType string
	re        *regexp.Regexp
}{
	{"ImportError", regexp.MustCompile(`(?i)ImportError[^\n]*`)},
	{"ValueError", regexp.MustCompile(`(?i)ValueError[^\n]*`)},
	{"KeyError", regexp.MustCompile(`(?i)KeyError[^\n]*`)},
	{"AttributeError", regexp.MustCompile(`(?i)AttributeError[^\n]*`)},
	{"TypeError", regexp.MustCompile(`(?i)TypeError[^\n]*`)},
	{"FileNotFoundError", regexp.MustCompile(`(?i)FileNotFoundError[^\n]*`)},
	{"PermissionError", regexp.MustCompile(`(?i)PermissionError[^\n]*`)},
}

var genericFailureKeywords = []string{"failed", "error", "exception", "traceback"}

// runeContext extracts ±width runes around [start,end) in text, on rune
// boundaries so a multi-byte UTF-8 code point is never split (SPEC_FULL.md
// §12 Reflector context window).
func runeContext(text string, start, end, width int) string {
	runes := []rune(text)
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	lo := start - width
	if lo < 0 {
		lo = 0
	}
	hi := end + width
	if hi > len(runes) {
		hi = len(runes)
	}
	return string(runes[lo:hi])
}

// identifyErrors scans feedback for known error types, then for one
// generic failure indicator if nothing more specific matched (spec.md
// §4.5).
func identifyErrors(feedback string, contextChars int) []identifiedError {
	var errs []identifiedError
	if feedback == "" {
		return errs
	}
	runes := []rune(feedback)

	for _, ep := range errorTypePatterns {
		for _, loc := range ep.re.FindAllStringIndex(feedback, -1) {
			// loc is byte offsets; convert to rune offsets for safe slicing.
			start := len([]rune(feedback[:loc[0]]))
			end := len([]rune(feedback[:loc[1]]))
			errs = append(errs, identifiedError{
				ErrorType: ep.errorType,
				Message:   string(runes[start:end]),
				Context:   runeContext(feedback, start, end, contextChars),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}

	lower := strings.ToLower(feedback)
	for _, kw := range genericFailureKeywords {
		idx := strings.Index(lower, kw)
		if idx < 0 {
			continue
		}
		dup := false
		for _, e := range errs {
			if strings.HasPrefix(strings.ToLower(e.Message), kw) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		start := len([]rune(feedback[:idx]))
		end := start + len([]rune(kw))
		errs = append(errs, identifiedError{
			ErrorType: "Failure",
			Message:   fmt.Sprintf("%s: %s", kw, runeContext(feedback, start, end, contextChars)),
			Context:   runeContext(feedback, start, end, contextChars),
		})
		break // only one generic failure entry, per spec.md §4.5
	}
	return errs
}

var patternKeywords = []string{"always", "never", "make sure", "must", "should"}
var gotchaKeywords = []string{"careful", "watch out", "gotcha", "beware", "caution"}
var bestPracticeKeywords = []string{"prefer", "recommend", "best practice", "should use"}

var sentenceSplit = regexp.MustCompile(`[.!?]\s+`)

// extractInsights splits goal+result+feedback into sentences and tags any
// containing a pattern/gotcha/best_practice keyword, one insight per
// matched keyword (spec.md §4.5).
func extractInsights(goal, result, feedback string, confidence float64) []insight {
	text := strings.ToLower(fmt.Sprintf("%s\n\nResult: %s\n\nFeedback: %s", goal, result, feedback))
	sentences := sentenceSplit.Split(text, -1)

	extract := func(kind string, keywords []string) []insight {
		var out []insight
		for _, kw := range keywords {
			if !strings.Contains(text, kw) {
				continue
			}
			for _, s := range sentences {
				if strings.Contains(s, kw) {
					out = append(out, insight{Kind: kind, Content: strings.TrimSpace(s), Confidence: confidence})
					break
				}
			}
		}
		return out
	}

	var insights []insight
	insights = append(insights, extract("pattern", patternKeywords)...)
	insights = append(insights, extract("gotcha", gotchaKeywords)...)
	insights = append(insights, extract("best_practice", bestPracticeKeywords)...)
	return insights
}

// reflect runs the Reflector phase: identifies errors, tags related
// playbook entries with this memory, and extracts insights for the
// Curator.
func (p *Pipeline) reflect(ctx context.Context, ticketID string, memory *storage.TaskMemory,
	goal, result, feedback string) (*reflectorResult, error) {

	errs := identifyErrors(feedback, p.cfg.ReflectorContextChars)

	entries, err := p.playbooks.ListActiveByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	vec, err := p.embedder.Embed(ctx, joinNonEmpty(goal, "Result: "+result))
	if err != nil {
		return nil, err
	}

	type scored struct {
		entry *storage.PlaybookEntry
		score float64
	}
	var matches []scored
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			continue
		}
		sim := embedding.CosineSimilarity(vec, e.Embedding)
		if sim >= p.cfg.PlaybookSearchThreshold {
			matches = append(matches, scored{e, sim})
		}
	}
	for i := 0; i < len(matches); i++ {
		for j := i + 1; j < len(matches); j++ {
			if matches[j].score > matches[i].score {
				matches[i], matches[j] = matches[j], matches[i]
			}
		}
	}
	if len(matches) > 5 {
		matches = matches[:5]
	}

	var related []string
	for _, m := range matches {
		related = append(related, m.entry.ID)
		if !containsStr(m.entry.SupportingMemoryIDs, memory.ID) {
			if err := p.playbooks.AppendSupportingMemory(ctx, m.entry.ID, memory.ID); err != nil {
				return nil, err
			}
		}
	}

	insights := extractInsights(goal, result, feedback, p.cfg.InsightConfidence)

	return &reflectorResult{Errors: errs, Insights: insights, RelatedPlaybookEntries: related}, nil
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
