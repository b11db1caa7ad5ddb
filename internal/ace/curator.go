package ace

import (
	"context"
	"strings"

	"github.com/taskkernel/core/internal/embedding"
	"github.com/taskkernel/core/internal/events"
	"github.com/taskkernel/core/internal/storage"
)

var categoryByInsightKind = map[string]storage.PlaybookCategory{
	"pattern":       storage.CategoryPatterns,
	"gotcha":        storage.CategoryGotchas,
	"best_practice": storage.CategoryBestPractices,
}

func inferCategory(kind string) storage.PlaybookCategory {
	if c, ok := categoryByInsightKind[kind]; ok {
		return c
	}
	return storage.CategoryGeneral
}

// curate runs the Curator phase: for each insight, skip it if a
// near-duplicate playbook entry already exists, otherwise propose and
// apply an "add" delta, recording an audit PlaybookChange row. Returns the
// number of entries created.
func (p *Pipeline) curate(ctx context.Context, ticketID string, memory *storage.TaskMemory,
	insights []insight, agentID *string) (int, error) {

	current, err := p.playbooks.ListActiveByTicket(ctx, ticketID)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, ins := range insights {
		if len(ins.Content) < p.cfg.MinEntryLength {
			continue
		}
		if exactDuplicate(ins.Content, current) {
			continue
		}

		vec, err := p.embedder.Embed(ctx, ins.Content)
		if err != nil {
			continue
		}
		if near, err := p.similarEntry(ctx, vec, current); err != nil {
			return created, err
		} else if near != nil {
			continue
		}

		entry := &storage.PlaybookEntry{
			ID:                  newID(),
			TicketID:            ticketID,
			Content:             ins.Content,
			Category:            inferCategory(ins.Kind),
			Embedding:           vec,
			SupportingMemoryIDs: []string{memory.ID},
			IsActive:            true,
			CreatedBy:           agentID,
		}
		if err := p.playbooks.Create(ctx, entry); err != nil {
			return created, err
		}
		if err := p.playbooks.RecordChange(ctx, &storage.PlaybookChange{
			ID:              newID(),
			PlaybookEntryID: entry.ID,
			Operation:       storage.PlaybookChangeAdd,
			RelatedMemoryID: memory.ID,
			Summary:         "Added insight from task completion: " + ins.Content,
		}); err != nil {
			return created, err
		}
		p.bus.Publish(events.SystemEvent{
			Type:     events.EventPlaybookChanged,
			EntityID: entry.ID,
			Payload: events.PlaybookChangedPayload{
				PlaybookEntryID: entry.ID,
				Operation:       string(storage.PlaybookChangeAdd),
				Summary:         entry.Content,
			},
		})

		current = append(current, entry)
		created++
	}
	return created, nil
}

func exactDuplicate(content string, entries []*storage.PlaybookEntry) bool {
	norm := strings.ToLower(strings.TrimSpace(content))
	for _, e := range entries {
		if strings.ToLower(strings.TrimSpace(e.Content)) == norm {
			return true
		}
	}
	return false
}

func (p *Pipeline) similarEntry(ctx context.Context, vec []float32, entries []*storage.PlaybookEntry) (*storage.PlaybookEntry, error) {
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			continue
		}
		if embedding.CosineSimilarity(vec, e.Embedding) >= p.cfg.CuratorDedupThreshold {
			return e, nil
		}
	}
	return nil, nil
}
