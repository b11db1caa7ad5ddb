package events

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher durably persists events to the kernel_events table and
// broadcasts them via pg_notify in the same transaction, so the NOTIFY only
// fires once the row is committed (pg_notify is transactional).
type Publisher struct {
	db *stdsql.DB
}

// NewPublisher wraps the shared connection pool.
func NewPublisher(db *stdsql.DB) *Publisher {
	return &Publisher{db: db}
}

// Publish persists evt and notifies both the entity-scoped channel and the
// global channel, mirroring the session+global dual-broadcast split.
func (p *Publisher) Publish(ctx context.Context, evt SystemEvent) error {
	payloadJSON, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var eventID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO kernel_events (event_type, entity_id, payload, created_at)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		evt.Type, evt.EntityID, payloadJSON, time.Now()).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("persist event: %w", err)
	}

	notifyPayload, err := buildNotifyPayload(evt, eventID)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, Channel(evt.EntityID), notifyPayload); err != nil {
		return fmt.Errorf("notify entity channel: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, GlobalChannel, notifyPayload); err != nil {
		return fmt.Errorf("notify global channel: %w", err)
	}

	return tx.Commit()
}

// PublishTransient broadcasts evt via NOTIFY only, skipping persistence for
// high-frequency, non-durable signals (e.g. progress ticks).
func (p *Publisher) PublishTransient(ctx context.Context, evt SystemEvent) error {
	if _, err := json.Marshal(evt.Payload); err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	notifyPayload, err := buildNotifyPayload(evt, 0)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, Channel(evt.EntityID), notifyPayload)
	if err != nil {
		return fmt.Errorf("notify entity channel: %w", err)
	}
	return nil
}

// postgresNotifyLimit is the byte size at which pg_notify starts rejecting
// payloads; the publisher truncates before hitting it.
const postgresNotifyLimit = 7900

func buildNotifyPayload(evt SystemEvent, dbEventID int64) (string, error) {
	envelope := map[string]any{
		"type":      evt.Type,
		"entity_id": evt.EntityID,
		"payload":   evt.Payload,
	}
	if dbEventID > 0 {
		envelope["db_event_id"] = dbEventID
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal notify envelope: %w", err)
	}
	if len(raw) <= postgresNotifyLimit {
		return string(raw), nil
	}

	truncated := map[string]any{
		"type":      evt.Type,
		"entity_id": evt.EntityID,
		"truncated": true,
	}
	if dbEventID > 0 {
		truncated["db_event_id"] = dbEventID
	}
	raw, err = json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("marshal truncated notify envelope: %w", err)
	}
	return string(raw), nil
}
