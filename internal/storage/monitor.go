package storage

import (
	"context"
	stdsql "database/sql"
	"time"

	"github.com/taskkernel/core/internal/kerrors"
)

// MonitorRepo is the repository for detected anomalies and per-task agent
// deliverable receipts.
type MonitorRepo struct {
	db *stdsql.DB
}

// RecordAnomaly persists a detected anomaly.
func (r *MonitorRepo) RecordAnomaly(ctx context.Context, a *MonitorAnomaly) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO monitor_anomalies (id, entity_type, entity_id, anomaly_type, detail, detected_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.EntityType, a.EntityID, a.AnomalyType, a.Detail, time.Now())
	if err != nil {
		return kerrors.Transient("storage.monitor.record_anomaly", err)
	}
	return nil
}

// ListByEntity returns anomalies recorded for an entity, newest first.
func (r *MonitorRepo) ListByEntity(ctx context.Context, entityType, entityID string) ([]*MonitorAnomaly, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, anomaly_type, detail, detected_at
		FROM monitor_anomalies
		WHERE entity_type = $1 AND entity_id = $2 ORDER BY detected_at DESC`, entityType, entityID)
	if err != nil {
		return nil, kerrors.Transient("storage.monitor.list_by_entity", err)
	}
	defer rows.Close()

	var anomalies []*MonitorAnomaly
	for rows.Next() {
		var a MonitorAnomaly
		if err := rows.Scan(&a.ID, &a.EntityType, &a.EntityID, &a.AnomalyType, &a.Detail, &a.DetectedAt); err != nil {
			return nil, kerrors.Transient("storage.monitor.list_by_entity", err)
		}
		anomalies = append(anomalies, &a)
	}
	return anomalies, rows.Err()
}

// RecordAgentResult persists a per-task deliverable receipt.
func (r *MonitorRepo) RecordAgentResult(ctx context.Context, a *AgentResult) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agent_results (id, task_id, agent_id, markdown_content, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		a.ID, a.TaskID, a.AgentID, a.MarkdownContent, time.Now())
	if err != nil {
		return kerrors.Transient("storage.monitor.record_agent_result", err)
	}
	return nil
}
