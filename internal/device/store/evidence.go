package store

import (
	"fmt"
	"time"

	"despacho/internal/domain"
)

// StagedEvidence is a captured-but-unsubmitted evidence file kept on the
// device. URI points at the local file; the remote URL only exists once the
// upload happens at flush time.
type StagedEvidence struct {
	ID           string
	AllocationID string
	Stage        domain.EvidenceStage
	URI          string
	CapturedAt   time.Time
}

// StageEvidence records a captured evidence file for later submission.
func (db *DB) StageEvidence(ev *StagedEvidence) error {
	_, err := db.Exec(`
		INSERT INTO staged_evidence (id, allocation_id, stage, uri, captured_at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.AllocationID, string(ev.Stage), ev.URI,
		ev.CapturedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("stage evidence: %w", err)
	}
	return nil
}

// StagedEvidenceFor returns the staged items for one allocation stage in
// capture order.
func (db *DB) StagedEvidenceFor(allocationID string, stage domain.EvidenceStage) ([]*StagedEvidence, error) {
	rows, err := db.Query(`
		SELECT id, allocation_id, stage, uri, captured_at
		FROM staged_evidence
		WHERE allocation_id = ? AND stage = ?
		ORDER BY rowid ASC`, allocationID, string(stage))
	if err != nil {
		return nil, fmt.Errorf("list staged evidence: %w", err)
	}
	defer rows.Close()

	var items []*StagedEvidence
	for rows.Next() {
		var (
			ev         StagedEvidence
			stageStr   string
			capturedAt string
		)
		if err := rows.Scan(&ev.ID, &ev.AllocationID, &stageStr, &ev.URI, &capturedAt); err != nil {
			return nil, fmt.Errorf("scan staged evidence: %w", err)
		}
		ev.Stage = domain.EvidenceStage(stageStr)
		ts, err := time.Parse(time.RFC3339Nano, capturedAt)
		if err != nil {
			return nil, fmt.Errorf("parse captured_at: %w", err)
		}
		ev.CapturedAt = ts
		items = append(items, &ev)
	}
	return items, rows.Err()
}

// ClearStagedEvidence removes the staged items for an allocation stage once
// they have been converted into queued sync operations.
func (db *DB) ClearStagedEvidence(allocationID string, stage domain.EvidenceStage) error {
	_, err := db.Exec(`DELETE FROM staged_evidence WHERE allocation_id = ? AND stage = ?`,
		allocationID, string(stage))
	if err != nil {
		return fmt.Errorf("clear staged evidence: %w", err)
	}
	return nil
}
