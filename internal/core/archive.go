package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mellon/internal/blob"
	"mellon/pkg/domain"
)

// ArchiveRecord is the JSON document written to blob storage after each
// successful reconciliation pass.
type ArchiveRecord struct {
	ID         string        `json:"id"`
	TeamID     string        `json:"team_id"`
	Action     domain.Action `json:"action"`
	Modified   bool          `json:"modified"`
	Rewritten  bool          `json:"rewritten"`
	Updated    []string      `json:"updated,omitempty"`
	Removed    []string      `json:"removed,omitempty"`
	Pruned     []string      `json:"pruned,omitempty"`
	Repaired   []string      `json:"repaired,omitempty"`
	Deferred   []string      `json:"deferred,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Archive persists reconciliation outcomes to blob storage under
// reconciliations/<team id>/<record id>.json.
type Archive struct {
	store blob.Store
	clock Clock
}

// NewArchive constructs an archive over the given blob store.
func NewArchive(store blob.Store) (*Archive, error) {
	if store == nil {
		return nil, fmt.Errorf("core: blob store is required")
	}
	return &Archive{store: store, clock: systemClock{}}, nil
}

// Record writes one outcome and returns the stored record.
func (a *Archive) Record(ctx context.Context, outcome ReconcileOutcome) (ArchiveRecord, error) {
	record := ArchiveRecord{
		ID:         uuid.NewString(),
		TeamID:     outcome.TeamID,
		Action:     outcome.Action,
		Modified:   outcome.Modified,
		Rewritten:  outcome.Rewritten,
		Updated:    outcome.Updated,
		Removed:    outcome.Removed,
		Pruned:     outcome.Pruned,
		Repaired:   outcome.Repaired,
		Deferred:   outcome.Deferred,
		RecordedAt: a.clock.Now(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return ArchiveRecord{}, err
	}
	key := fmt.Sprintf("reconciliations/%s/%s.json", record.TeamID, record.ID)
	if _, err := a.store.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{ContentType: "application/json"}); err != nil {
		return ArchiveRecord{}, err
	}
	return record, nil
}

// History returns the stored record keys for one team, ordered by key.
func (a *Archive) History(ctx context.Context, teamID string) ([]blob.Info, error) {
	return a.store.List(ctx, fmt.Sprintf("reconciliations/%s/", teamID))
}

// Load reads one archived record back.
func (a *Archive) Load(ctx context.Context, key string) (ArchiveRecord, error) {
	_, body, err := a.store.Get(ctx, key)
	if err != nil {
		return ArchiveRecord{}, err
	}
	defer func() { _ = body.Close() }()
	var record ArchiveRecord
	if err := json.NewDecoder(body).Decode(&record); err != nil {
		return ArchiveRecord{}, err
	}
	return record, nil
}

// archiveOutcome records the outcome when an archive is configured. Failures
// are logged and never surface to the pipeline.
func (s *Service) archiveOutcome(ctx context.Context, outcome ReconcileOutcome) {
	if s.archive == nil {
		return
	}
	if _, err := s.archive.Record(ctx, outcome); err != nil {
		s.logger.Warn("archive write failed", "team_id", outcome.TeamID, "error", err)
	}
}
