// Package audit records the history of incident mutations.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/bissquit/incident-relay/internal/pkg/ctxlog"
	"github.com/google/uuid"
)

// Recorder errors.
var (
	// ErrHistoryWrite is logged when an entry cannot be persisted. The mutation stays committed.
	ErrHistoryWrite = errors.New("history write failed")
	// ErrUnknownRestoreToken is returned when completing a restore that was never started or already finished.
	ErrUnknownRestoreToken = errors.New("unknown restore token")
)

// DefaultDenylist holds bookkeeping fields that never appear in diffs.
var DefaultDenylist = []string{"updated_at", "deleted_at", "version"}

// Repository defines the interface for history storage.
type Repository interface {
	CreateEntry(ctx context.Context, entry *domain.HistoryEntry) error
	// ListByIncident returns entries newest first.
	ListByIncident(ctx context.Context, incidentID string) ([]domain.HistoryEntry, error)
}

// RecordInput describes one mutation to record.
type RecordInput struct {
	Action   domain.HistoryAction
	Incident *domain.Incident
	// Previous is the incident state before the mutation. Nil for creation.
	Previous *domain.Incident
	ActorID  string
	Reason   *string
}

// RestoreToken scopes a restore from trash.
type RestoreToken struct {
	id         string
	incidentID string
}

// IncidentID returns the incident being restored.
func (t RestoreToken) IncidentID() string {
	return t.incidentID
}

// Recorder writes history entries synchronously.
type Recorder struct {
	repo     Repository
	denylist map[string]struct{}
	now      func() time.Time

	mu       sync.Mutex
	restores map[string]string
}

// NewRecorder creates a recorder. An empty denylist falls back to DefaultDenylist.
func NewRecorder(repo Repository, denylist []string) *Recorder {
	if len(denylist) == 0 {
		denylist = DefaultDenylist
	}
	deny := make(map[string]struct{}, len(denylist))
	for _, f := range denylist {
		deny[f] = struct{}{}
	}
	return &Recorder{
		repo:     repo,
		denylist: deny,
		now:      time.Now,
		restores: make(map[string]string),
	}
}

// Record writes one history entry for a committed mutation.
// It returns nil when the entry was suppressed, empty, or could not be written.
func (r *Recorder) Record(ctx context.Context, in RecordInput) *domain.HistoryEntry {
	logger := ctxlog.FromContext(ctx).With("incident_id", in.Incident.ID, "action", in.Action)

	if in.Action == domain.HistoryActionUpdated && r.restoring(in.Incident.ID) {
		logger.Debug("update history suppressed during restore")
		return nil
	}

	return r.write(ctx, in)
}

func (r *Recorder) write(ctx context.Context, in RecordInput) *domain.HistoryEntry {
	logger := ctxlog.FromContext(ctx).With("incident_id", in.Incident.ID, "action", in.Action)

	EnforceOpenedAt(ctx, in.Previous, in.Incident)

	snapshot, err := Snapshot(in.Incident)
	if err != nil {
		logger.Error("failed to snapshot incident", "error", fmt.Errorf("%w: %w", ErrHistoryWrite, err))
		return nil
	}

	entry := &domain.HistoryEntry{
		IncidentID: in.Incident.ID,
		Action:     in.Action,
		ActorID:    in.ActorID,
		Snapshot:   snapshot,
		Reason:     in.Reason,
		CreatedAt:  r.now().UTC(),
	}

	if in.Action == domain.HistoryActionUpdated && in.Previous != nil {
		before, err := Snapshot(in.Previous)
		if err != nil {
			logger.Error("failed to snapshot previous state", "error", fmt.Errorf("%w: %w", ErrHistoryWrite, err))
			return nil
		}
		entry.Changes = r.Diff(before, snapshot)
		if len(entry.Changes) == 0 {
			logger.Debug("no field changes, history skipped")
			return nil
		}
	}

	if err := r.repo.CreateEntry(ctx, entry); err != nil {
		logger.Error("failed to write history", "error", fmt.Errorf("%w: %w", ErrHistoryWrite, err))
		return nil
	}
	return entry
}

// EnforceOpenedAt restores the creation timestamp if a mutation changed it.
// It reports whether a correction was made.
func EnforceOpenedAt(ctx context.Context, before, after *domain.Incident) bool {
	if before == nil || after == nil || after.OpenedAt.Equal(before.OpenedAt) {
		return false
	}

	ctxlog.FromContext(ctx).Log(ctx, ctxlog.LevelCritical, "opened_at drift corrected",
		"incident_id", after.ID,
		"expected", before.OpenedAt,
		"actual", after.OpenedAt,
	)
	after.OpenedAt = before.OpenedAt
	return true
}

// Snapshot returns the full incident state as a field map using JSON field names.
func Snapshot(inc *domain.Incident) (map[string]any, error) {
	data, err := json.Marshal(inc)
	if err != nil {
		return nil, fmt.Errorf("marshal incident: %w", err)
	}
	var snapshot map[string]any
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snapshot, nil
}

// Diff returns the changed fields between two snapshots, ignoring the denylist.
func (r *Recorder) Diff(before, after map[string]any) map[string]domain.FieldChange {
	changes := make(map[string]domain.FieldChange)
	for field, newValue := range after {
		if _, denied := r.denylist[field]; denied {
			continue
		}
		oldValue := before[field]
		if !reflect.DeepEqual(oldValue, newValue) {
			changes[field] = domain.FieldChange{Old: oldValue, New: newValue}
		}
	}
	for field, oldValue := range before {
		if _, denied := r.denylist[field]; denied {
			continue
		}
		if _, ok := after[field]; !ok {
			changes[field] = domain.FieldChange{Old: oldValue, New: nil}
		}
	}
	return changes
}

// BeginRestore opens a restore scope. Updates recorded for the incident
// inside the scope are suppressed until CompleteRestore or AbortRestore.
func (r *Recorder) BeginRestore(incidentID string) RestoreToken {
	token := RestoreToken{id: uuid.NewString(), incidentID: incidentID}

	r.mu.Lock()
	r.restores[incidentID] = token.id
	r.mu.Unlock()

	return token
}

// CompleteRestore closes the restore scope and writes a single restoredTrash entry.
func (r *Recorder) CompleteRestore(ctx context.Context, token RestoreToken, in RecordInput) (*domain.HistoryEntry, error) {
	if !r.release(token) {
		return nil, ErrUnknownRestoreToken
	}

	in.Action = domain.HistoryActionRestoredTrash
	return r.write(ctx, in), nil
}

// AbortRestore closes the restore scope without writing history.
func (r *Recorder) AbortRestore(token RestoreToken) {
	r.release(token)
}

// ListHistory returns the history of an incident, newest first.
func (r *Recorder) ListHistory(ctx context.Context, incidentID string) ([]domain.HistoryEntry, error) {
	entries, err := r.repo.ListByIncident(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

func (r *Recorder) restoring(incidentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.restores[incidentID]
	return ok
}

func (r *Recorder) release(token RestoreToken) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.restores[token.incidentID]; !ok || id != token.id {
		return false
	}
	delete(r.restores, token.incidentID)
	return true
}
