package domain

import "time"

// HistoryAction represents the kind of mutation recorded in the history.
type HistoryAction string

// History actions.
const (
	HistoryActionCreated         HistoryAction = "created"
	HistoryActionUpdated         HistoryAction = "updated"
	HistoryActionClosed          HistoryAction = "closed"
	HistoryActionArchived        HistoryAction = "archived"
	HistoryActionRestoredArchive HistoryAction = "restoredArchive"
	HistoryActionTrashed         HistoryAction = "trashed"
	HistoryActionRestoredTrash   HistoryAction = "restoredTrash"
)

// FieldChange holds the old and new value of a single field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// HistoryEntry is an immutable record of one incident mutation.
type HistoryEntry struct {
	ID         string                 `json:"id"`
	IncidentID string                 `json:"incident_id"`
	Action     HistoryAction          `json:"action"`
	ActorID    string                 `json:"actor_id"`
	Snapshot   map[string]any         `json:"snapshot"`
	Changes    map[string]FieldChange `json:"changes,omitempty"`
	Reason     *string                `json:"reason,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}
