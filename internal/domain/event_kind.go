package domain

// EventKind identifies the lifecycle event that triggers a notification.
type EventKind string

// Event kinds.
const (
	EventKindCreation     EventKind = "creation"
	EventKindValidation   EventKind = "validation"
	EventKindCloture      EventKind = "cloture"
	EventKindArchive      EventKind = "archive"
	EventKindUnarchive    EventKind = "unarchive"
	EventKindTrashed      EventKind = "trashed"
	EventKindRestored     EventKind = "restored"
	EventKindForceDeleted EventKind = "forceDeleted"
	EventKindDowngraded   EventKind = "downgraded"
)

// AllEventKinds lists every event kind.
var AllEventKinds = []EventKind{
	EventKindCreation,
	EventKindValidation,
	EventKindCloture,
	EventKindArchive,
	EventKindUnarchive,
	EventKindTrashed,
	EventKindRestored,
	EventKindForceDeleted,
	EventKindDowngraded,
}
