package draw

import (
	"context"
	"time"
)

// Store is the durable owner of all engine state. The engine keeps no state
// of its own between operations: everything is read fresh while the
// per-event lock is held.
type Store interface {
	// AcquireEvent takes the mutual-exclusion scope for one event. All
	// draw/undo work for the event happens between AcquireEvent and the
	// returned release func. A contended event surfaces ErrEventBusy once
	// the implementation's wait budget runs out; an expired caller ctx
	// surfaces ErrOperationTimedOut. Operations on different events do not
	// contend.
	AcquireEvent(ctx context.Context, eventID string) (release func(), err error)

	GetEvent(ctx context.Context, eventID string) (Event, error)

	// Participants returns the caller-supplied entrant list for the event,
	// ordered by registration time ascending.
	Participants(ctx context.Context, eventID string) ([]Participant, error)

	// Horses returns the full horse registry for the event, ordered by
	// number ascending, withdrawn included.
	Horses(ctx context.Context, eventID string) ([]Horse, error)

	// ActiveAssignments returns non-undone assignments ordered by draw
	// order ascending.
	ActiveAssignments(ctx context.Context, eventID string) ([]Assignment, error)

	// Session returns the draw session for the event. A session that was
	// never drawn reports SessionNotStarted with a zero count.
	Session(ctx context.Context, eventID string) (DrawSession, error)

	// SaveDraw persists the assignments, the updated session, and the audit
	// entry of one draw operation atomically: all rows commit or none do.
	SaveDraw(ctx context.Context, eventID string, assignments []Assignment, session DrawSession, entry AuditEntry) error

	// UndoAssignments soft-deletes the identified assignments, stores the
	// updated session, and appends the audit entry, all atomically.
	UndoAssignments(ctx context.Context, eventID string, assignmentIDs []string, reason string, at time.Time, session DrawSession, entry AuditEntry) error

	// AuditTrail returns every audit entry for the event, oldest first.
	AuditTrail(ctx context.Context, eventID string) ([]AuditEntry, error)

	// Ingest of the externally owned sources: event metadata, the
	// eligibility-filtered participant list, the horse registry.
	PutEvent(ctx context.Context, event Event) error
	PutParticipants(ctx context.Context, eventID string, participants []Participant) error
	PutHorses(ctx context.Context, eventID string, horses []Horse) error
}
