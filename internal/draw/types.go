package draw

import (
	"time"
)

// Participant is a registered entrant supplied by the upstream registration
// service. Eligibility is derived from payment state elsewhere; this package
// only reads it.
type Participant struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	RegisteredAt time.Time `json:"registered_at"`
	Eligible     bool      `json:"eligible"`
}

// Horse is one unit of the numbered inventory allocated to participants.
// Withdrawn ("scratched") horses are excluded from future allocation but
// existing assignments to them stand.
type Horse struct {
	ID        string `json:"id"`
	Number    int    `json:"number"`
	Name      string `json:"name"`
	Withdrawn bool   `json:"withdrawn"`
}

// AssignmentStatus tags an assignment as live or reverted. Undo never
// deletes rows; read paths filter on this field.
type AssignmentStatus string

const (
	AssignmentActive AssignmentStatus = "active"
	AssignmentUndone AssignmentStatus = "undone"
)

// Assignment links one participant to one horse within an event.
type Assignment struct {
	ID            string           `json:"id"`
	EventID       string           `json:"event_id"`
	ParticipantID string           `json:"participant_id"`
	HorseID       string           `json:"horse_id"`
	DrawOrder     int              `json:"draw_order"`
	Status        AssignmentStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UndoneAt      *time.Time       `json:"undone_at,omitempty"`
	UndoReason    string           `json:"undo_reason,omitempty"`
}

// SessionStatus is the persisted draw state of an event. There is no stored
// in-progress state: an operation in flight is represented by the held
// per-event lock, and contenders observe it as ErrEventBusy.
type SessionStatus string

const (
	SessionNotStarted SessionStatus = "not_started"
	SessionCompleted  SessionStatus = "completed"
)

// DrawSession is the per-event draw snapshot.
type DrawSession struct {
	EventID         string        `json:"event_id"`
	Status          SessionStatus `json:"status"`
	LastSeedUsed    string        `json:"last_seed_used,omitempty"`
	AssignmentCount int           `json:"assignment_count"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Operation is the audited operation kind.
type Operation string

const (
	OperationDraw Operation = "draw"
	OperationUndo Operation = "undo"
)

// AuditEntry is the append-only record of a draw or undo. It is the system
// of record for reproducing or disputing an outcome and is never mutated.
type AuditEntry struct {
	ID            string    `json:"id"`
	EventID       string    `json:"event_id"`
	Operation     Operation `json:"operation"`
	Seed          string    `json:"seed,omitempty"`
	PRNGVersion   string    `json:"prng_version,omitempty"`
	AssignmentIDs []string  `json:"assignment_ids"`
	Actor         string    `json:"actor,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	ResultDigest  string    `json:"result_digest"`
}

// Event carries the slice of event metadata the engine needs. The full event
// record (venue, schedule, pricing) lives upstream.
type Event struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	RequiresPayment bool   `json:"requires_payment"`
}

// Error is a stable machine-readable failure. Reason never changes between
// releases; callers branch on it, Message is for humans.
type Error struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

var (
	ErrEventNotFound         = &Error{Reason: "event_not_found", Message: "event does not exist"}
	ErrNoHorsesAvailable     = &Error{Reason: "no_resources_available", Message: "no horses available for allocation"}
	ErrNoParticipantsWaiting = &Error{Reason: "no_participants_waiting", Message: "no eligible participants waiting to draw"}
	ErrDrawAlreadyCompleted  = &Error{Reason: "draw_already_completed", Message: "draw has already been completed for this event"}
	ErrNothingToUndo         = &Error{Reason: "nothing_to_undo", Message: "no active assignments to undo"}
	ErrIneligibleParticipant = &Error{Reason: "ineligible_participant", Message: "participant list contains an ineligible entry"}
	ErrEventBusy             = &Error{Reason: "event_busy", Message: "another draw operation is in progress for this event"}
	ErrOperationTimedOut     = &Error{Reason: "operation_timed_out", Message: "operation deadline exceeded"}
)
