package draw

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"horsedraw.org/internal/auth"
	"horsedraw.org/internal/ids"
)

const defaultUndoReason = "undo requested"

// Engine implements the draw operations over an abstract Store. It is
// stateless: every operation acquires the event's exclusion scope, reads
// fresh state, and commits its writes in one atomic store call.
type Engine struct {
	store Store
}

// NewEngine creates an engine over the given store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// AllocateOptions parameterize a full draw.
type AllocateOptions struct {
	// Seed makes the draw reproducible. Empty means a live draw with a
	// freshly generated secure seed.
	Seed string
	// IncludeWithdrawn keeps scratched horses in the pool. Default is to
	// skip them.
	IncludeWithdrawn bool
}

// AllocateResult is the outcome of a full draw.
type AllocateResult struct {
	Assignments []Assignment `json:"assignments"`
	Seed        string       `json:"seed"`
}

// UndoResult reports what an undo removed and what remains.
type UndoResult struct {
	DeletedCount         int          `json:"deleted_count"`
	RemainingAssignments []Assignment `json:"remaining_assignments"`
}

// StatusResult is the read-only snapshot of an event's draw state.
type StatusResult struct {
	Session     DrawSession  `json:"session"`
	Assignments []Assignment `json:"assignments"`
	AuditTrail  []AuditEntry `json:"audit_trail"`
}

// Allocate performs the one-time full draw for an event: shuffle every
// participant, map them round-robin onto the available horses, and persist
// assignments, session, and audit entry atomically.
func (e *Engine) Allocate(ctx context.Context, eventID string, opts AllocateOptions) (AllocateResult, error) {
	release, err := e.store.AcquireEvent(ctx, eventID)
	if err != nil {
		return AllocateResult{}, err
	}
	defer release()

	event, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return AllocateResult{}, err
	}
	session, err := e.store.Session(ctx, eventID)
	if err != nil {
		return AllocateResult{}, err
	}
	if session.Status == SessionCompleted {
		return AllocateResult{}, ErrDrawAlreadyCompleted
	}

	participants, err := e.store.Participants(ctx, eventID)
	if err != nil {
		return AllocateResult{}, err
	}
	if event.RequiresPayment {
		// The caller filters to paid entrants; re-validate rather than
		// trust the list.
		for _, p := range participants {
			if !p.Eligible {
				return AllocateResult{}, ErrIneligibleParticipant
			}
		}
	}

	horses, err := e.availableHorses(ctx, eventID, opts.IncludeWithdrawn)
	if err != nil {
		return AllocateResult{}, err
	}
	if len(horses) == 0 {
		return AllocateResult{}, ErrNoHorsesAvailable
	}

	shuffled, usedSeed, err := Shuffle(participants, opts.Seed)
	if err != nil {
		return AllocateResult{}, err
	}
	if len(shuffled) == 0 {
		return AllocateResult{Seed: usedSeed}, nil
	}

	now := time.Now().UTC()
	assignments := make([]Assignment, len(shuffled))
	for i, p := range shuffled {
		assignments[i] = Assignment{
			ID:            ids.New(),
			EventID:       eventID,
			ParticipantID: p.ID,
			HorseID:       horses[i%len(horses)].ID,
			DrawOrder:     i + 1,
			Status:        AssignmentActive,
			CreatedAt:     now,
		}
	}

	entry := AuditEntry{
		ID:            ids.New(),
		EventID:       eventID,
		Operation:     OperationDraw,
		Seed:          usedSeed,
		PRNGVersion:   prngVersion(opts.Seed),
		AssignmentIDs: assignmentIDs(assignments),
		Actor:         actor(ctx),
		CreatedAt:     now,
		ResultDigest:  resultDigest(assignments),
	}
	updated := DrawSession{
		EventID:         eventID,
		Status:          SessionCompleted,
		LastSeedUsed:    usedSeed,
		AssignmentCount: len(assignments),
		UpdatedAt:       now,
	}
	if err := e.store.SaveDraw(ctx, eventID, assignments, updated, entry); err != nil {
		return AllocateResult{}, err
	}
	return AllocateResult{Assignments: assignments, Seed: usedSeed}, nil
}

// DrawNext draws exactly one assignment: the longest-waiting eligible
// participant against a uniformly random available horse. Intended for
// on-stage draws revealed one at a time, so the horse pick always comes from
// the secure generator and is never seed-reproducible.
func (e *Engine) DrawNext(ctx context.Context, eventID string) (Assignment, error) {
	release, err := e.store.AcquireEvent(ctx, eventID)
	if err != nil {
		return Assignment{}, err
	}
	defer release()

	event, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return Assignment{}, err
	}
	participants, err := e.store.Participants(ctx, eventID)
	if err != nil {
		return Assignment{}, err
	}
	active, err := e.store.ActiveAssignments(ctx, eventID)
	if err != nil {
		return Assignment{}, err
	}

	assigned := make(map[string]bool, len(active))
	maxOrder := 0
	for _, a := range active {
		assigned[a.ParticipantID] = true
		if a.DrawOrder > maxOrder {
			maxOrder = a.DrawOrder
		}
	}

	var next *Participant
	for i := range participants {
		p := participants[i]
		if assigned[p.ID] {
			continue
		}
		if event.RequiresPayment && !p.Eligible {
			continue
		}
		next = &p
		break
	}
	if next == nil {
		return Assignment{}, ErrNoParticipantsWaiting
	}

	horses, err := e.availableHorses(ctx, eventID, false)
	if err != nil {
		return Assignment{}, err
	}
	if len(horses) == 0 {
		return Assignment{}, ErrNoHorsesAvailable
	}
	idx, err := secureIntn(len(horses))
	if err != nil {
		return Assignment{}, err
	}

	now := time.Now().UTC()
	assignment := Assignment{
		ID:            ids.New(),
		EventID:       eventID,
		ParticipantID: next.ID,
		HorseID:       horses[idx].ID,
		DrawOrder:     maxOrder + 1,
		Status:        AssignmentActive,
		CreatedAt:     now,
	}
	session, err := e.store.Session(ctx, eventID)
	if err != nil {
		return Assignment{}, err
	}
	entry := AuditEntry{
		ID:            ids.New(),
		EventID:       eventID,
		Operation:     OperationDraw,
		AssignmentIDs: []string{assignment.ID},
		Actor:         actor(ctx),
		CreatedAt:     now,
		ResultDigest:  resultDigest([]Assignment{assignment}),
	}
	updated := DrawSession{
		EventID:         eventID,
		Status:          SessionCompleted,
		LastSeedUsed:    session.LastSeedUsed,
		AssignmentCount: len(active) + 1,
		UpdatedAt:       now,
	}
	if err := e.store.SaveDraw(ctx, eventID, []Assignment{assignment}, updated, entry); err != nil {
		return Assignment{}, err
	}
	return assignment, nil
}

// Undo soft-deletes the count most recent active assignments. Count values
// below one mean one; counts beyond the active set are clamped. Remaining
// draw orders are never renumbered, so gaps after an undo are expected.
func (e *Engine) Undo(ctx context.Context, eventID string, count int, reason string) (UndoResult, error) {
	release, err := e.store.AcquireEvent(ctx, eventID)
	if err != nil {
		return UndoResult{}, err
	}
	defer release()

	if _, err := e.store.GetEvent(ctx, eventID); err != nil {
		return UndoResult{}, err
	}
	active, err := e.store.ActiveAssignments(ctx, eventID)
	if err != nil {
		return UndoResult{}, err
	}
	if len(active) == 0 {
		return UndoResult{}, ErrNothingToUndo
	}
	if count < 1 {
		count = 1
	}
	if count > len(active) {
		count = len(active)
	}
	if strings.TrimSpace(reason) == "" {
		reason = defaultUndoReason
	}

	byOrderDesc := make([]Assignment, len(active))
	copy(byOrderDesc, active)
	sort.Slice(byOrderDesc, func(i, j int) bool {
		return byOrderDesc[i].DrawOrder > byOrderDesc[j].DrawOrder
	})
	targets := byOrderDesc[:count]
	remaining := byOrderDesc[count:]

	now := time.Now().UTC()
	session, err := e.store.Session(ctx, eventID)
	if err != nil {
		return UndoResult{}, err
	}
	status := SessionCompleted
	if len(remaining) == 0 {
		status = SessionNotStarted
	}
	entry := AuditEntry{
		ID:            ids.New(),
		EventID:       eventID,
		Operation:     OperationUndo,
		AssignmentIDs: assignmentIDs(targets),
		Actor:         actor(ctx),
		Reason:        reason,
		CreatedAt:     now,
		ResultDigest:  resultDigest(targets),
	}
	updated := DrawSession{
		EventID:         eventID,
		Status:          status,
		LastSeedUsed:    session.LastSeedUsed,
		AssignmentCount: len(remaining),
		UpdatedAt:       now,
	}
	if err := e.store.UndoAssignments(ctx, eventID, assignmentIDs(targets), reason, now, updated, entry); err != nil {
		return UndoResult{}, err
	}

	// Return remaining in draw order.
	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].DrawOrder < remaining[j].DrawOrder
	})
	return UndoResult{DeletedCount: count, RemainingAssignments: remaining}, nil
}

// Status returns the session snapshot, active assignments, and audit trail.
func (e *Engine) Status(ctx context.Context, eventID string) (StatusResult, error) {
	if _, err := e.store.GetEvent(ctx, eventID); err != nil {
		return StatusResult{}, err
	}
	session, err := e.store.Session(ctx, eventID)
	if err != nil {
		return StatusResult{}, err
	}
	active, err := e.store.ActiveAssignments(ctx, eventID)
	if err != nil {
		return StatusResult{}, err
	}
	trail, err := e.store.AuditTrail(ctx, eventID)
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{Session: session, Assignments: active, AuditTrail: trail}, nil
}

// availableHorses returns horses open for allocation: not withdrawn (unless
// includeWithdrawn) and not referenced by an active assignment, ordered by
// number ascending. Withdrawing a horse after a draw leaves the existing
// assignment standing; the horse only drops out of future availability.
func (e *Engine) availableHorses(ctx context.Context, eventID string, includeWithdrawn bool) ([]Horse, error) {
	horses, err := e.store.Horses(ctx, eventID)
	if err != nil {
		return nil, err
	}
	active, err := e.store.ActiveAssignments(ctx, eventID)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(active))
	for _, a := range active {
		taken[a.HorseID] = true
	}
	available := make([]Horse, 0, len(horses))
	for _, h := range horses {
		if h.Withdrawn && !includeWithdrawn {
			continue
		}
		if taken[h.ID] {
			continue
		}
		available = append(available, h)
	}
	return available, nil
}

func prngVersion(seed string) string {
	if seed == "" {
		return SecurePRNGVersion
	}
	return SeededPRNGVersion
}

func assignmentIDs(assignments []Assignment) []string {
	out := make([]string, len(assignments))
	for i, a := range assignments {
		out[i] = a.ID
	}
	return out
}

// resultDigest condenses an operation's outcome into a stable hash auditors
// can compare against a replay.
func resultDigest(assignments []Assignment) string {
	h := sha256.New()
	for _, a := range assignments {
		fmt.Fprintf(h, "%d:%s:%s\n", a.DrawOrder, a.ParticipantID, a.HorseID)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func actor(ctx context.Context) string {
	if a, ok := auth.ActorFromContext(ctx); ok {
		return a
	}
	return "system"
}
