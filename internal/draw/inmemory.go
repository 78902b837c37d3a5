package draw

import (
	"context"
	"sort"
	"sync"
	"time"
)

// defaultLockWait bounds how long an operation waits on a contended event
// lock before reporting the event busy.
const defaultLockWait = 2 * time.Second

// InMemory implements Store with in-process state. Suitable for tests and
// single-instance deployments; durable installs use the Postgres store.
type InMemory struct {
	mu           sync.RWMutex
	events       map[string]Event
	participants map[string][]Participant
	horses       map[string][]Horse
	assignments  map[string][]Assignment
	sessions     map[string]DrawSession
	audit        map[string][]AuditEntry
	locks        map[string]chan struct{}
	lockWait     time.Duration
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		events:       make(map[string]Event),
		participants: make(map[string][]Participant),
		horses:       make(map[string][]Horse),
		assignments:  make(map[string][]Assignment),
		sessions:     make(map[string]DrawSession),
		audit:        make(map[string][]AuditEntry),
		locks:        make(map[string]chan struct{}),
		lockWait:     defaultLockWait,
	}
}

func (s *InMemory) eventLock(eventID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[eventID]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[eventID] = l
	}
	return l
}

// AcquireEvent waits up to the lock budget for a contended event and then
// reports ErrEventBusy; the caller's own deadline maps to
// ErrOperationTimedOut.
func (s *InMemory) AcquireEvent(ctx context.Context, eventID string) (func(), error) {
	l := s.eventLock(eventID)
	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	default:
	}

	busy := time.NewTimer(s.lockWait)
	defer busy.Stop()
	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-ctx.Done():
		return nil, ErrOperationTimedOut
	case <-busy.C:
		return nil, ErrEventBusy
	}
}

func (s *InMemory) GetEvent(ctx context.Context, eventID string) (Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[eventID]
	if !ok {
		return Event{}, ErrEventNotFound
	}
	return event, nil
}

func (s *InMemory) Participants(ctx context.Context, eventID string) ([]Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Participant, len(s.participants[eventID]))
	copy(out, s.participants[eventID])
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out, nil
}

func (s *InMemory) Horses(ctx context.Context, eventID string) ([]Horse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Horse, len(s.horses[eventID]))
	copy(out, s.horses[eventID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *InMemory) ActiveAssignments(ctx context.Context, eventID string) ([]Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Assignment
	for _, a := range s.assignments[eventID] {
		if a.Status == AssignmentActive {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DrawOrder < out[j].DrawOrder })
	return out, nil
}

func (s *InMemory) Session(ctx context.Context, eventID string) (DrawSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[eventID]; ok {
		return sess, nil
	}
	return DrawSession{EventID: eventID, Status: SessionNotStarted}, nil
}

func (s *InMemory) SaveDraw(ctx context.Context, eventID string, assignments []Assignment, session DrawSession, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[eventID] = append(s.assignments[eventID], assignments...)
	s.sessions[eventID] = session
	s.audit[eventID] = append(s.audit[eventID], entry)
	return nil
}

func (s *InMemory) UndoAssignments(ctx context.Context, eventID string, assignmentIDs []string, reason string, at time.Time, session DrawSession, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets := make(map[string]bool, len(assignmentIDs))
	for _, id := range assignmentIDs {
		targets[id] = true
	}
	list := s.assignments[eventID]
	for i := range list {
		if targets[list[i].ID] && list[i].Status == AssignmentActive {
			undoneAt := at
			list[i].Status = AssignmentUndone
			list[i].UndoneAt = &undoneAt
			list[i].UndoReason = reason
		}
	}
	s.sessions[eventID] = session
	s.audit[eventID] = append(s.audit[eventID], entry)
	return nil
}

func (s *InMemory) AuditTrail(ctx context.Context, eventID string) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AuditEntry, len(s.audit[eventID]))
	copy(out, s.audit[eventID])
	return out, nil
}

func (s *InMemory) PutEvent(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = event
	return nil
}

func (s *InMemory) PutParticipants(ctx context.Context, eventID string, participants []Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Participant, len(participants))
	copy(out, participants)
	s.participants[eventID] = out
	return nil
}

func (s *InMemory) PutHorses(ctx context.Context, eventID string, horses []Horse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Horse, len(horses))
	copy(out, horses)
	s.horses[eventID] = out
	return nil
}
