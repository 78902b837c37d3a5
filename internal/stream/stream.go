// Package stream fans draw notifications out to live-display consumers
// (SSE clients on the venue screens). Payloads carry the operation summary
// and display names only, never registration or payment details.
package stream

import (
	"context"
	"sync"
	"time"
)

// Event types emitted after successful engine operations.
const (
	TypeDrawCompleted = "draw_completed"
	TypeDrawUndone    = "draw_undone"
)

// AssignmentSummary is the display slice of one assignment.
type AssignmentSummary struct {
	DrawOrder       int    `json:"draw_order"`
	ParticipantName string `json:"participant_name"`
	HorseNumber     int    `json:"horse_number"`
	HorseName       string `json:"horse_name"`
}

// DrawEvent describes one completed draw or undo for an event.
type DrawEvent struct {
	EventID     string              `json:"event_id"`
	Type        string              `json:"type"`
	Count       int                 `json:"count"`
	Assignments []AssignmentSummary `json:"assignments,omitempty"`
	At          time.Time           `json:"at"`
}

type subscriber struct {
	ch      chan DrawEvent
	eventID string // empty means all events
}

// Stream fan-outs draw events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. An empty eventID subscribes to every event. The channel is closed
// when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context, eventID string) <-chan DrawEvent {
	ch := make(chan DrawEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, eventID: eventID}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all matching subscribers.
func (s *Stream) Publish(evt DrawEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.eventID != "" && sub.eventID != evt.EventID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
