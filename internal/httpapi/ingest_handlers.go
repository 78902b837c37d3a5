package httpapi

import (
	"net/http"
	"strings"
	"time"

	"horsedraw.org/internal/audit"
	"horsedraw.org/internal/draw"
)

// Ingest endpoints materialize the externally owned sources: event metadata,
// the eligibility-filtered participant list, and the horse registry. They
// replace wholesale; the upstream systems are the source of truth.

type putEventRequest struct {
	Name            string `json:"name"`
	RequiresPayment bool   `json:"requires_payment"`
}

type participantPayload struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	RegisteredAt time.Time `json:"registered_at"`
	Eligible     bool      `json:"eligible"`
}

type horsePayload struct {
	ID        string `json:"id"`
	Number    int    `json:"number"`
	Name      string `json:"name"`
	Withdrawn bool   `json:"withdrawn"`
}

func (a *API) putEvent(w http.ResponseWriter, r *http.Request, eventID string) {
	var req putEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if len(eventID) > 64 {
		writeError(w, r, http.StatusBadRequest, "bad_request", "event id too long")
		return
	}
	event := draw.Event{ID: eventID, Name: strings.TrimSpace(req.Name), RequiresPayment: req.RequiresPayment}
	if err := a.store.PutEvent(r.Context(), event); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	_ = audit.LogEvent(r.Context(), "event.put", map[string]any{"event_id": eventID})
	writeJSON(w, http.StatusOK, event)
}

func (a *API) putParticipants(w http.ResponseWriter, r *http.Request, eventID string) {
	var payload []participantPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	participants := make([]draw.Participant, 0, len(payload))
	seen := make(map[string]bool, len(payload))
	for _, p := range payload {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			writeError(w, r, http.StatusBadRequest, "bad_request", "participant id is required")
			return
		}
		if seen[id] {
			writeError(w, r, http.StatusBadRequest, "bad_request", "duplicate participant id: "+id)
			return
		}
		seen[id] = true
		participants = append(participants, draw.Participant{
			ID:           id,
			DisplayName:  strings.TrimSpace(p.DisplayName),
			RegisteredAt: p.RegisteredAt,
			Eligible:     p.Eligible,
		})
	}
	if err := a.store.PutParticipants(r.Context(), eventID, participants); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	_ = audit.LogEvent(r.Context(), "participants.put", map[string]any{
		"event_id": eventID,
		"count":    len(participants),
	})
	writeJSON(w, http.StatusOK, map[string]any{"count": len(participants)})
}

func (a *API) putHorses(w http.ResponseWriter, r *http.Request, eventID string) {
	var payload []horsePayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	horses := make([]draw.Horse, 0, len(payload))
	seen := make(map[string]bool, len(payload))
	for _, h := range payload {
		id := strings.TrimSpace(h.ID)
		if id == "" {
			writeError(w, r, http.StatusBadRequest, "bad_request", "horse id is required")
			return
		}
		if seen[id] {
			writeError(w, r, http.StatusBadRequest, "bad_request", "duplicate horse id: "+id)
			return
		}
		seen[id] = true
		if h.Number < 1 {
			writeError(w, r, http.StatusBadRequest, "bad_request", "horse number must be >= 1")
			return
		}
		horses = append(horses, draw.Horse{
			ID:        id,
			Number:    h.Number,
			Name:      strings.TrimSpace(h.Name),
			Withdrawn: h.Withdrawn,
		})
	}
	if err := a.store.PutHorses(r.Context(), eventID, horses); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	_ = audit.LogEvent(r.Context(), "horses.put", map[string]any{
		"event_id": eventID,
		"count":    len(horses),
	})
	writeJSON(w, http.StatusOK, map[string]any{"count": len(horses)})
}
