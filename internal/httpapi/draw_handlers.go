package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"horsedraw.org/internal/audit"
	"horsedraw.org/internal/draw"
	"horsedraw.org/internal/obs"
	"horsedraw.org/internal/stream"
)

type allocateRequest struct {
	Seed          string `json:"seed"`
	SkipWithdrawn *bool  `json:"skip_withdrawn"`
}

type undoRequest struct {
	Count  int    `json:"count"`
	Reason string `json:"reason"`
}

func (a *API) handleEventResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/events/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
		return
	}

	eventID := path
	action := ""
	if i := strings.IndexByte(path, '/'); i >= 0 {
		eventID = path[:i]
		action = path[i+1:]
	}
	if eventID == "" || strings.Contains(action, "/") {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			a.status(w, r, eventID)
		case http.MethodPut:
			a.putEvent(w, r, eventID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
		}
	case "draw":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.allocate(w, r, eventID)
	case "draw-next":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.drawNext(w, r, eventID)
	case "undo":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.undo(w, r, eventID)
	case "participants":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.putParticipants(w, r, eventID)
	case "horses":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.putHorses(w, r, eventID)
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	}
}

func (a *API) allocate(w http.ResponseWriter, r *http.Request, eventID string) {
	var req allocateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if len(req.Seed) > 256 {
		writeError(w, r, http.StatusBadRequest, "bad_request", "seed too long")
		return
	}

	opts := draw.AllocateOptions{Seed: strings.TrimSpace(req.Seed)}
	if req.SkipWithdrawn != nil && !*req.SkipWithdrawn {
		opts.IncludeWithdrawn = true
	}

	result, err := a.engine.Allocate(r.Context(), eventID, opts)
	obs.LogOperation(eventID, "allocate", len(result.Assignments), err)
	if err != nil {
		handleEngineError(w, r, "allocate", err)
		return
	}
	obs.ObserveDrawOperation("allocate", len(result.Assignments))

	a.publishDraw(r.Context(), eventID, stream.TypeDrawCompleted, result.Assignments)
	_ = audit.LogEvent(r.Context(), "draw.allocate", map[string]any{
		"event_id":    eventID,
		"assignments": len(result.Assignments),
		"seeded":      req.Seed != "",
	})

	writeJSON(w, http.StatusCreated, result)
}

func (a *API) drawNext(w http.ResponseWriter, r *http.Request, eventID string) {
	assignment, err := a.engine.DrawNext(r.Context(), eventID)
	obs.LogOperation(eventID, "draw_next", 1, err)
	if err != nil {
		handleEngineError(w, r, "draw_next", err)
		return
	}
	obs.ObserveDrawOperation("draw_next", 1)

	a.publishDraw(r.Context(), eventID, stream.TypeDrawCompleted, []draw.Assignment{assignment})
	_ = audit.LogEvent(r.Context(), "draw.next", map[string]any{
		"event_id":   eventID,
		"draw_order": assignment.DrawOrder,
	})

	writeJSON(w, http.StatusCreated, map[string]any{"assignment": assignment})
}

func (a *API) undo(w http.ResponseWriter, r *http.Request, eventID string) {
	var req undoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Count < 0 {
		writeError(w, r, http.StatusBadRequest, "bad_request", "count must be >= 0")
		return
	}
	if len(req.Reason) > 512 {
		writeError(w, r, http.StatusBadRequest, "bad_request", "reason too long")
		return
	}

	result, err := a.engine.Undo(r.Context(), eventID, req.Count, req.Reason)
	obs.LogOperation(eventID, "undo", result.DeletedCount, err)
	if err != nil {
		handleEngineError(w, r, "undo", err)
		return
	}
	obs.ObserveDrawOperation("undo", 0)

	a.publishUndo(eventID, result.DeletedCount)
	_ = audit.LogEvent(r.Context(), "draw.undo", map[string]any{
		"event_id":      eventID,
		"deleted_count": result.DeletedCount,
		"remaining":     len(result.RemainingAssignments),
	})

	writeJSON(w, http.StatusOK, result)
}

func (a *API) status(w http.ResponseWriter, r *http.Request, eventID string) {
	result, err := a.engine.Status(r.Context(), eventID)
	if err != nil {
		handleEngineError(w, r, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// publishDraw emits a draw_completed notification with display fields only.
func (a *API) publishDraw(ctx context.Context, eventID, eventType string, assignments []draw.Assignment) {
	if a.stream == nil {
		return
	}
	names := a.displayLookup(ctx, eventID)
	summaries := make([]stream.AssignmentSummary, len(assignments))
	for i, asg := range assignments {
		s := stream.AssignmentSummary{DrawOrder: asg.DrawOrder}
		if n, ok := names.participants[asg.ParticipantID]; ok {
			s.ParticipantName = n
		}
		if h, ok := names.horses[asg.HorseID]; ok {
			s.HorseNumber = h.Number
			s.HorseName = h.Name
		}
		summaries[i] = s
	}
	a.stream.Publish(stream.DrawEvent{
		EventID:     eventID,
		Type:        eventType,
		Count:       len(assignments),
		Assignments: summaries,
		At:          time.Now().UTC(),
	})
}

func (a *API) publishUndo(eventID string, count int) {
	if a.stream == nil {
		return
	}
	a.stream.Publish(stream.DrawEvent{
		EventID: eventID,
		Type:    stream.TypeDrawUndone,
		Count:   count,
		At:      time.Now().UTC(),
	})
}

type displayNames struct {
	participants map[string]string
	horses       map[string]draw.Horse
}

func (a *API) displayLookup(ctx context.Context, eventID string) displayNames {
	out := displayNames{
		participants: make(map[string]string),
		horses:       make(map[string]draw.Horse),
	}
	if participants, err := a.store.Participants(ctx, eventID); err == nil {
		for _, p := range participants {
			out.participants[p.ID] = p.DisplayName
		}
	}
	if horses, err := a.store.Horses(ctx, eventID); err == nil {
		for _, h := range horses {
			out.horses[h.ID] = h
		}
	}
	return out
}
