package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"horsedraw.org/internal/draw"
	"horsedraw.org/internal/obs"
	"horsedraw.org/internal/stream"
)

// ReadyProbe reports readiness (for durable installs, a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the draw engine.
type API struct {
	mux        *http.ServeMux
	engine     *draw.Engine
	store      draw.Store
	stream     *stream.Stream
	readyProbe ReadyProbe
	version    string
}

// New wires the routes. store is used only for the ingest endpoints that
// materialize the external participant/horse sources; all draw operations go
// through the engine.
func New(engine *draw.Engine, store draw.Store, st *stream.Stream, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		engine:     engine,
		store:      store,
		stream:     st,
		readyProbe: rp,
		version:    version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	a.mux.HandleFunc("/v1/events/", a.handleEventResource)
	a.mux.HandleFunc("/v1/stream", a.Stream)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withActor(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 20, 10)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- ops handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "horsedraw-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "horsedraw-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, reason, msg string) {
	payload := map[string]any{
		"reason": reason,
		"error":  msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// handleEngineError maps engine failures onto HTTP codes, preserving the
// stable machine-readable reason.
func handleEngineError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	var engineErr *draw.Error
	if !errors.As(err, &engineErr) {
		obs.ObserveDrawFailure(operation, "internal")
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	obs.ObserveDrawFailure(operation, engineErr.Reason)
	code := http.StatusConflict
	switch engineErr {
	case draw.ErrEventNotFound:
		code = http.StatusNotFound
	case draw.ErrIneligibleParticipant:
		code = http.StatusUnprocessableEntity
	case draw.ErrEventBusy:
		code = http.StatusConflict
	case draw.ErrOperationTimedOut:
		code = http.StatusGatewayTimeout
	}
	writeError(w, r, code, engineErr.Reason, engineErr.Message)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}
