package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"horsedraw.org/internal/auth"
	"horsedraw.org/internal/draw"
	"horsedraw.org/internal/stream"
)

func newTestAPI(t *testing.T) (http.Handler, *draw.InMemory) {
	t.Helper()
	store := draw.NewInMemory()
	engine := draw.NewEngine(store)
	api := New(engine, store, stream.New(), ReadyProbe{}, "test")
	return api.Handler(), store
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func seedEvent(t *testing.T, h http.Handler, eventID string, participants, horses int) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPut, "/v1/events/"+eventID,
		`{"name":"Spring Carnival Sweep","requires_payment":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put event: %d %s", rec.Code, rec.Body.String())
	}

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var pb strings.Builder
	pb.WriteString("[")
	for i := 0; i < participants; i++ {
		if i > 0 {
			pb.WriteString(",")
		}
		fmt.Fprintf(&pb, `{"id":"p%02d","display_name":"Patron %d","registered_at":%q,"eligible":true}`,
			i, i, base.Add(time.Duration(i)*time.Minute).Format(time.RFC3339))
	}
	pb.WriteString("]")
	rec = doJSON(t, h, http.MethodPut, "/v1/events/"+eventID+"/participants", pb.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("put participants: %d %s", rec.Code, rec.Body.String())
	}

	var hb strings.Builder
	hb.WriteString("[")
	for i := 0; i < horses; i++ {
		if i > 0 {
			hb.WriteString(",")
		}
		fmt.Fprintf(&hb, `{"id":"h%02d","number":%d,"name":"Horse %d"}`, i+1, i+1, i+1)
	}
	hb.WriteString("]")
	rec = doJSON(t, h, http.MethodPut, "/v1/events/"+eventID+"/horses", hb.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("put horses: %d %s", rec.Code, rec.Body.String())
	}
}

func TestDrawLifecycle(t *testing.T) {
	h, _ := newTestAPI(t)
	seedEvent(t, h, "cup-day", 6, 3)

	rec := doJSON(t, h, http.MethodPost, "/v1/events/cup-day/draw", `{"seed":"carnival"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("draw: %d %s", rec.Code, rec.Body.String())
	}
	var drawResp struct {
		Assignments []draw.Assignment `json:"assignments"`
		Seed        string            `json:"seed"`
	}
	decodeBody(t, rec, &drawResp)
	if len(drawResp.Assignments) != 6 || drawResp.Seed != "carnival" {
		t.Fatalf("unexpected draw response: %+v", drawResp)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/events/cup-day", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d %s", rec.Code, rec.Body.String())
	}
	var statusResp struct {
		Session struct {
			Status string `json:"status"`
		} `json:"session"`
		Assignments []draw.Assignment `json:"assignments"`
		AuditTrail  []json.RawMessage `json:"audit_trail"`
	}
	decodeBody(t, rec, &statusResp)
	if statusResp.Session.Status != "completed" || len(statusResp.Assignments) != 6 || len(statusResp.AuditTrail) != 1 {
		t.Fatalf("unexpected status: %s", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/events/cup-day/undo", `{"count":2,"reason":"re-draw"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("undo: %d %s", rec.Code, rec.Body.String())
	}
	var undoResp struct {
		DeletedCount         int               `json:"deleted_count"`
		RemainingAssignments []draw.Assignment `json:"remaining_assignments"`
	}
	decodeBody(t, rec, &undoResp)
	if undoResp.DeletedCount != 2 || len(undoResp.RemainingAssignments) != 4 {
		t.Fatalf("unexpected undo response: %s", rec.Body.String())
	}
}

func TestDrawNextEndpoint(t *testing.T) {
	h, _ := newTestAPI(t)
	seedEvent(t, h, "cup-day", 2, 4)

	rec := doJSON(t, h, http.MethodPost, "/v1/events/cup-day/draw-next", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("draw-next: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Assignment draw.Assignment `json:"assignment"`
	}
	decodeBody(t, rec, &resp)
	if resp.Assignment.ParticipantID != "p00" || resp.Assignment.DrawOrder != 1 {
		t.Fatalf("unexpected assignment: %+v", resp.Assignment)
	}
}

func TestErrorReasons(t *testing.T) {
	h, _ := newTestAPI(t)
	seedEvent(t, h, "cup-day", 2, 2)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
		reason string
	}{
		{"unknown event", http.MethodPost, "/v1/events/nope/draw", "", http.StatusNotFound, "event_not_found"},
		{"nothing to undo", http.MethodPost, "/v1/events/cup-day/undo", "", http.StatusConflict, "nothing_to_undo"},
		{"negative count", http.MethodPost, "/v1/events/cup-day/undo", `{"count":-1}`, http.StatusBadRequest, "bad_request"},
		{"bad body", http.MethodPost, "/v1/events/cup-day/draw", `{"seed":`, http.StatusBadRequest, "bad_request"},
		{"unknown field", http.MethodPost, "/v1/events/cup-day/draw", `{"sneed":"x"}`, http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range cases {
		rec := doJSON(t, h, tc.method, tc.path, tc.body)
		if rec.Code != tc.code {
			t.Fatalf("%s: code %d, want %d (%s)", tc.name, rec.Code, tc.code, rec.Body.String())
		}
		var payload struct {
			Reason    string `json:"reason"`
			RequestID string `json:"request_id"`
		}
		decodeBody(t, rec, &payload)
		if payload.Reason != tc.reason {
			t.Fatalf("%s: reason %q, want %q", tc.name, payload.Reason, tc.reason)
		}
		if payload.RequestID == "" {
			t.Fatalf("%s: error payload missing request_id", tc.name)
		}
	}
}

func TestSecondDrawConflicts(t *testing.T) {
	h, _ := newTestAPI(t)
	seedEvent(t, h, "cup-day", 3, 3)

	if rec := doJSON(t, h, http.MethodPost, "/v1/events/cup-day/draw", ""); rec.Code != http.StatusCreated {
		t.Fatalf("first draw: %d", rec.Code)
	}
	rec := doJSON(t, h, http.MethodPost, "/v1/events/cup-day/draw", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second draw: %d %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	decodeBody(t, rec, &payload)
	if payload.Reason != "draw_already_completed" {
		t.Fatalf("reason %q", payload.Reason)
	}
}

func TestIngestValidation(t *testing.T) {
	h, _ := newTestAPI(t)
	seedEvent(t, h, "cup-day", 0, 0)

	rec := doJSON(t, h, http.MethodPut, "/v1/events/cup-day/horses", `[{"id":"h1","number":0}]`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero horse number accepted: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPut, "/v1/events/cup-day/horses",
		`[{"id":"h1","number":1},{"id":"h1","number":2}]`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate horse id accepted: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPut, "/v1/events/cup-day/participants", `[{"id":""}]`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank participant id accepted: %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestAPI(t)
	seedEvent(t, h, "cup-day", 1, 1)

	rec := doJSON(t, h, http.MethodDelete, "/v1/events/cup-day/draw", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
		t.Fatalf("Allow header %q", allow)
	}
}

func TestOpsEndpoints(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/info", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("info: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path: %d", rec.Code)
	}
}

func TestStreamFlushesThroughMiddleware(t *testing.T) {
	h, _ := newTestAPI(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	// The handler blocks on the subscription until the request context
	// ends; cancel shortly after the initial flush.
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	h.ServeHTTP(rec, req)

	if !rec.Flushed {
		t.Fatal("flush did not propagate through the middleware chain")
	}
	if !strings.Contains(rec.Body.String(), ": stream started") {
		t.Fatalf("initial stream comment not delivered: %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
}

func TestMutationsRequireTokenWhenConfigured(t *testing.T) {
	t.Setenv("HORSEDRAW_AUTH_SECRET", "handler-test-secret")
	auth.ResetSecretCache()
	t.Cleanup(auth.ResetSecretCache)

	h, _ := newTestAPI(t)

	// Reads stay open.
	rec := doJSON(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz with auth configured: %d", rec.Code)
	}

	// Mutations without a token are rejected.
	rec = doJSON(t, h, http.MethodPost, "/v1/events/cup-day/draw", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated draw: %d %s", rec.Code, rec.Body.String())
	}

	// A valid token attributes the actor and lets the mutation through.
	token, err := auth.GenerateToken("steward", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPut, "/v1/events/cup-day",
		strings.NewReader(`{"name":"Cup Day"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated put event: %d %s", w.Code, w.Body.String())
	}

	// Garbage tokens are rejected.
	req = httptest.NewRequest(http.MethodPut, "/v1/events/cup-day", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer nope")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: %d", w.Code)
	}
}
