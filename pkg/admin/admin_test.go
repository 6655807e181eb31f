package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/wondertwin-ai/authtwin/pkg/twincore"
)

// ---------------------------------------------------------------------------
// Mock state store
// ---------------------------------------------------------------------------

type mockState struct {
	data        map[string]string
	resetCalled bool
}

func newMockState() *mockState {
	return &mockState{data: map[string]string{"A94F": "session"}}
}

func (m *mockState) Snapshot() any { return m.data }

func (m *mockState) LoadState(data []byte) error {
	var d map[string]string
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	m.data = d
	return nil
}

func (m *mockState) Reset() {
	m.resetCalled = true
	m.data = map[string]string{}
}

func setupTestServer(t *testing.T, state StateStore) (*httptest.Server, *twincore.Middleware) {
	t.Helper()
	cfg := &twincore.Config{Name: "test-admin"}
	mw := twincore.NewMiddleware(cfg, twincore.NewLogger(io.Discard, false))

	r := chi.NewRouter()
	r.Use(mw.RequestLog)
	NewHandler(state, mw).Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, mw
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHandleHealth(t *testing.T) {
	srv, _ := setupTestServer(t, newMockState())

	resp, err := http.Get(srv.URL + "/admin/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %+v", body)
	}
}

func TestHandleResetClearsStateAndRequestLog(t *testing.T) {
	state := newMockState()
	srv, mw := setupTestServer(t, state)

	http.Get(srv.URL + "/admin/health")
	if len(mw.ReqLog.Entries()) == 0 {
		t.Fatal("expected request log to record the health call")
	}

	resp, err := http.Post(srv.URL+"/admin/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if !state.resetCalled {
		t.Error("expected Reset to be called")
	}
	// The reset request itself is logged after the clear.
	if n := len(mw.ReqLog.Entries()); n > 1 {
		t.Errorf("expected request log cleared, got %d entries", n)
	}
}

func TestHandleGetState(t *testing.T) {
	srv, _ := setupTestServer(t, newMockState())

	resp, err := http.Get(srv.URL + "/admin/state")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["A94F"] != "session" {
		t.Errorf("unexpected state: %+v", body)
	}
}

func TestHandleLoadState(t *testing.T) {
	state := newMockState()
	srv, _ := setupTestServer(t, state)

	resp, err := http.Post(srv.URL+"/admin/state", "application/json", strings.NewReader(`{"BEEF":"s2"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if state.data["BEEF"] != "s2" {
		t.Errorf("expected loaded state, got %+v", state.data)
	}
}

func TestHandleLoadStateInvalidJSON(t *testing.T) {
	srv, _ := setupTestServer(t, newMockState())

	resp, err := http.Post(srv.URL+"/admin/state", "application/json", strings.NewReader(`{`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if !strings.Contains(body["error"], "failed to load state") {
		t.Errorf("unexpected error body: %+v", body)
	}
}

func TestHandleGetRequests(t *testing.T) {
	srv, _ := setupTestServer(t, newMockState())
	http.Get(srv.URL + "/admin/health")

	resp, err := http.Get(srv.URL + "/admin/requests")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var entries []twincore.RequestLogEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) == 0 || entries[0].Path != "/admin/health" {
		t.Errorf("expected health call in request log, got %+v", entries)
	}
}

func TestExtendMountsExtraRoutes(t *testing.T) {
	cfg := &twincore.Config{Name: "test-admin"}
	mw := twincore.NewMiddleware(cfg, twincore.NewLogger(io.Discard, false))
	h := NewHandler(newMockState(), mw)
	h.Extend(func(r chi.Router) {
		r.Get("/stubs", func(w http.ResponseWriter, r *http.Request) {
			twincore.JSON(w, http.StatusOK, []string{"/auth"})
		})
	})

	r := chi.NewRouter()
	h.Routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/stubs", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 from extended route, got %d", rec.Code)
	}
}
