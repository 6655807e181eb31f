package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wondertwin-ai/authtwin/internal/report"
)

const (
	goodKey = "A94F2C7D8E1B4A6F9C3D2E5B8A7F1C0D"
	badKey  = "wrong-key"
)

type seenRequest struct {
	key    string
	form   map[string][]string
	hasTok bool
	hasAct bool
}

// keyServer answers 401 unless the request carries goodKey.
type keyServer struct {
	mu   sync.Mutex
	seen []seenRequest
}

func (s *keyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	s.mu.Lock()
	_, hasTok := r.PostForm["token"]
	_, hasAct := r.PostForm["action"]
	s.seen = append(s.seen, seenRequest{key: r.Header.Get(APIKeyHeader), form: r.PostForm, hasTok: hasTok, hasAct: hasAct})
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.Header.Get(APIKeyHeader) != goodKey {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"result":"ERROR","message":"Missing or invalid API Key"}`)
		return
	}
	io.WriteString(w, `{"result":"OK"}`)
}

func (s *keyServer) requests() []seenRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]seenRequest(nil), s.seen...)
}

func newTestDispatcher(t *testing.T, h http.Handler, fallback string) *Dispatcher {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/endpoint", fallback, 2*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDispatchSendsHeadersAndParams(t *testing.T) {
	ks := &keyServer{}
	d := newTestDispatcher(t, ks, goodKey)
	rec := report.NewRecorder()

	out, err := d.Dispatch(context.Background(), Call{
		Credentials: NewCredentials(goodKey),
		AutoFix:     true,
		Report:      report.Scoped{Scenario: "login", Sink: rec},
		Action:      Ptr(ActionLogin),
		Token:       Ptr("0123456789ABCDEF0123456789ABCDEF"),
	})
	require.NoError(t, err)

	assert.Equal(t, ResultOK, out.Response.Result())
	assert.False(t, out.Retried)
	assert.True(t, out.Record.IsLoginFor("0123456789ABCDEF0123456789ABCDEF"))

	seen := ks.requests()
	require.Len(t, seen, 1)
	assert.Equal(t, "LOGIN", seen[0].form["action"][0])
	assert.Equal(t, "0123456789ABCDEF0123456789ABCDEF", seen[0].form["token"][0])

	assert.Len(t, rec.Named("Request"), 1)
	assert.Len(t, rec.Named("Response"), 1)
	assert.Equal(t, "200", rec.Named("Status code")[0].Body)
	assert.NotContains(t, rec.Named("Request")[0].Body, goodKey, "api key is masked")
}

func TestDispatchOmitsAbsentParams(t *testing.T) {
	tok := Ptr("0123456789ABCDEF0123456789ABCDEF")
	act := Ptr(ActionDo)
	tests := []struct {
		name           string
		action, token  *string
		wantAct, wantT bool
	}{
		{"both", act, tok, true, true},
		{"token only", nil, tok, false, true},
		{"action only", act, nil, true, false},
		{"neither", nil, nil, false, false},
		{"empty token is sent", act, Ptr(""), true, true},
		{"empty action is sent", Ptr(""), tok, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ks := &keyServer{}
			d := newTestDispatcher(t, ks, goodKey)

			_, err := d.Dispatch(context.Background(), Call{
				Credentials: NewCredentials(goodKey),
				Action:      tt.action,
				Token:       tt.token,
			})
			require.NoError(t, err)

			seen := ks.requests()
			require.Len(t, seen, 1)
			assert.Equal(t, tt.wantAct, seen[0].hasAct)
			assert.Equal(t, tt.wantT, seen[0].hasTok)
			if tt.token != nil {
				assert.Equal(t, []string{*tt.token}, seen[0].form["token"])
			}
			if tt.action != nil {
				assert.Equal(t, []string{*tt.action}, seen[0].form["action"])
			}
		})
	}
}

func TestDispatchRetriesOnceWithFallbackKey(t *testing.T) {
	ks := &keyServer{}
	d := newTestDispatcher(t, ks, goodKey)
	rec := report.NewRecorder()
	creds := NewCredentials(badKey)

	out, err := d.Dispatch(context.Background(), Call{
		Credentials: creds,
		AutoFix:     true,
		Report:      report.Scoped{Sink: rec},
		Action:      Ptr(ActionLogin),
		Token:       Ptr("0123456789ABCDEF0123456789ABCDEF"),
	})
	require.NoError(t, err)

	assert.True(t, out.Retried)
	assert.True(t, out.KeySwitched)
	assert.Equal(t, ResultOK, out.Response.Result())
	assert.Equal(t, goodKey, creds.APIKey(), "fallback key stays active")

	seen := ks.requests()
	require.Len(t, seen, 2)
	assert.Equal(t, badKey, seen[0].key)
	assert.Equal(t, goodKey, seen[1].key)
	assert.Equal(t, seen[0].form, seen[1].form, "retry re-issues the identical request")

	assert.Len(t, rec.Named("Auto-fix API Key"), 1)
	assert.Len(t, rec.Named("Retry response"), 1)
	assert.Equal(t, "200", rec.Named("Retry status")[0].Body)
}

func TestDispatchRetryBound(t *testing.T) {
	// Every request is rejected, the fallback key included.
	var calls int
	var mu sync.Mutex
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"result":"ERROR","message":"Missing or invalid API Key"}`)
	})
	d := newTestDispatcher(t, h, goodKey)

	out, err := d.Dispatch(context.Background(), Call{
		Credentials: NewCredentials(badKey),
		AutoFix:     true,
		Action:      Ptr(ActionLogin),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "at most one retry")
	assert.True(t, out.Retried)
	assert.Equal(t, http.StatusUnauthorized, out.Response.StatusCode, "retried response is the result")
}

func TestDispatchAutoFixDisabled(t *testing.T) {
	ks := &keyServer{}
	d := newTestDispatcher(t, ks, goodKey)
	rec := report.NewRecorder()
	creds := NewCredentials(badKey)

	out, err := d.Dispatch(context.Background(), Call{
		Credentials: creds,
		AutoFix:     false,
		Report:      report.Scoped{Sink: rec},
		Action:      Ptr(ActionLogin),
	})
	require.NoError(t, err)

	assert.False(t, out.Retried)
	assert.Equal(t, http.StatusUnauthorized, out.Response.StatusCode)
	assert.Equal(t, badKey, creds.APIKey(), "credentials untouched in negative mode")
	assert.Len(t, ks.requests(), 1)
	assert.Len(t, rec.Named("Auto-fix API Key skipped"), 1)
}

func TestDispatchNoRetryWhenFallbackAlreadyActive(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	var calls int
	counted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		h(w, r)
	})
	d := newTestDispatcher(t, counted, goodKey)

	out, err := d.Dispatch(context.Background(), Call{
		Credentials: NewCredentials(goodKey),
		AutoFix:     true,
	})
	require.NoError(t, err)
	assert.False(t, out.Retried)
	assert.Equal(t, 1, calls)
}

func TestDispatchTransportError(t *testing.T) {
	d := New("http://127.0.0.1:1/endpoint", goodKey, time.Second, nil)
	rec := report.NewRecorder()

	_, err := d.Dispatch(context.Background(), Call{
		Credentials: NewCredentials(goodKey),
		Report:      report.Scoped{Sink: rec},
		Action:      Ptr(ActionLogin),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Len(t, rec.Named("Request error"), 1)
}

func TestDispatchTimeout(t *testing.T) {
	release := make(chan struct{})
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	d := New(srv.URL, goodKey, 50*time.Millisecond, nil)
	_, err := d.Dispatch(context.Background(), Call{Credentials: NewCredentials(goodKey)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestGetProbe(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/", r.URL.Path)
		assert.Equal(t, goodKey, r.Header.Get(APIKeyHeader))
		w.WriteHeader(http.StatusNotFound)
	})
	d := newTestDispatcher(t, h, goodKey)

	resp, err := d.Get(context.Background(), NewCredentials(goodKey), "/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
