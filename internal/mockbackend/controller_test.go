package mockbackend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wondertwin-ai/authtwin/pkg/twincore"
)

func TestRemoteProgramsAndResets(t *testing.T) {
	s := NewServer(&twincore.Config{Name: "mock"}, twincore.NewLogger(io.Discard, false))
	srv := httptest.NewServer(s)
	defer srv.Close()

	ctx := context.Background()
	r := NewRemote(srv.URL + "/")

	ok, body := r.Health(ctx)
	assert.True(t, ok)
	assert.Contains(t, body, "ok")

	require.NoError(t, r.ProgramAuth(ctx, tok, Error))
	require.NoError(t, r.ProgramAction(ctx, tok, Success))

	stub, found := s.Stubs().Match(Auth, tok)
	require.True(t, found)
	assert.Equal(t, http.StatusInternalServerError, stub.Status)

	require.NoError(t, r.Reset(ctx))
	assert.Empty(t, s.Stubs().List())
}

func TestRemoteSurfacesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL)
	err := r.ProgramAuth(context.Background(), tok, Success)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	ok, _ := r.Health(context.Background())
	assert.False(t, ok)

	assert.Error(t, NewRemote("http://127.0.0.1:1").Reset(context.Background()))
}

func TestDisabledIsNoop(t *testing.T) {
	var c Controller = Disabled{}
	ctx := context.Background()
	assert.NoError(t, c.ProgramAuth(ctx, tok, Error))
	assert.NoError(t, c.ProgramAction(ctx, tok, Error))
	assert.NoError(t, c.Reset(ctx))
}
