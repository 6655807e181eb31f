package mockbackend

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wondertwin-ai/authtwin/internal/metrics"
	"github.com/wondertwin-ai/authtwin/internal/token"
	"github.com/wondertwin-ai/authtwin/pkg/admin"
	"github.com/wondertwin-ai/authtwin/pkg/twincore"
)

// Server hosts the upstream double and its admin plane.
type Server struct {
	twin  *twincore.Twin
	stubs *Stubs
}

// NewServer builds the double on top of a twin server.
func NewServer(cfg *twincore.Config, logger *slog.Logger) *Server {
	s := &Server{
		twin:  twincore.New(cfg, logger),
		stubs: NewStubs(),
	}

	r := s.twin.Router
	r.Post(string(Auth), s.handleUpstream(Auth))
	r.Post(string(DoAction), s.handleUpstream(DoAction))
	r.Handle("/metrics", metrics.Handler())

	h := admin.NewHandler(s.stubs, s.twin.Middleware())
	h.Extend(func(r chi.Router) {
		r.Post("/stubs", s.handleProgram)
		r.Get("/stubs", s.handleListStubs)
	})
	h.Routes(r)

	return s
}

// Stubs returns the rule table served by s.
func (s *Server) Stubs() *Stubs { return s.stubs }

// Controller returns an in-process controller for s.
func (s *Server) Controller() *Local {
	return NewLocal(s.stubs, s.twin.Logger)
}

// Twin exposes the underlying twin (request log, router).
func (s *Server) Twin() *twincore.Twin { return s.twin }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.twin.ServeHTTP(w, r)
}

// Serve listens on the configured port until ctx is done.
func (s *Server) Serve(ctx context.Context) error { return s.twin.Serve(ctx) }

// ServeListener serves on ln until ctx is done.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	return s.twin.ServeListener(ctx, ln)
}

func (s *Server) handleUpstream(endpoint Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			twincore.Error(w, http.StatusBadRequest, "failed to read body")
			return
		}

		// Rules match the exact body "token=<value>".
		body := string(raw)
		tok, ok := strings.CutPrefix(body, "token=")
		var stub Stub
		if ok {
			stub, ok = s.stubs.Match(endpoint, tok)
		}
		metrics.UpstreamRequestsTotal.WithLabelValues(string(endpoint), boolLabel(ok)).Inc()

		if !ok {
			s.twin.Logger.Debug("no stub matched", "endpoint", endpoint, "token", token.Mask(tok))
			twincore.Error(w, http.StatusNotFound, "no stub matched")
			return
		}

		s.twin.Logger.Debug("stub matched", "endpoint", endpoint, "token", token.Mask(tok), "status", stub.Status)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(stub.Status)
		io.WriteString(w, stub.Body)
	}
}

// programRequest is the body of POST /admin/stubs.
type programRequest struct {
	Endpoint string `json:"endpoint"`
	Token    string `json:"token"`
	Outcome  string `json:"outcome"`
}

func (s *Server) handleProgram(w http.ResponseWriter, r *http.Request) {
	var req programRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		twincore.Error(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	endpoint, err := ParseEndpoint(req.Endpoint)
	if err != nil {
		twincore.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome, err := ParseOutcome(req.Outcome)
	if err != nil {
		twincore.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Token == "" {
		twincore.Error(w, http.StatusBadRequest, "token is required")
		return
	}

	stub, err := NewStub(endpoint, req.Token, outcome)
	if err != nil {
		twincore.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	replaced := s.stubs.Program(stub)
	s.twin.Logger.Info("stub programmed", "endpoint", endpoint, "token", token.Mask(req.Token), "outcome", outcome, "replaced", replaced)

	status := http.StatusCreated
	if replaced {
		status = http.StatusOK
	}
	twincore.JSON(w, status, stub)
}

func (s *Server) handleListStubs(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, s.stubs.List())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
