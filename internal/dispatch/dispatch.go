// Package dispatch sends action/token requests to the endpoint under test and
// applies the API-key fallback policy: a request rejected for its key is
// re-issued once with the configured fallback key when auto-fix is enabled.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wondertwin-ai/authtwin/internal/metrics"
	"github.com/wondertwin-ai/authtwin/internal/report"
	"github.com/wondertwin-ai/authtwin/internal/token"
)

// ErrTransport marks a dispatch that produced no HTTP response.
var ErrTransport = errors.New("transport failure")

// Action names understood by the endpoint.
const (
	ActionLogin  = "LOGIN"
	ActionDo     = "ACTION"
	ActionLogout = "LOGOUT"
)

// Record is the (action, token) pair of the most recent dispatch. Nil means
// the parameter was omitted.
type Record struct {
	Action *string
	Token  *string
}

// IsLoginFor reports whether the record is a LOGIN sent with tok.
func (r Record) IsLoginFor(tok string) bool {
	return r.Action != nil && *r.Action == ActionLogin && r.Token != nil && *r.Token == tok
}

// Call describes one dispatch.
type Call struct {
	Credentials *Credentials
	// AutoFix enables the single fallback retry on an invalid-key response.
	AutoFix bool
	Report  report.Scoped
	Action  *string
	Token   *string
}

// Outcome is the result of a dispatch.
type Outcome struct {
	Response *Response
	// Retried is set when the request was re-issued with the fallback key.
	Retried bool
	// KeySwitched is set when the fallback key replaced the active key.
	KeySwitched bool
	Record      Record
}

// Dispatcher posts form requests to a single endpoint URL.
type Dispatcher struct {
	client      *http.Client
	url         string
	fallbackKey string
	logger      *slog.Logger
}

// New creates a Dispatcher for endpointURL. Every request is bounded by
// timeout.
func New(endpointURL, fallbackKey string, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		client:      &http.Client{Timeout: timeout},
		url:         endpointURL,
		fallbackKey: fallbackKey,
		logger:      logger,
	}
}

// URL returns the endpoint URL requests are sent to.
func (d *Dispatcher) URL() string { return d.url }

// Dispatch sends the call, applying the fallback policy at most once.
// A transport failure on either attempt is returned wrapped in ErrTransport.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (*Outcome, error) {
	out := &Outcome{Record: Record{Action: call.Action, Token: call.Token}}
	log := d.logger.With("scenario", call.Report.Scenario, "action", display(call.Action), "token", maskPtr(call.Token))

	resp, err := d.send(ctx, call)
	if err != nil {
		call.Report.Textf("Request error", "%v", err)
		return nil, err
	}

	if IsInvalidAPIKey(resp) {
		if d.applyFallback(call, out, log) {
			resp, err = d.send(ctx, call)
			if err != nil {
				call.Report.Textf("Request error", "%v", err)
				return nil, err
			}
			out.Retried = true
			metrics.APIKeyRetriesTotal.Inc()
			call.Report.JSON("Retry response", string(resp.Body))
			call.Report.Text("Retry status", strconv.Itoa(resp.StatusCode))
		}
	}
	out.Response = resp

	call.Report.Text("Request", fmt.Sprintf(
		"URL: %s\nMethod: POST\nHeaders: %s\nParams: action=%s, token=%s\napiKeyAutoFixEnabled=%t",
		d.url, call.Credentials, display(call.Action), maskPtr(call.Token), call.AutoFix))
	call.Report.JSON("Response", string(resp.Body))
	call.Report.Text("Status code", strconv.Itoa(resp.StatusCode))

	metrics.DispatchesTotal.WithLabelValues(metrics.ActionLabel(call.Action), resultLabel(resp)).Inc()
	log.Info("dispatch", "status", resp.StatusCode, "result", resp.Result(), "retried", out.Retried)
	return out, nil
}

// applyFallback decides whether the invalid-key response may be retried and,
// if so, swaps the active key for the fallback key.
func (d *Dispatcher) applyFallback(call Call, out *Outcome, log *slog.Logger) bool {
	current := call.Credentials.APIKey()
	if !call.AutoFix {
		call.Report.Textf("Auto-fix API Key skipped",
			"Reason: invalid API key response\napiKeyAutoFixEnabled=false (negative test mode)\nCurrent %s: %s",
			APIKeyHeader, token.Mask(current))
		log.Info("auto-fix skipped", "reason", "disabled")
		return false
	}
	if d.fallbackKey == "" || d.fallbackKey == current {
		call.Report.Textf("Auto-fix API Key skipped",
			"Reason: invalid API key response\nfallback key is empty or already active\nCurrent %s: %s",
			APIKeyHeader, token.Mask(current))
		log.Info("auto-fix skipped", "reason", "fallback already active")
		return false
	}

	call.Credentials.SetAPIKey(d.fallbackKey)
	out.KeySwitched = true
	call.Report.Textf("Auto-fix API Key",
		"Reason: invalid API key response\nSwitched %s from: %s\nTo fallback key: %s",
		APIKeyHeader, token.Mask(current), token.Mask(d.fallbackKey))
	log.Info("auto-fix api key", "from", token.Mask(current), "to", token.Mask(d.fallbackKey))
	return true
}

func (d *Dispatcher) send(ctx context.Context, call Call) (*Response, error) {
	// Nil omits the parameter; an empty value is still sent.
	form := url.Values{}
	if call.Token != nil {
		form.Set("token", *call.Token)
	}
	if call.Action != nil {
		form.Set("action", *call.Action)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	call.Credentials.Apply(req)

	return d.do(req)
}

// Get issues a GET to path on the endpoint's host with the scenario's
// headers. Used by the availability probe.
func (d *Dispatcher) Get(ctx context.Context, creds *Credentials, path string) (*Response, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint url: %w", err)
	}
	u.Path = path
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	creds.Apply(req)
	return d.do(req)
}

func (d *Dispatcher) do(req *http.Request) (*Response, error) {
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body, Header: resp.Header}, nil
}

func resultLabel(r *Response) string {
	switch r.Result() {
	case ResultOK:
		return "OK"
	case ResultError:
		return "ERROR"
	default:
		return "none"
	}
}

func display(p *string) string {
	if p == nil {
		return "null"
	}
	return *p
}

func maskPtr(p *string) string {
	if p == nil {
		return "null"
	}
	return token.Mask(*p)
}

// Ptr returns a pointer to s, for building optional parameters.
func Ptr(s string) *string { return &s }
