// Package report is the write-only attachment sink that records what each
// dispatch, retry, mock change, and assertion did during a scenario.
package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Media types used for attachments.
const (
	TextPlain = "text/plain"
	JSON      = "application/json"
)

// Attachment is one free-form blob attached to a scenario report.
type Attachment struct {
	Scenario  string    `json:"scenario"`
	Name      string    `json:"name"`
	MediaType string    `json:"media_type"`
	Body      string    `json:"body"`
	Time      time.Time `json:"time"`
}

// Sink receives attachments. Implementations must be safe for concurrent use.
type Sink interface {
	Attach(a Attachment)
}

// Discard drops every attachment.
var Discard Sink = discard{}

type discard struct{}

func (discard) Attach(Attachment) {}

// Scoped stamps every attachment with a scenario name before forwarding it.
type Scoped struct {
	Scenario string
	Sink     Sink
}

// Text attaches a text/plain blob.
func (s Scoped) Text(name, body string) {
	s.attach(name, TextPlain, body)
}

// Textf attaches a text/plain blob built from a format string.
func (s Scoped) Textf(name, format string, args ...any) {
	s.attach(name, TextPlain, fmt.Sprintf(format, args...))
}

// JSON attaches an application/json blob.
func (s Scoped) JSON(name, body string) {
	s.attach(name, JSON, body)
}

func (s Scoped) attach(name, mediaType, body string) {
	if s.Sink == nil {
		return
	}
	s.Sink.Attach(Attachment{
		Scenario:  s.Scenario,
		Name:      name,
		MediaType: mediaType,
		Body:      body,
		Time:      time.Now(),
	})
}

// Recorder keeps attachments in memory.
type Recorder struct {
	mu          sync.Mutex
	attachments []Attachment
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Attach(a Attachment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attachments = append(r.attachments, a)
}

// All returns a copy of every attachment in arrival order.
func (r *Recorder) All() []Attachment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Attachment, len(r.attachments))
	copy(out, r.attachments)
	return out
}

// Named returns the attachments with the given name.
func (r *Recorder) Named(name string) []Attachment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Attachment
	for _, a := range r.attachments {
		if a.Name == name {
			out = append(out, a)
		}
	}
	return out
}

// LogSink writes each attachment as a debug log line.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Attach(a Attachment) {
	s.Logger.Debug("attachment",
		"scenario", a.Scenario,
		"name", a.Name,
		"media_type", a.MediaType,
		"body", a.Body,
	)
}

// DirSink writes one file per attachment into a results directory, named
// "<uuid>-attachment.<ext>", plus an index line in attachments.jsonl.
type DirSink struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewDirSink creates dir if needed and returns a sink writing into it.
func NewDirSink(dir string, logger *slog.Logger) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating results dir: %w", err)
	}
	return &DirSink{dir: dir, logger: logger}, nil
}

type indexEntry struct {
	Attachment
	Source string `json:"source"`
}

func (s *DirSink) Attach(a Attachment) {
	ext := "txt"
	if a.MediaType == JSON {
		ext = "json"
	}
	name := fmt.Sprintf("%s-attachment.%s", uuid.NewString(), ext)
	if err := os.WriteFile(filepath.Join(s.dir, name), []byte(a.Body), 0o644); err != nil {
		s.logger.Error("writing attachment", "name", a.Name, "err", err)
		return
	}

	line, err := json.Marshal(indexEntry{Attachment: a, Source: name})
	if err != nil {
		s.logger.Error("encoding attachment index", "name", a.Name, "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(s.dir, "attachments.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Error("opening attachment index", "err", err)
		return
	}
	defer f.Close()
	f.Write(append(line, '\n'))
}

// ScenarioResult summarizes one finished scenario.
type ScenarioResult struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Error    string        `json:"error,omitempty"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration_ms"`
}

// ResultWriter is implemented by sinks that persist scenario summaries.
type ResultWriter interface {
	WriteResult(r ScenarioResult) error
}

// WriteResult writes "<id>-result.json" into the results directory.
func (s *DirSink) WriteResult(r ScenarioResult) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	path := filepath.Join(s.dir, r.ID+"-result.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	return nil
}

// Multi fans attachments out to several sinks.
type Multi []Sink

func (m Multi) Attach(a Attachment) {
	for _, s := range m {
		s.Attach(a)
	}
}

// WriteResult forwards to every member that is a ResultWriter and returns the
// first error.
func (m Multi) WriteResult(r ScenarioResult) error {
	var first error
	for _, s := range m {
		if w, ok := s.(ResultWriter); ok {
			if err := w.WriteResult(r); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
