// Package verify asserts on endpoint responses: the result code, the error
// message category, and the shape of the response envelope.
package verify

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/wondertwin-ai/authtwin/internal/dispatch"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrNoResponse is returned when an assertion runs before any dispatch.
var ErrNoResponse = errors.New("no response to verify")

// MismatchError carries both sides of a failed assertion.
type MismatchError struct {
	What     string
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: expected %q, got %q", e.What, e.Expected, e.Actual)
}

var (
	envelopeOnce   sync.Once
	envelopeSchema *gojsonschema.Schema
	envelopeErr    error
)

func loadEnvelopeSchema() (*gojsonschema.Schema, error) {
	envelopeOnce.Do(func() {
		data, err := schemaFS.ReadFile("schemas/response.json")
		if err != nil {
			envelopeErr = err
			return
		}
		envelopeSchema, envelopeErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	})
	return envelopeSchema, envelopeErr
}

// ValidateEnvelope checks that the body is a {"result","message"} envelope:
// result is OK or ERROR, and ERROR carries a message.
func ValidateEnvelope(resp *dispatch.Response) error {
	if resp == nil {
		return ErrNoResponse
	}
	schema, err := loadEnvelopeSchema()
	if err != nil {
		return fmt.Errorf("loading envelope schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return fmt.Errorf("response body is not JSON: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid response envelope: %s", strings.Join(msgs, "; "))
}

// ExpectResult compares the response's result field with expected.
func ExpectResult(resp *dispatch.Response, expected string) error {
	if resp == nil {
		return ErrNoResponse
	}
	actual := resp.Result()
	if actual == expected {
		return nil
	}
	if actual == "" {
		if err := ValidateEnvelope(resp); err != nil {
			actual = fmt.Sprintf("<%v; status %d>", err, resp.StatusCode)
		}
	}
	return &MismatchError{What: "result", Expected: expected, Actual: actual}
}

// ExpectMessagePresent requires a non-blank message field.
func ExpectMessagePresent(resp *dispatch.Response) error {
	if resp == nil {
		return ErrNoResponse
	}
	msg, ok := resp.Message()
	if !ok || strings.TrimSpace(msg) == "" {
		return &MismatchError{What: "message", Expected: "<present>", Actual: "<absent>"}
	}
	return nil
}

// ExpectErrorCategory requires the message to fall into category. Only the
// body is inspected; the endpoint answers HTTP 200 for both results.
func ExpectErrorCategory(resp *dispatch.Response, category Category) error {
	if resp == nil {
		return ErrNoResponse
	}
	msg, ok := resp.Message()
	if !ok {
		return &MismatchError{What: "message", Expected: string(category), Actual: "<absent>"}
	}
	if !category.Matches(msg) {
		return &MismatchError{What: "error category", Expected: string(category), Actual: msg}
	}
	return nil
}
