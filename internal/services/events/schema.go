// -----------------------------------------------------------------------
// Event Schema Registry - typed payload validation at the bus boundary
// -----------------------------------------------------------------------

package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/models"
)

// SchemaError indicates an event payload failed validation. Publish is
// aborted, no handler runs, no job record is touched.
type SchemaError struct {
	Event interfaces.EventName
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid payload for event %s: %v", e.Event, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// Registry maps event names to payload decoders. Pure validation, no side
// effects. Decoders are declared once at process start; re-registering a name
// replaces the prior decoder.
type Registry struct {
	decoders map[interfaces.EventName]func(raw []byte) (interface{}, error)
	mu       sync.RWMutex
}

// NewRegistry creates a schema registry with the job-lifecycle event schemas
// pre-registered
func NewRegistry() *Registry {
	r := &Registry{
		decoders: make(map[interfaces.EventName]func(raw []byte) (interface{}, error)),
	}

	validate := validator.New()

	r.Register(interfaces.EventWebsiteContentStart, DecodeAs[models.WebsiteContentStart](validate))
	r.Register(interfaces.EventWebsiteContentEnd, DecodeAs[models.WebsiteContentEnd](validate))
	r.Register(interfaces.EventGithubRepoStart, DecodeAs[models.GithubRepoStart](validate))
	r.Register(interfaces.EventGithubRepoEnd, DecodeAs[models.GithubRepoEnd](validate))
	// Submission-time scrape reuses the github-repo start schema
	r.Register(interfaces.EventAppsSubmissionStart, DecodeAs[models.GithubRepoStart](validate))

	return r
}

// Register associates a name with a decoder (last-write-wins)
func (r *Registry) Register(name interfaces.EventName, decode func(raw []byte) (interface{}, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[name] = decode
}

// Decode validates and decodes a payload for the named event. The payload may
// be raw JSON bytes, a typed struct, or a generic map; anything that is not
// already bytes is round-tripped through JSON before decoding. Unknown event
// names and malformed payloads fail closed with *SchemaError.
func (r *Registry) Decode(name interfaces.EventName, payload interface{}) (interface{}, error) {
	r.mu.RLock()
	decode, ok := r.decoders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &SchemaError{Event: name, Err: fmt.Errorf("no schema registered")}
	}

	raw, err := payloadBytes(payload)
	if err != nil {
		return nil, &SchemaError{Event: name, Err: err}
	}

	decoded, err := decode(raw)
	if err != nil {
		return nil, &SchemaError{Event: name, Err: err}
	}
	return decoded, nil
}

// DecodeAs builds a decoder for payload type T: strict JSON unmarshal followed
// by struct-tag validation. Mistyped or missing required fields fail; no
// silent coercion beyond primitive JSON parsing.
func DecodeAs[T any](validate *validator.Validate) func(raw []byte) (interface{}, error) {
	return func(raw []byte) (interface{}, error) {
		var payload T

		dec := json.NewDecoder(bytes.NewReader(raw))
		if err := dec.Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode failed: %w", err)
		}

		if err := validate.Struct(&payload); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}

		return &payload, nil
	}
}

func payloadBytes(payload interface{}) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return nil, fmt.Errorf("payload is nil")
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal failed: %w", err)
		}
		return raw, nil
	}
}
