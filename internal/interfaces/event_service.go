package interfaces

import (
	"context"

	"github.com/ternarybob/scrutor/internal/models"
)

// EventName identifies an event on the bus, namespaced as <kind>/<start|end>
type EventName string

const (
	EventWebsiteContentStart EventName = "website-content/start"
	EventWebsiteContentEnd   EventName = "website-content/end"
	EventGithubRepoStart     EventName = "github-repo/start"
	EventGithubRepoEnd       EventName = "github-repo/end"

	// EventAppsSubmissionStart is published by the submission flow before an
	// app row exists; it carries the github-repo start payload.
	EventAppsSubmissionStart EventName = "apps-submission/start"
)

// StartEventFor returns the start event name for a job kind
func StartEventFor(kind models.JobKind) EventName {
	return EventName(string(kind) + "/start")
}

// EndEventFor returns the end event name for a job kind
func EndEventFor(kind models.JobKind) EventName {
	return EventName(string(kind) + "/end")
}

// Event is an immutable message delivered to subscribers. Payload is the
// schema-decoded typed payload for Name, never the raw bytes.
type Event struct {
	Name    EventName
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// SchemaRegistry maps an event name to a payload decoder and rejects
// malformed payloads before they reach a handler
type SchemaRegistry interface {
	// Register associates a name with a decoder; re-registering replaces the
	// prior decoder (last-write-wins)
	Register(name EventName, decode func(raw []byte) (interface{}, error))

	// Decode validates and decodes a raw payload for the named event
	Decode(name EventName, payload interface{}) (interface{}, error)
}

// EventService manages the pub/sub event bus
type EventService interface {
	// Subscribe registers a handler for an event name
	Subscribe(name EventName, handler EventHandler) error

	// Publish validates the payload against the schema registry, then
	// dispatches to all subscribers without waiting for handler completion.
	// Handler failures never propagate back to the publisher.
	Publish(ctx context.Context, name EventName, payload interface{}) error

	// PublishSync publishes and waits for all handlers to complete
	PublishSync(ctx context.Context, name EventName, payload interface{}) error

	// Close shuts down the event service
	Close() error
}
