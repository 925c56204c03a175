package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/interfaces"
)

// NewLoggerSubscriber returns a handler that logs every event it receives.
// Subscribed to the end events so job outcomes show up in the system log
// without any UI attached.
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logger.Info().
			Str("event", string(event.Name)).
			Str("payload", fmt.Sprintf("%v", event.Payload)).
			Msg("Event observed")
		return nil
	}
}

// SubscribeLoggerToEndEvents attaches the logging subscriber to all
// job-lifecycle end events
func SubscribeLoggerToEndEvents(service interfaces.EventService, logger arbor.ILogger) {
	subscriber := NewLoggerSubscriber(logger)
	for _, name := range []interfaces.EventName{
		interfaces.EventWebsiteContentEnd,
		interfaces.EventGithubRepoEnd,
	} {
		if err := service.Subscribe(name, subscriber); err != nil {
			logger.Warn().Err(err).Str("event", string(name)).Msg("Failed to subscribe logger")
		}
	}
}
