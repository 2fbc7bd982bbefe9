// Package events carries queue changes out of the request path: to the live
// websocket board and, when configured, to a Kafka topic for downstream
// consumers (display screens, SMS gateway, analytics).
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Event is one change notification. Topic is the websocket routing topic;
// Key groups related events so consumers see them in order.
type Event struct {
	Type         string          `json:"type"`
	Topic        string          `json:"topic"`
	Key          string          `json:"key,omitempty"`
	TenantID     string          `json:"tenantId,omitempty"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error { return f(ctx, event) }

// Fanout publishes every event to all of its publishers. Every publisher is
// attempted; the returned error joins the individual failures.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BestEffort wraps a publisher so failures are logged and swallowed. Queue
// writes are already committed when events go out, so a broker outage must
// not fail the request.
func BestEffort(p Publisher, logger zerolog.Logger) Publisher {
	return PublisherFunc(func(ctx context.Context, event Event) error {
		if err := p.Publish(ctx, event); err != nil {
			logger.Warn().Err(err).
				Str("event_type", event.Type).
				Str("resource_id", event.ResourceID).
				Msg("event publish failed")
		}
		return nil
	})
}
