// Package events announces content lifecycle outcomes on Pub/Sub. Delivery
// is best effort: the pipeline's source of truth is the database, and a
// missed announcement never blocks or fails a publish.
package events

import (
	"context"
	"encoding/json"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/postpilot-hq/postpilot-backend/pkg/enums"
	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
)

const publishWait = 5 * time.Second

// Event is the envelope published for every terminal lifecycle outcome.
type Event struct {
	Type           enums.ContentEventType `json:"type"`
	ContentID      uuid.UUID              `json:"content_id"`
	UserID         uuid.UUID              `json:"user_id"`
	ExternalPostID string                 `json:"external_post_id,omitempty"`
	ErrorKind      string                 `json:"error_kind,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
}

// Announcer fans lifecycle events out to the content events topic.
type Announcer struct {
	publisher *pubsub.Publisher
	logg      *logger.Logger
}

// NewAnnouncer wraps a topic publisher. A nil publisher yields a no-op
// announcer, which keeps the worker usable without Pub/Sub configured.
func NewAnnouncer(publisher *pubsub.Publisher, logg *logger.Logger) *Announcer {
	return &Announcer{publisher: publisher, logg: logg}
}

// Announce publishes the event and waits briefly for the server ack.
func (a *Announcer) Announce(ctx context.Context, event Event) {
	if a == nil || a.publisher == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		a.logg.Error(ctx, "failed to encode lifecycle event", err)
		return
	}

	result := a.publisher.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"type":       string(event.Type),
			"content_id": event.ContentID.String(),
		},
	})

	waitCtx, cancel := context.WithTimeout(ctx, publishWait)
	defer cancel()
	if _, err := result.Get(waitCtx); err != nil {
		a.logg.Warn(a.logg.WithFields(ctx, map[string]any{
			"event_type": event.Type,
			"content_id": event.ContentID,
			"error":      err.Error(),
		}), "lifecycle event not acknowledged")
	}
}
