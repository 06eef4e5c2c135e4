package repository

import (
	"context"

	"github.com/bali-nebula/document-repository/internal/document"
)

// eventsBagName is the well-known bag every event is published to,
// per spec.md §4.4.3.
const eventsBagName = "/bali/events/bag/v1"

// PublishEvent is shorthand for PostMessage(eventsBagName, wrap(event)).
func (r *Repository) PublishEvent(ctx context.Context, event document.Document) (document.Citation, error) {
	wrapped := event.Clone()
	if wrapped.Attributes == nil {
		wrapped.Attributes = map[string]interface{}{}
	}
	wrapped.Attributes["$event"] = event.Type
	return r.PostMessage(ctx, eventsBagName, wrapped)
}
