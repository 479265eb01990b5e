package changefeed

import (
	"context"
	"log/slog"
)

// Hub is an in-process Feed. Stores publish committed changes and every
// matching subscriber is called synchronously.
type Hub struct {
	d *dispatcher
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{d: newDispatcher(logger.With(slog.String("component", "changefeed.hub")))}
}

// Subscribe registers handler for changes on sub.
func (h *Hub) Subscribe(ctx context.Context, sub Subscription, handler Handler) (Unsubscribe, error) {
	return h.d.subscribe(ctx, sub, handler, noopJoin, nil)
}

// Publish delivers e to all matching subscribers.
func (h *Hub) Publish(e Event) {
	h.d.dispatchMatching(e)
}

// Notify adapts Publish to the row-change callback used by memory stores.
func (h *Hub) Notify(table, eventType string, record, oldRecord map[string]any) {
	h.Publish(Event{
		Collection: table,
		Type:       ParseEventType(eventType),
		Record:     record,
		OldRecord:  oldRecord,
	})
}

// Close drops all subscribers.
func (h *Hub) Close() error {
	h.d.close()
	return nil
}

func noopJoin(context.Context, Subscription) error { return nil }

var _ Feed = (*Hub)(nil)
