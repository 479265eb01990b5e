// Package changefeed delivers row-level change notifications for backend
// collections. Events are invalidation signals: consumers re-read the
// collection instead of applying payloads.
package changefeed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrClosed is returned when subscribing on a closed feed.
var ErrClosed = errors.New("changefeed: closed")

// EventType is the kind of row change.
type EventType string

const (
	EventInsert  EventType = "INSERT"
	EventUpdate  EventType = "UPDATE"
	EventDelete  EventType = "DELETE"
	EventUnknown EventType = "UNKNOWN"
)

// ParseEventType maps wire values to EventType. Unrecognized values yield EventUnknown.
func ParseEventType(s string) EventType {
	switch EventType(strings.ToUpper(s)) {
	case EventInsert:
		return EventInsert
	case EventUpdate:
		return EventUpdate
	case EventDelete:
		return EventDelete
	}
	return EventUnknown
}

// Filter is a single column equality predicate, e.g. meme_id=eq.42.
type Filter struct {
	Column string
	Value  string
}

// Eq builds an equality filter.
func Eq(column string, value any) *Filter {
	return &Filter{Column: column, Value: fmt.Sprint(value)}
}

// String renders the filter in the backend's wire form.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

// ParseFilter parses "column=eq.value". An empty string yields nil.
func ParseFilter(s string) (*Filter, error) {
	if s == "" {
		return nil, nil
	}
	col, val, ok := strings.Cut(s, "=eq.")
	if !ok || col == "" {
		return nil, fmt.Errorf("changefeed: unsupported filter %q", s)
	}
	return &Filter{Column: col, Value: val}, nil
}

// Matches reports whether the event's row satisfies the filter.
// A nil filter matches every event.
func (f *Filter) Matches(e Event) bool {
	if f == nil {
		return true
	}
	v, ok := e.Field(f.Column)
	if !ok {
		return false
	}
	return formatValue(v) == f.Value
}

// Subscription identifies a server-side channel: one collection, optional filter.
type Subscription struct {
	Collection string
	Filter     *Filter
}

// Key is the channel identity used for deduplication.
func (s Subscription) Key() string {
	if s.Filter == nil {
		return s.Collection
	}
	return s.Collection + ":" + s.Filter.String()
}

// Event is one row-level change notification.
type Event struct {
	Collection string
	Type       EventType
	Record     map[string]any // new row; nil on DELETE
	OldRecord  map[string]any // previous row or primary key; may be partial
}

// Field returns a column value from Record, falling back to OldRecord.
func (e Event) Field(column string) (any, bool) {
	if v, ok := e.Record[column]; ok && v != nil {
		return v, true
	}
	v, ok := e.OldRecord[column]
	return v, ok && v != nil
}

// Int64 returns a numeric column value. Missing or malformed values report false.
func (e Event) Int64(column string) (int64, bool) {
	v, ok := e.Field(column)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), n == float64(int64(n))
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// Handler receives events for one subscription. Handlers run on the feed's
// delivery goroutine and must not block on the feed itself.
type Handler func(Event)

// Unsubscribe removes a handler. Safe to call more than once.
type Unsubscribe func()

// Feed is a change-feed client.
type Feed interface {
	// Subscribe registers handler for changes on sub. Subscribers to the same
	// (collection, filter) share one underlying channel.
	Subscribe(ctx context.Context, sub Subscription, handler Handler) (Unsubscribe, error)

	// Close releases all channels. Handlers are not called afterwards.
	Close() error
}

func formatValue(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		return n
	}
	return fmt.Sprint(v)
}
