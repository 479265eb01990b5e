package changefeed

import (
	"context"
	"log/slog"
	"sync"

	"tuzemoon/internal/observability"
)

// channel is one deduplicated server-side channel and its local handlers.
type channel struct {
	sub      Subscription
	handlers map[uint64]Handler

	joined  chan struct{} // closed once the join attempt finished
	joinErr error
}

// dispatcher ref-counts local subscribers per Subscription.Key. The first
// subscriber joins the underlying channel; the last one to leave releases it.
type dispatcher struct {
	mu       sync.RWMutex
	channels map[string]*channel
	nextID   uint64
	closed   bool
	logger   *slog.Logger
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	return &dispatcher{
		channels: make(map[string]*channel),
		logger:   logger,
	}
}

// subscribe registers h. join is called once per key; leave is called when
// the last handler of the key unsubscribes.
func (d *dispatcher) subscribe(
	ctx context.Context,
	sub Subscription,
	h Handler,
	join func(context.Context, Subscription) error,
	leave func(Subscription),
) (Unsubscribe, error) {
	key := sub.Key()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	d.nextID++
	id := d.nextID

	ch, exists := d.channels[key]
	if !exists {
		ch = &channel{
			sub:      sub,
			handlers: make(map[uint64]Handler),
			joined:   make(chan struct{}),
		}
		d.channels[key] = ch
	}
	ch.handlers[id] = h
	d.mu.Unlock()

	if !exists {
		ch.joinErr = join(ctx, sub)
		if ch.joinErr != nil {
			d.mu.Lock()
			if d.channels[key] == ch {
				delete(d.channels, key)
			}
			d.mu.Unlock()
		}
		close(ch.joined)
		d.reportActive()
	}

	select {
	case <-ch.joined:
	case <-ctx.Done():
		d.remove(key, ch, id, leave)
		return nil, ctx.Err()
	}
	if ch.joinErr != nil {
		return nil, ch.joinErr
	}

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(key, ch, id, leave) })
	}, nil
}

func (d *dispatcher) remove(key string, ch *channel, id uint64, leave func(Subscription)) {
	d.mu.Lock()
	delete(ch.handlers, id)
	last := len(ch.handlers) == 0 && d.channels[key] == ch
	if last {
		delete(d.channels, key)
	}
	d.mu.Unlock()

	if last {
		<-ch.joined
		if ch.joinErr == nil && leave != nil {
			leave(ch.sub)
		}
		d.reportActive()
	}
}

// dispatchKey delivers e to the handlers of one channel.
func (d *dispatcher) dispatchKey(key string, e Event) {
	d.mu.RLock()
	ch, ok := d.channels[key]
	var handlers []Handler
	if ok && !d.closed {
		handlers = snapshot(ch)
	}
	d.mu.RUnlock()

	d.deliver(e, handlers)
}

// dispatchMatching delivers e to every channel whose subscription matches it.
func (d *dispatcher) dispatchMatching(e Event) {
	d.mu.RLock()
	var handlers []Handler
	if !d.closed {
		for _, ch := range d.channels {
			if ch.sub.Collection == e.Collection && ch.sub.Filter.Matches(e) {
				handlers = append(handlers, snapshot(ch)...)
			}
		}
	}
	d.mu.RUnlock()

	d.deliver(e, handlers)
}

func (d *dispatcher) deliver(e Event, handlers []Handler) {
	if len(handlers) == 0 {
		return
	}
	observability.RecordChangeEvent(e.Collection, string(e.Type))
	for _, h := range handlers {
		d.invoke(h, e)
	}
}

// invoke isolates handlers from each other's panics.
func (d *dispatcher) invoke(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("change handler panicked",
				slog.String("collection", e.Collection),
				slog.Any("panic", r),
			)
		}
	}()
	h(e)
}

// resync delivers one EventUnknown to every joined channel. Feeds call it
// after reconnecting, since changes committed during the gap were missed.
func (d *dispatcher) resync() int {
	subs := d.active()
	for _, sub := range subs {
		d.dispatchKey(sub.Key(), Event{Collection: sub.Collection, Type: EventUnknown})
	}
	return len(subs)
}

// active returns the subscriptions of all joined channels.
func (d *dispatcher) active() []Subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()

	subs := make([]Subscription, 0, len(d.channels))
	for _, ch := range d.channels {
		select {
		case <-ch.joined:
			if ch.joinErr == nil {
				subs = append(subs, ch.sub)
			}
		default:
		}
	}
	return subs
}

// close drops all channels. Later subscribes fail with ErrClosed.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.channels = make(map[string]*channel)
	d.mu.Unlock()
	d.reportActive()
}

func (d *dispatcher) reportActive() {
	d.mu.RLock()
	n := len(d.channels)
	d.mu.RUnlock()
	observability.SetActiveChannels(n)
}

func snapshot(ch *channel) []Handler {
	hs := make([]Handler, 0, len(ch.handlers))
	for _, h := range ch.handlers {
		hs = append(hs, h)
	}
	return hs
}
