package querycache

// Observer is a mounted consumer of one key, e.g. a visible list.
type Observer struct {
	cache   *Cache
	key     Key
	ks      string
	updates chan struct{}
	closed  bool // guarded by cache.mu
}

// Key returns the observed key.
func (o *Observer) Key() Key { return o.key }

// Data returns the latest value. ok is false until the first successful fetch.
func (o *Observer) Data() (data any, ok bool) {
	o.cache.mu.Lock()
	defer o.cache.mu.Unlock()

	e, exists := o.cache.entries[o.ks]
	if !exists || o.closed {
		return nil, false
	}
	return e.data, e.hasData
}

// Err returns the error of the last background fetch, nil after a success.
func (o *Observer) Err() error {
	o.cache.mu.Lock()
	defer o.cache.mu.Unlock()

	if e, exists := o.cache.entries[o.ks]; exists && !o.closed {
		return e.err
	}
	return nil
}

// Updates signals when the observed entry changed. The channel is closed
// when the observer or the cache is closed.
func (o *Observer) Updates() <-chan struct{} { return o.updates }

// Close unmounts the observer. The entry stays cached but unobserved.
func (o *Observer) Close() {
	o.cache.mu.Lock()
	defer o.cache.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	if e, ok := o.cache.entries[o.ks]; ok {
		delete(e.observers, o)
	}
	close(o.updates)
}

// signal performs a non-blocking notify. Caller holds cache.mu.
func (o *Observer) signal() {
	if o.closed {
		return
	}
	select {
	case o.updates <- struct{}{}:
	default:
	}
}
