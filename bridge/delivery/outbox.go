package delivery

import "sync"

// Outbox accumulates the outbound payloads of one step, newest value per key,
// and hands them to the bus in first-insertion order.
type Outbox[K comparable, V any] struct {
	mu     sync.Mutex
	keys   []K
	values map[K]V
}

// NewOutbox returns an empty outbox.
func NewOutbox[K comparable, V any]() *Outbox[K, V] {
	return &Outbox[K, V]{values: make(map[K]V)}
}

// Put stores v under key and reports whether it replaced an earlier value.
func (o *Outbox[K, V]) Put(key K, v V) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, replaced := o.values[key]
	if !replaced {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
	return replaced
}

// Len returns the number of queued keys.
func (o *Outbox[K, V]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.keys)
}

// Flush empties the outbox, calling send for every queued value. Flushing
// stops at the first error; entries not yet sent are dropped.
func (o *Outbox[K, V]) Flush(send func(K, V) error) error {
	o.mu.Lock()
	keys, values := o.keys, o.values
	o.keys, o.values = nil, make(map[K]V)
	o.mu.Unlock()

	for _, k := range keys {
		if err := send(k, values[k]); err != nil {
			return err
		}
	}
	return nil
}
