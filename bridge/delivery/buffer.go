package delivery

import (
	"container/heap"
	"fmt"
	"sync"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
)

// Policy decides what happens to a message stamped after the next step.
type Policy int

const (
	// RejectFuture fails the insert with errors.ErrFutureMessage.
	RejectFuture Policy = iota
	// DeferFuture parks the message until its step arrives.
	DeferFuture
)

func (p Policy) String() string {
	if p == DeferFuture {
		return "defer-future"
	}
	return "reject-future"
}

// Item is one drained message.
type Item[K comparable, V any] struct {
	Timestamp float64
	Key       K
	Value     V
}

// Observer receives buffer activity. All methods are called with the
// buffer's lock held and must not call back into the buffer.
type Observer interface {
	Received(channel string)
	Superseded(channel string)
	Discarded(channel string)
	Delivered(channel string, n int)
	Depth(channel string, buckets int)
}

type nopObserver struct{}

func (nopObserver) Received(string)       {}
func (nopObserver) Superseded(string)     {}
func (nopObserver) Discarded(string)      {}
func (nopObserver) Delivered(string, int) {}
func (nopObserver) Depth(string, int)     {}

type bucket[K comparable, V any] struct {
	ts     float64
	keys   []K
	values map[K]V
}

func (b *bucket[K, V]) put(key K, v V) (superseded bool) {
	if _, ok := b.values[key]; ok {
		superseded = true
	} else {
		b.keys = append(b.keys, key)
	}
	b.values[key] = v
	return superseded
}

// bucketQueue implements heap.Interface and orders buckets by timestamp.
type bucketQueue[K comparable, V any] []*bucket[K, V]

func (q bucketQueue[K, V]) Len() int           { return len(q) }
func (q bucketQueue[K, V]) Less(i, j int) bool { return q[i].ts < q[j].ts }
func (q bucketQueue[K, V]) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *bucketQueue[K, V]) Push(x any) {
	*q = append(*q, x.(*bucket[K, V]))
}

func (q *bucketQueue[K, V]) Pop() any {
	old := *q
	n := len(old)
	b := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return b
}

// stage is a timestamp-ordered set of buckets with lookup by timestamp.
type stage[K comparable, V any] struct {
	queue bucketQueue[K, V]
	byTS  map[float64]*bucket[K, V]
}

func newStage[K comparable, V any]() stage[K, V] {
	return stage[K, V]{byTS: make(map[float64]*bucket[K, V])}
}

func (s *stage[K, V]) bucket(ts float64) *bucket[K, V] {
	b, ok := s.byTS[ts]
	if !ok {
		b = &bucket[K, V]{ts: ts, values: make(map[K]V)}
		s.byTS[ts] = b
		heap.Push(&s.queue, b)
	}
	return b
}

func (s *stage[K, V]) peek() *bucket[K, V] {
	if len(s.queue) == 0 {
		return nil
	}
	return s.queue[0]
}

func (s *stage[K, V]) pop() *bucket[K, V] {
	b := heap.Pop(&s.queue).(*bucket[K, V])
	delete(s.byTS, b.ts)
	return b
}

func (s *stage[K, V]) adopt(b *bucket[K, V]) {
	s.byTS[b.ts] = b
	heap.Push(&s.queue, b)
}

// Buffer collects timestamped inbound messages for one channel and releases
// them aligned to simulation steps.
//
// Inserts come from bus callbacks and drains from the stepping goroutine;
// both take the buffer's mutex, so an insert never interleaves with a drain.
// The stepping window is passed into every call and never stored.
type Buffer[K comparable, V any] struct {
	name         string
	policy       Policy
	synchronized bool
	observer     Observer

	mu         sync.Mutex
	ready      stage[K, V]
	future     stage[K, V]
	terminated bool
}

// Option configures a Buffer.
type Option func(*options)

type options struct {
	unsynchronized bool
	observer       Observer
}

// Unsynchronized stores every message at timestamp 0 and releases it on the
// next drain, whatever its timestamp.
func Unsynchronized() Option {
	return func(o *options) { o.unsynchronized = true }
}

// WithObserver reports buffer activity to obs.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// NewBuffer returns an empty buffer for the named channel.
func NewBuffer[K comparable, V any](name string, policy Policy, opts ...Option) *Buffer[K, V] {
	o := options{observer: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	return &Buffer[K, V]{
		name:         name,
		policy:       policy,
		synchronized: !o.unsynchronized,
		observer:     o.observer,
		ready:        newStage[K, V](),
		future:       newStage[K, V](),
	}
}

// Name returns the channel name.
func (b *Buffer[K, V]) Name() string {
	return b.name
}

// Insert buffers value under key at timestamp ts. After Terminate the
// message is dropped silently.
func (b *Buffer[K, V]) Insert(w Window, ts float64, key K, value V) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.terminated {
		b.observer.Discarded(b.name)
		return nil
	}
	b.observer.Received(b.name)

	var target *bucket[K, V]
	switch {
	case !b.synchronized:
		target = b.ready.bucket(0)
	case b.future.byTS[ts] != nil:
		target = b.future.byTS[ts]
	case ts <= w.Next:
		target = b.ready.bucket(ts)
	case b.policy == DeferFuture:
		target = b.future.bucket(ts)
	default:
		b.observer.Discarded(b.name)
		return bridgeerrors.Ordering(b.name, fmt.Errorf("%w: timestamp %g, next step at %g", bridgeerrors.ErrFutureMessage, ts, w.Next))
	}
	if target.put(key, value) {
		b.observer.Superseded(b.name)
	}
	b.observer.Depth(b.name, len(b.ready.queue)+len(b.future.queue))
	return nil
}

// Drain removes and returns every message stamped at or before w.Now, in
// timestamp order. When a key occurs more than once only its newest value is
// returned. Deferred buckets stamped at or before w.Next are then promoted
// so the next drain can release them.
func (b *Buffer[K, V]) Drain(w Window) ([]Item[K, V], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.terminated {
		return nil, fmt.Errorf("drain %s: %w", b.name, bridgeerrors.ErrTerminated)
	}

	var drained []Item[K, V]
	for {
		head := b.ready.peek()
		if head == nil || (b.synchronized && head.ts > w.Now) {
			break
		}
		bk := b.ready.pop()
		for _, k := range bk.keys {
			drained = append(drained, Item[K, V]{Timestamp: bk.ts, Key: k, Value: bk.values[k]})
		}
	}
	items := lastIsBest(drained)
	if n := len(drained) - len(items); n > 0 {
		for i := 0; i < n; i++ {
			b.observer.Superseded(b.name)
		}
	}

	for {
		head := b.future.peek()
		if head == nil || head.ts > w.Next {
			break
		}
		b.ready.adopt(b.future.pop())
	}

	b.observer.Delivered(b.name, len(items))
	b.observer.Depth(b.name, len(b.ready.queue)+len(b.future.queue))
	return items, nil
}

func lastIsBest[K comparable, V any](drained []Item[K, V]) []Item[K, V] {
	last := make(map[K]int, len(drained))
	for i, it := range drained {
		last[it.Key] = i
	}
	if len(last) == len(drained) {
		return drained
	}
	items := make([]Item[K, V], 0, len(last))
	for i, it := range drained {
		if last[it.Key] == i {
			items = append(items, it)
		}
	}
	return items
}

// Pending returns the number of ready and deferred buckets.
func (b *Buffer[K, V]) Pending() (ready, deferred int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ready.queue), len(b.future.queue)
}

// Terminate drops everything buffered. Later inserts are discarded and
// drains fail with errors.ErrTerminated.
func (b *Buffer[K, V]) Terminate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.terminated = true
	b.ready = newStage[K, V]()
	b.future = newStage[K, V]()
}
