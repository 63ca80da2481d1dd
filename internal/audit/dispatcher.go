package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering behavior.
//
// With DropIfFull a full buffer sheds events instead of blocking the
// request, except events for which Critical returns true: failed sign-in
// steps, lockouts and MFA changes must reach the sink, so those wait for
// room (bounded by the request context).
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	Critical   func(Event) bool
	Now        func() time.Time
}

// Dispatcher asynchronously forwards audit events to a sink on one
// goroutine, preserving emit order.
type Dispatcher struct {
	cfg  Config
	sink Sink
	ch   chan Event
	stop chan struct{}
	wg   sync.WaitGroup

	dropped atomic.Uint64
	mu      sync.Mutex
	byType  map[string]uint64

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher returns nil when cfg.Enabled is false. All methods accept a
// nil *Dispatcher.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		ch:     make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
		byType: make(map[string]uint64),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	ctx := context.Background()
	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(ctx, event)
		case <-d.stop:
			d.flush(ctx)
			return
		}
	}
}

// flush delivers whatever is still buffered after Close.
func (d *Dispatcher) flush(ctx context.Context) {
	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(ctx, event)
		default:
			return
		}
	}
}

// Emit queues event. A zero Timestamp is stamped with cfg.Now in UTC.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.cfg.Now().UTC()
	}

	if d.cfg.DropIfFull && !d.critical(event) {
		select {
		case d.ch <- event:
		case <-d.stop:
		default:
			d.drop(event)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.drop(event)
	case <-d.stop:
	}
}

func (d *Dispatcher) critical(event Event) bool {
	return d.cfg.Critical != nil && d.cfg.Critical(event)
}

func (d *Dispatcher) drop(event Event) {
	d.dropped.Add(1)
	d.mu.Lock()
	d.byType[event.EventType]++
	d.mu.Unlock()
}

// Close stops accepting events and waits until the buffer is delivered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

// Dropped returns the total number of events that never reached the sink.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DroppedByType returns a copy of the drop counts keyed by event type.
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	out := make(map[string]uint64)
	if d == nil {
		return out
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range d.byType {
		out[k] = v
	}
	return out
}
