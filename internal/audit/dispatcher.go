package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	BufferSize int
	DropIfFull bool
	// OnDrop is invoked for every record dropped because the buffer was full
	// or because Shutdown gave up draining it.
	OnDrop func(Record)
}

// Stats is a point-in-time view of dispatcher counters.
type Stats struct {
	Delivered uint64
	Dropped   uint64
	Pending   int
}

// Dispatcher relays records to a sink from a single worker goroutine.
type Dispatcher struct {
	cfg  Config
	sink Sink
	ch   chan Record

	// stop ends intake; abandon ends draining and cancels the sink context.
	stop     chan struct{}
	abandon  context.CancelFunc
	sinkCtx  context.Context
	finished chan struct{}
	stopOnce sync.Once

	// intake guards closed. Every Emit admitted while open is tracked in
	// senders and the worker waits for them before its final drain.
	intake  sync.RWMutex
	closed  bool
	senders sync.WaitGroup

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	sinkCtx, abandon := context.WithCancel(context.Background())

	d := &Dispatcher{
		cfg:      cfg,
		sink:     sink,
		ch:       make(chan Record, cfg.BufferSize),
		stop:     make(chan struct{}),
		abandon:  abandon,
		sinkCtx:  sinkCtx,
		finished: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.finished)

	for {
		select {
		case record := <-d.ch:
			d.deliver(record)
		case <-d.stop:
			d.senders.Wait()
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case record := <-d.ch:
			d.deliver(record)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(record Record) {
	if d.sinkCtx.Err() != nil {
		d.drop(record)
		return
	}
	d.sink.Emit(d.sinkCtx, record)
	d.delivered.Add(1)
}

func (d *Dispatcher) drop(record Record) {
	d.dropped.Add(1)
	if d.cfg.OnDrop != nil {
		d.cfg.OnDrop(record)
	}
}

// Emit enqueues record. With DropIfFull a full buffer drops the record;
// otherwise Emit blocks until there is room or ctx is done. A record that
// is admitted is always either delivered or counted as dropped; Emit after
// Shutdown is ignored.
func (d *Dispatcher) Emit(ctx context.Context, record Record) {
	if d == nil || !d.admit() {
		return
	}
	defer d.senders.Done()
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- record:
		default:
			d.drop(record)
		}
		return
	}

	select {
	case d.ch <- record:
	case <-ctx.Done():
		d.drop(record)
	case <-d.stop:
		d.drop(record)
	}
}

func (d *Dispatcher) admit() bool {
	d.intake.RLock()
	defer d.intake.RUnlock()
	if d.closed {
		return false
	}
	d.senders.Add(1)
	return true
}

// Shutdown stops accepting records and delivers what is buffered. If ctx ends
// first, the sink context is cancelled, the rest of the buffer is dropped and
// ctx.Err() is returned once the worker has exited.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.stopOnce.Do(func() {
		d.intake.Lock()
		d.closed = true
		close(d.stop)
		d.intake.Unlock()
	})

	select {
	case <-d.finished:
		d.abandon()
		return nil
	case <-ctx.Done():
		d.abandon()
		<-d.finished
		return ctx.Err()
	}
}

// Close is Shutdown without a deadline.
func (d *Dispatcher) Close() {
	_ = d.Shutdown(context.Background())
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return Stats{
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
		Pending:   len(d.ch),
	}
}
