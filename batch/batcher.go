// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package batch implements the sink-side batching and metric
// normalisation: a per-partition-key accumulator that flushes on size,
// age, or shutdown, plus Absolute-to-Incremental metric conversion and
// counter collapse.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/flowcore/pipeline/event"
	"github.com/flowcore/pipeline/finalization"
)

// ErrShuttingDown is returned by Add once Shutdown has been called.
var ErrShuttingDown = errors.New("batch: batcher is shutting down")

// PartitionFunc buckets an event into a partition key -- a sink-defined
// function from event to batch bucket, e.g. API endpoint kind or
// destination tenant.
type PartitionFunc func(event.Event) string

// SizeFunc estimates an event's contribution to a batch's byte size, for
// sinks that flush on MaxBytes. A nil SizeFunc means byte size is not
// tracked (only MaxItems/MaxAge apply).
type SizeFunc func(event.Event) int

// Config configures a Batcher's flush thresholds and partitioning.
type Config struct {
	// MaxItems flushes a partition once it holds this many events. 0
	// disables the item-count trigger.
	MaxItems int
	// MaxBytes flushes a partition once Size has accounted for this many
	// bytes. 0 disables the byte-size trigger (and Size may be nil).
	MaxBytes int
	// MaxAge flushes a partition on a timer that starts with the
	// partition and restarts at each flush, regardless of size, so no
	// buffered event waits longer than MaxAge. 0 disables the age
	// trigger.
	MaxAge time.Duration

	Partition PartitionFunc
	Size      SizeFunc
}

// Batch is one flushed group of events sharing a partition key, along
// with the union of every contributing event's finalizer.
type Batch struct {
	Key        string
	Events     []event.Event
	Finalizers *finalization.FinalizerSet
}

// Batcher groups events added via Add by Config.Partition and emits
// flushed groups on Out. One goroutine runs per distinct partition key
// currently in use.
type Batcher struct {
	cfg    Config
	out    chan Batch
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	mu       sync.Mutex
	shards   map[string]*shard
	shutdown bool
}

// New creates a Batcher. If cfg.Partition is nil, every event shares a
// single partition (the empty key).
func New(cfg Config) *Batcher {
	if cfg.Partition == nil {
		cfg.Partition = func(event.Event) string { return "" }
	}
	return &Batcher{
		cfg:    cfg,
		out:    make(chan Batch),
		closed: make(chan struct{}),
		shards: make(map[string]*shard),
	}
}

// Out is the channel flushed batches are emitted on. Callers must drain
// it continuously, including during Shutdown, or shard goroutines block
// trying to flush.
func (b *Batcher) Out() <-chan Batch { return b.out }

// Add routes ev to its partition's accumulator, creating the partition's
// shard goroutine on first use.
func (b *Batcher) Add(ctx context.Context, ev event.Event) error {
	key := b.cfg.Partition(ev)
	sh, ok := b.shardFor(key)
	if !ok {
		return ErrShuttingDown
	}
	select {
	case sh.in <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closed:
		return ErrShuttingDown
	}
}

// shardFor returns key's shard, creating it if this is the first event
// routed there. It reports false once Shutdown has begun: the closed
// check and the wg.Add that spawns a new shard share b.mu, so a shard is
// never started concurrently with (or after) Shutdown's wg.Wait -- which
// would otherwise be a WaitGroup misuse.
func (b *Batcher) shardFor(key string) (*shard, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shutdown {
		return nil, false
	}
	if sh, ok := b.shards[key]; ok {
		return sh, true
	}
	sh := &shard{
		b:    b,
		key:  key,
		in:   make(chan event.Event),
		fset: finalization.NewFinalizerSet(),
	}
	b.shards[key] = sh
	b.wg.Add(1)
	go sh.run()
	return sh, true
}

// Shutdown stops accepting new events, flushes every partition's
// remaining accumulator, and
// waits for every shard goroutine to exit before closing Out.
func (b *Batcher) Shutdown() {
	b.once.Do(func() {
		b.mu.Lock()
		b.shutdown = true
		b.mu.Unlock()
		close(b.closed)
	})
	b.wg.Wait()
	close(b.out)
}

type shard struct {
	b   *Batcher
	key string
	in  chan event.Event

	events   []event.Event
	fset     *finalization.FinalizerSet
	byteSize int
}

func (sh *shard) run() {
	defer sh.b.wg.Done()

	var timer *time.Timer
	var timerCh <-chan time.Time
	if sh.b.cfg.MaxAge > 0 {
		timer = time.NewTimer(sh.b.cfg.MaxAge)
		defer timer.Stop()
		timerCh = timer.C
	}

	for {
		select {
		case <-sh.b.closed:
		drain:
			for {
				select {
				case ev := <-sh.in:
					sh.add(ev)
				default:
					break drain
				}
			}
			sh.flush()
			return

		case ev := <-sh.in:
			sh.add(ev)
			if sh.full() {
				sh.flush()
				resetTimer(timer, sh.b.cfg.MaxAge)
			}

		case <-timerCh:
			sh.flush()
			resetTimer(timer, sh.b.cfg.MaxAge)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if t == nil {
		return
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (sh *shard) add(ev event.Event) {
	sh.events = append(sh.events, ev)
	sh.fset.Add(ev.Finalizer())
	if sh.b.cfg.Size != nil {
		sh.byteSize += sh.b.cfg.Size(ev)
	}
}

func (sh *shard) full() bool {
	if sh.b.cfg.MaxItems > 0 && len(sh.events) >= sh.b.cfg.MaxItems {
		return true
	}
	if sh.b.cfg.MaxBytes > 0 && sh.byteSize >= sh.b.cfg.MaxBytes {
		return true
	}
	return false
}

func (sh *shard) flush() {
	if len(sh.events) == 0 {
		return
	}
	sh.b.out <- Batch{Key: sh.key, Events: sh.events, Finalizers: sh.fset}
	sh.events = nil
	sh.fset = finalization.NewFinalizerSet()
	sh.byteSize = 0
}
