// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package finalization

import (
	"sync"
	"sync/atomic"
)

// BatchNotifier is the shared per-batch state: status
// starts Delivered, is merged monotonically by every finalizer that
// references it, and on the last reference's release sends the merged
// status exactly once on its receiver channel.
type BatchNotifier struct {
	status   int32 // atomic EventStatus
	refcount int32 // atomic
	once     sync.Once
	sendCh   chan EventStatus
}

// NewBatchNotifier creates a BatchNotifier together with the receiver
// channel a source should hold onto to learn the batch's terminal
// status. The channel receives exactly one value and is then closed.
func NewBatchNotifier() (*BatchNotifier, <-chan EventStatus) {
	ch := make(chan EventStatus, 1)
	return &BatchNotifier{status: int32(Delivered), refcount: 1, sendCh: ch}, ch
}

// mergeBatch applies the restricted batch lattice: Delivered < Errored
// < Rejected. Dropped and Recorded never change a batch's status --
// Dropped because it is the identity, Recorded because by the time an
// event reaches Recorded its disposition has already been merged into
// the batch by ForceRecord (see FinalizerSet.UpdateSources), so a
// second contribution at release time must be a no-op.
func mergeBatch(old, incoming EventStatus) EventStatus {
	if incoming == Dropped || incoming == Recorded {
		return old
	}
	if incoming > old {
		return incoming
	}
	return old
}

func (b *BatchNotifier) addRef() {
	atomic.AddInt32(&b.refcount, 1)
}

func (b *BatchNotifier) merge(status EventStatus) {
	for {
		old := EventStatus(atomic.LoadInt32(&b.status))
		next := mergeBatch(old, status)
		if next == old {
			return
		}
		if atomic.CompareAndSwapInt32(&b.status, int32(old), int32(next)) {
			return
		}
	}
}

// Done releases the creator's own implicit reference to the batch,
// taken out by NewBatchNotifier. A source calls Done once it has
// finished attaching a finalizer (referencing this batch) to every
// event in the batch; until then the batch cannot reach zero
// references and send its terminal status, even if every event
// finalizer is released first.
func (b *BatchNotifier) Done() {
	b.release()
}

// release drops one reference to the batch; on the last reference it
// sends the merged terminal status exactly once.
func (b *BatchNotifier) release() {
	if atomic.AddInt32(&b.refcount, -1) != 0 {
		return
	}
	b.once.Do(func() {
		final := EventStatus(atomic.LoadInt32(&b.status))
		b.sendCh <- final
		close(b.sendCh)
	})
}

// EventFinalizer is the shared per-event state: a
// status cell plus a reference to the owning BatchNotifier. It is
// reference-counted across Event clones (AddRef/Release); when the
// last reference is released, its current status is merged into its
// batch.
type EventFinalizer struct {
	inner *finalizerInner
}

type finalizerInner struct {
	status   int32 // atomic EventStatus
	batch    *BatchNotifier
	refcount int32 // atomic
}

// NewEventFinalizer creates a finalizer with status=Dropped,
// referencing batch. batch may be nil for events that are never
// acknowledged (e.g. synthetic events built in tests).
func NewEventFinalizer(batch *BatchNotifier) *EventFinalizer {
	if batch != nil {
		batch.addRef()
	}
	return &EventFinalizer{inner: &finalizerInner{status: int32(Dropped), batch: batch, refcount: 1}}
}

// AddRef returns a new handle to the same underlying finalizer,
// incrementing its reference count. Used when an event is cloned.
func (f *EventFinalizer) AddRef() *EventFinalizer {
	if f == nil || f.inner == nil {
		return nil
	}
	atomic.AddInt32(&f.inner.refcount, 1)
	return &EventFinalizer{inner: f.inner}
}

// Update merges status into the finalizer's current status using the
// EventStatus lattice. Safe for concurrent use across every
// handle referencing the same finalizer.
func (f *EventFinalizer) Update(status EventStatus) {
	if f == nil || f.inner == nil {
		return
	}
	for {
		old := EventStatus(atomic.LoadInt32(&f.inner.status))
		next := old.Update(status)
		if next == old {
			return
		}
		if atomic.CompareAndSwapInt32(&f.inner.status, int32(old), int32(next)) {
			return
		}
	}
}

// Status returns the finalizer's current status.
func (f *EventFinalizer) Status() EventStatus {
	if f == nil || f.inner == nil {
		return Dropped
	}
	return EventStatus(atomic.LoadInt32(&f.inner.status))
}

// Release drops this handle's reference. When the last reference to
// the finalizer is released, its current status is merged into its
// BatchNotifier and that reference to the batch is
// released in turn. Calling Release more than once on the same handle,
// or using a handle after Release, is a programming error (mirrors
// Rust move-out-of Arc semantics); Release is idempotent against that
// misuse by nilling out the handle's inner pointer.
func (f *EventFinalizer) Release() {
	if f == nil || f.inner == nil {
		return
	}
	inner := f.inner
	f.inner = nil
	if atomic.AddInt32(&inner.refcount, -1) != 0 {
		return
	}
	if inner.batch != nil {
		status := EventStatus(atomic.LoadInt32(&inner.status))
		inner.batch.merge(status)
		inner.batch.release()
	}
}

// ForceRecord merges the finalizer's current status into its batch
// immediately, without waiting for the last reference to be released,
// and marks the finalizer Recorded so that every later Release merges
// as a no-op. It does not drop any reference itself: each outstanding
// handle, including the caller's, must still be Released for the batch
// to reach zero references and send its terminal status. Safe to
// call from multiple goroutines; the merge happens exactly once.
func (f *EventFinalizer) ForceRecord() {
	if f == nil || f.inner == nil {
		return
	}
	for {
		old := EventStatus(atomic.LoadInt32(&f.inner.status))
		if old == Recorded {
			return
		}
		if atomic.CompareAndSwapInt32(&f.inner.status, int32(old), int32(Recorded)) {
			if f.inner.batch != nil {
				f.inner.batch.merge(old)
			}
			return
		}
	}
}

// FinalizerSet is an unordered collection of EventFinalizer references,
// used by batching components to track every finalizer contributed by
// the events added to a batch. It is safe for
// concurrent use.
type FinalizerSet struct {
	mu         sync.Mutex
	finalizers []*EventFinalizer
}

func NewFinalizerSet() *FinalizerSet {
	return &FinalizerSet{}
}

// Add appends f to the set. A nil f is ignored.
func (s *FinalizerSet) Add(f *EventFinalizer) {
	if f == nil {
		return
	}
	s.mu.Lock()
	s.finalizers = append(s.finalizers, f)
	s.mu.Unlock()
}

// Merge moves every finalizer out of other and into s, leaving other
// empty. Used when two batches' finalizer sets are combined (e.g.
// counter collapse).
func (s *FinalizerSet) Merge(other *FinalizerSet) {
	if other == nil {
		return
	}
	other.mu.Lock()
	moved := other.finalizers
	other.finalizers = nil
	other.mu.Unlock()

	s.mu.Lock()
	s.finalizers = append(s.finalizers, moved...)
	s.mu.Unlock()
}

// Update applies status to every finalizer currently in the set.
func (s *FinalizerSet) Update(status EventStatus) {
	s.mu.Lock()
	fs := append([]*EventFinalizer(nil), s.finalizers...)
	s.mu.Unlock()
	for _, f := range fs {
		f.Update(status)
	}
}

// Len reports how many finalizers are currently in the set.
func (s *FinalizerSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.finalizers)
}

// Release releases this set's reference to every finalizer it holds
// and empties the set.
func (s *FinalizerSet) Release() {
	s.mu.Lock()
	fs := s.finalizers
	s.finalizers = nil
	s.mu.Unlock()
	for _, f := range fs {
		f.Release()
	}
}

// UpdateSources promotes every finalizer in the set to Recorded,
// forcing its current status to be merged into its batch immediately,
// then releases the set's reference to each and clears the set. Used to
// close a batch early once the last dependent work is known to have
// finished, e.g. after persisting events to a disk buffer. Dropping the
// cleared handles without releasing them would strand the batch
// references they hold, so the release is part of the clearing.
func (s *FinalizerSet) UpdateSources() {
	s.mu.Lock()
	fs := s.finalizers
	s.finalizers = nil
	s.mu.Unlock()
	for _, f := range fs {
		f.ForceRecord()
		f.Release()
	}
}
