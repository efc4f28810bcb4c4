// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package waitq

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// bucketCount is the number of striped wait channels per registry.
// Power of two; bucket selection masks the key mix.
const bucketCount = 1024

const (
	minProbeWindow     = 8
	initialProbeWindow = 16
	maxProbeWindow     = 256
)

// invalidBucket marks a waiter as not resident in any bucket.
const invalidBucket = ^uint32(0)

// Waiter is a caller-owned registration for one pending operation.
//
// The registry threads waiters onto intrusive per-bucket lists and never
// allocates. The caller must keep the Waiter alive and at a stable
// address from Arm until Disarm returns (or until the wake callback has
// run and the owning operation completed).
type Waiter struct {
	// TurnPtr is the slot turn word (or close epoch) being waited on.
	TurnPtr *atomix.Uint64
	// Expected is the turn value that makes the waited operation eligible.
	Expected uint64
	// Hint is the bucket index a prior SuggestBucket computed for the key.
	Hint uint16

	// Wake is invoked exactly once per successful Arm, from the notifying
	// goroutine, outside any bucket lock. It must not block.
	Wake func(*Waiter)

	next *Waiter
	prev *Waiter

	armed     atomix.Uint32
	linked    atomix.Uint32
	notifying atomix.Uint32
	bucket    atomix.Uint32
}

// waitBucket is one striped wait channel: a TAS spin lock guarding an
// intrusive waiter list keyed by (turnPtr, expected).
type waitBucket struct {
	lock     atomix.Uint32
	keyTag   atomix.Uint64 // mix of the current key; 0 = empty
	turnPtr  *atomix.Uint64
	expected uint64
	head     *Waiter
	size     uint32
	_        padShort
}

// Notify parks and wakes waiters keyed by (turn address, expected turn).
//
// One registry serves one direction of one queue (producer side or
// consumer side). The fast paths never allocate: Arm links the caller's
// Waiter into one of 1024 spin-locked buckets; NotifyTurn detaches the
// whole matching list and runs each wake callback exactly once, outside
// the bucket lock.
//
// The zero value is ready to use.
type Notify struct {
	occupied    atomix.Uint32
	probeWindow atomix.Uint32
	buckets     [bucketCount]waitBucket
}

// HasWaiters reports, conservatively, whether any bucket is occupied.
// The queue publish paths do not consult it: they always call
// NotifyTurn.
func (n *Notify) HasWaiters() bool {
	return n.occupied.LoadRelaxed() != 0
}

// SuggestBucket returns the bucket a matching Arm will likely land in.
// Pure function of the key; the queues cache it in the wait registration
// so Arm can skip the probe sequence.
func SuggestBucket(turnPtr *atomix.Uint64, expected uint64) uint16 {
	return uint16(mixKey(turnPtr, expected) & (bucketCount - 1))
}

// mixKey hashes the (turn address, expected turn) pair through a
// SplitMix64-style finalizer. The low bit is forced so that 0 stays
// reserved for "empty bucket".
func mixKey(turnPtr *atomix.Uint64, expected uint64) uint64 {
	mixed := uint64(uintptr(unsafe.Pointer(turnPtr)) >> 6)
	mixed ^= expected + 0x9e3779b97f4a7c15 + (mixed << 6) + (mixed >> 2)
	mixed ^= mixed >> 30
	mixed *= 0xbf58476d1ce4e5b9
	mixed ^= mixed >> 27
	mixed *= 0x94d049bb133111eb
	mixed ^= mixed >> 31
	return mixed | 1
}

// turnReached reports whether the current turn has caught up with (or
// passed) the expected turn. Signed difference keeps it correct across
// the full 64-bit ticket range.
func turnReached(current, expected uint64) bool {
	return int64(current-expected) >= 0
}

func lockBucket(b *waitBucket) {
	sw := spin.Wait{}
	for !b.lock.CompareAndSwapAcqRel(0, 1) {
		sw.Once()
	}
}

func unlockBucket(b *waitBucket) {
	b.lock.StoreRelease(0)
}

// Arm registers w for a single wake on its (TurnPtr, Expected) key.
//
// Returns false without linking when the turn has already reached the
// expected value; the caller must retry the ring operation instead of
// waiting. Returns true when w is linked and eligible for exactly one
// Wake callback. Every true return must be balanced by the callback
// firing or by Disarm.
func (n *Notify) Arm(w *Waiter) bool {
	turnPtr := w.TurnPtr
	if turnPtr == nil {
		panic("waitq: Arm with nil turn pointer")
	}

	if turnReached(turnPtr.LoadAcquire(), w.Expected) {
		return false
	}

	keyTag := mixKey(turnPtr, w.Expected)
	b, index := n.findOrReserveBucket(w.Hint, turnPtr, w.Expected, keyTag)
	if b == nil {
		return false
	}

	// Arm-after-publish race: the ring may have moved while probing.
	if turnReached(turnPtr.LoadAcquire(), w.Expected) {
		clearBucketIfEmpty(b)
		unlockBucket(b)
		return false
	}

	w.notifying.StoreRelease(0)
	w.armed.StoreRelease(1)
	w.linked.StoreRelaxed(1)
	w.bucket.StoreRelaxed(index)
	w.prev = nil
	w.next = b.head
	if b.head != nil {
		b.head.prev = w
	}
	wasEmpty := b.size == 0
	b.head = w
	b.size++
	if wasEmpty {
		n.occupied.Add(1)
	}

	// Final re-check under the lock closes the lost-wakeup window: a
	// publish that happened between the link and here already ran its
	// notify, which could not see w yet.
	if turnReached(turnPtr.LoadAcquire(), w.Expected) {
		w.armed.StoreRelease(0)
		n.removeFromBucket(b, w)
		unlockBucket(b)
		return false
	}

	unlockBucket(b)
	return true
}

// Disarm withdraws w. Idempotent. On return, no Wake callback for this
// registration is running or will run, so the caller may reuse or
// release the Waiter's memory.
func (n *Notify) Disarm(w *Waiter) {
	w.armed.StoreRelease(0)

	if index := w.bucket.LoadRelaxed(); index != invalidBucket {
		b := &n.buckets[index&(bucketCount-1)]
		lockBucket(b)
		if w.linked.LoadRelaxed() != 0 {
			n.removeFromBucket(b, w)
		}
		unlockBucket(b)
	}

	sw := spin.Wait{}
	for w.notifying.LoadAcquire() != 0 {
		sw.Once()
	}
}

// NotifyTurn wakes every waiter registered for (turnPtr, turn).
//
// The event has already happened when this is called (the turn word was
// release-stored first), so the whole matching list is detached under
// the bucket lock and the callbacks run after it is released. Callbacks
// may re-enter the registry.
func (n *Notify) NotifyTurn(turnPtr *atomix.Uint64, turn uint64) {
	b := n.lockExistingBucket(turnPtr, turn)
	if b == nil {
		return
	}

	detached := b.size
	list := b.head
	b.head = nil
	b.size = 0
	b.turnPtr = nil
	b.expected = 0
	b.keyTag.StoreRelaxed(0)
	if detached != 0 {
		n.occupied.Add(^uint32(0))
	}

	var ready *Waiter
	for list != nil {
		current := list
		list = current.next
		current.next = nil
		current.prev = nil
		current.linked.StoreRelaxed(0)
		current.bucket.StoreRelaxed(invalidBucket)

		if current.armed.CompareAndSwapAcqRel(1, 0) {
			current.notifying.StoreRelease(1)
			current.next = ready
			ready = current
		}
	}

	unlockBucket(b)

	for ready != nil {
		w := ready
		ready = w.next
		w.next = nil
		w.Wake(w)
		w.notifying.StoreRelease(0)
	}
}

// probeSpan clamps the stored window; the zero value reads as the
// initial window so the registry needs no constructor.
func (n *Notify) probeSpan() uint32 {
	v := n.probeWindow.LoadRelaxed()
	switch {
	case v == 0:
		return initialProbeWindow
	case v < minProbeWindow:
		return minProbeWindow
	case v > maxProbeWindow:
		return maxProbeWindow
	}
	return v
}

// maybeGrowProbeWindow doubles the window after a fruitless probe round.
// The window never shrinks.
func (n *Notify) maybeGrowProbeWindow(current uint32) {
	if current >= maxProbeWindow {
		return
	}
	target := current * 2
	if target > maxProbeWindow {
		target = maxProbeWindow
	}
	n.probeWindow.CompareAndSwapRelaxed(n.probeWindow.LoadRelaxed(), target)
}

// lockMatchingBucket scans span buckets from start for one whose key tag
// and key pair match, returning it locked.
func (n *Notify) lockMatchingBucket(turnPtr *atomix.Uint64, expected, keyTag uint64, start, span uint32) (*waitBucket, uint32) {
	for offset := uint32(0); offset < span; offset++ {
		index := (start + offset) & (bucketCount - 1)
		b := &n.buckets[index]
		if b.keyTag.LoadRelaxed() != keyTag {
			continue
		}
		lockBucket(b)
		if b.turnPtr == turnPtr && b.expected == expected {
			return b, index
		}
		unlockBucket(b)
	}
	return nil, 0
}

// lockEmptyBucket scans span buckets from start for an unused one,
// returning it locked.
func (n *Notify) lockEmptyBucket(start, span uint32) (*waitBucket, uint32) {
	for offset := uint32(0); offset < span; offset++ {
		index := (start + offset) & (bucketCount - 1)
		b := &n.buckets[index]
		if b.keyTag.LoadRelaxed() != 0 {
			continue
		}
		lockBucket(b)
		if b.size == 0 && b.keyTag.LoadRelaxed() == 0 {
			return b, index
		}
		unlockBucket(b)
	}
	return nil, 0
}

func (n *Notify) lockBucketByHint(hint uint16, keyTag uint64) (*waitBucket, uint32) {
	index := uint32(hint) & (bucketCount - 1)
	b := &n.buckets[index]
	observed := b.keyTag.LoadRelaxed()
	if observed != 0 && observed != keyTag {
		return nil, 0
	}
	lockBucket(b)
	return b, index
}

// lockExistingBucket locates the locked bucket currently holding waiters
// for (turnPtr, expected), or nil when no such bucket exists.
func (n *Notify) lockExistingBucket(turnPtr *atomix.Uint64, expected uint64) *waitBucket {
	keyTag := mixKey(turnPtr, expected)
	start := uint32(keyTag) & (bucketCount - 1)
	span := n.probeSpan()

	if b, _ := n.lockMatchingBucket(turnPtr, expected, keyTag, start, span); b != nil {
		return b
	}
	b, _ := n.lockMatchingBucket(turnPtr, expected, keyTag, start, bucketCount)
	return b
}

// findOrReserveBucket returns a locked bucket bound to the key, seizing
// an empty one when no match exists. The hinted bucket is tried first;
// then up to three rounds of match-scan/empty-scan over a growing probe
// window; then a full-table sweep. Buckets recycle as soon as their last
// waiter leaves, so the sweep cannot come up empty while any bucket is
// free.
func (n *Notify) findOrReserveBucket(hint uint16, turnPtr *atomix.Uint64, expected, keyTag uint64) (*waitBucket, uint32) {
	if hinted, index := n.lockBucketByHint(hint, keyTag); hinted != nil {
		if hinted.turnPtr == turnPtr && hinted.expected == expected {
			return hinted, index
		}
		if hinted.size == 0 {
			hinted.turnPtr = turnPtr
			hinted.expected = expected
			hinted.keyTag.StoreRelaxed(keyTag)
			return hinted, index
		}
		unlockBucket(hinted)
	}

	start := uint32(keyTag) & (bucketCount - 1)
	for attempt := 0; attempt < 3; attempt++ {
		span := n.probeSpan()

		if b, index := n.lockMatchingBucket(turnPtr, expected, keyTag, start, span); b != nil {
			return b, index
		}
		if b, index := n.lockEmptyBucket(start, span); b != nil {
			b.turnPtr = turnPtr
			b.expected = expected
			b.keyTag.StoreRelaxed(keyTag)
			return b, index
		}
		n.maybeGrowProbeWindow(span)
	}

	if b, index := n.lockMatchingBucket(turnPtr, expected, keyTag, start, bucketCount); b != nil {
		return b, index
	}
	if b, index := n.lockEmptyBucket(start, bucketCount); b != nil {
		b.turnPtr = turnPtr
		b.expected = expected
		b.keyTag.StoreRelaxed(keyTag)
		return b, index
	}
	return nil, 0
}

// removeFromBucket unlinks w from b. Caller holds the bucket lock.
func (n *Notify) removeFromBucket(b *waitBucket, w *Waiter) {
	if w.linked.LoadRelaxed() == 0 {
		return
	}

	prev, next := w.prev, w.next
	if prev != nil {
		prev.next = next
	} else {
		b.head = next
	}
	if next != nil {
		next.prev = prev
	}

	w.next = nil
	w.prev = nil
	w.linked.StoreRelaxed(0)
	w.bucket.StoreRelaxed(invalidBucket)
	if b.size > 0 {
		b.size--
		if b.size == 0 {
			n.occupied.Add(^uint32(0))
		}
	}
	clearBucketIfEmpty(b)
}

func clearBucketIfEmpty(b *waitBucket) {
	if b.size == 0 {
		b.head = nil
		b.turnPtr = nil
		b.expected = 0
		b.keyTag.StoreRelaxed(0)
	}
}
