// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package waitq

import (
	"code.hybscloud.com/atomix"
)

// MPMC is a bounded multi-producer multi-consumer ticket-ring queue.
//
// Producers and consumers claim monotonic 64-bit tickets; each ticket
// maps to a slot whose turn word says whose move it is. TryPush and
// TryPop are lock-free: one CAS on the ticket counter plus one release
// store on the slot turn. Every publish also notifies the opposite
// side's wait registry, which is what makes the async operations
// wait-capable without polling.
//
// ABA safety comes from the turn word itself: a superseded ticket
// observes a turn from a different lap and retries. No pointer
// reclamation is involved.
//
// Memory: one allocation at construction (capacity + padding slots).
// The two embedded wait registries are allocation-free.
type MPMC[T any] struct {
	geo   ringGeometry
	slots []slot[T]

	_          pad
	pushTicket atomix.Uint64
	_          pad
	popTicket  atomix.Uint64
	_          pad

	// pushWaiters holds producers blocked on a full ring (woken by pops);
	// popWaiters holds consumers blocked on an empty ring (woken by pushes).
	pushWaiters Notify
	popWaiters  Notify
}

// NewMPMC creates a bounded MPMC queue with the given capacity.
// Panics if capacity < 1: a zero-capacity ring is a programming error,
// not a runtime condition.
func NewMPMC[T any](capacity int) *MPMC[T] {
	if capacity < 1 {
		panic("waitq: capacity must be > 0")
	}

	q := &MPMC[T]{geo: makeGeometry[T](uint64(capacity))}
	q.slots = allocSlots[T](q.geo)
	return q
}

// TryPush adds v to the queue without blocking.
// Returns ErrQueueFull when no slot is on its producer turn.
func (q *MPMC[T]) TryPush(v T) error {
	ticket := q.pushTicket.LoadRelaxed()
	for {
		target := &q.slots[q.geo.slotIndex(ticket)]
		expected := q.geo.enqueueTurn(ticket)

		if target.turn.LoadAcquire() != expected {
			observed := ticket
			ticket = q.pushTicket.LoadRelaxed()
			if observed == ticket {
				// Ticket stable and the slot is a lap behind: full.
				return ErrQueueFull
			}
			continue
		}

		if !q.pushTicket.CompareAndSwapRelaxed(ticket, ticket+1) {
			ticket = q.pushTicket.LoadRelaxed()
			continue
		}

		target.data = v
		turn := expected + 1
		target.turn.StoreRelease(turn)
		q.popWaiters.NotifyTurn(&target.turn, turn)
		return nil
	}
}

// TryPop removes and returns the oldest value without blocking.
// Returns ErrQueueEmpty when no slot is on its consumer turn.
func (q *MPMC[T]) TryPop() (T, error) {
	ticket := q.popTicket.LoadRelaxed()
	for {
		target := &q.slots[q.geo.slotIndex(ticket)]
		expected := q.geo.dequeueTurn(ticket)

		if target.turn.LoadAcquire() != expected {
			observed := ticket
			ticket = q.popTicket.LoadRelaxed()
			if observed == ticket {
				var zero T
				return zero, ErrQueueEmpty
			}
			continue
		}

		if !q.popTicket.CompareAndSwapRelaxed(ticket, ticket+1) {
			ticket = q.popTicket.LoadRelaxed()
			continue
		}

		v := target.data
		var zero T
		target.data = zero // release references for GC
		turn := expected + 1
		target.turn.StoreRelease(turn)
		q.pushWaiters.NotifyTurn(&target.turn, turn)
		return v, nil
	}
}

// Cap returns the queue capacity.
func (q *MPMC[T]) Cap() int { return int(q.geo.capacity) }

// MaxCap returns the maximum capacity; identical to Cap for the bounded
// variant.
func (q *MPMC[T]) MaxCap() int { return int(q.geo.capacity) }

// AllocatedCap returns the currently allocated capacity.
func (q *MPMC[T]) AllocatedCap() int { return int(q.geo.capacity) }

// Dynamic reports whether the queue can grow. Always false.
func (q *MPMC[T]) Dynamic() bool { return false }

// Depth returns the approximate number of queued elements. A guess under
// concurrency; correctness never depends on it.
func (q *MPMC[T]) Depth() int {
	return int(int64(q.PushCount() - q.PopCount()))
}

// IsEmpty reports whether the queue looked empty at the call.
func (q *MPMC[T]) IsEmpty() bool { return q.PushCount() == q.PopCount() }

// IsFull reports whether the queue looked full at the call.
func (q *MPMC[T]) IsFull() bool { return q.Depth() >= q.Cap() }

// PushCount returns the number of tickets claimed by producers.
func (q *MPMC[T]) PushCount() uint64 { return q.pushTicket.LoadRelaxed() }

// PopCount returns the number of tickets claimed by consumers.
func (q *MPMC[T]) PopCount() uint64 { return q.popTicket.LoadRelaxed() }

// pushWaitReg derives the producer wait key from a fresh ticket snapshot.
func (q *MPMC[T]) pushWaitReg() waitReg {
	ticket := q.pushTicket.LoadRelaxed()
	turnPtr := &q.slots[q.geo.slotIndex(ticket)].turn
	expected := q.geo.enqueueTurn(ticket)
	return waitReg{turnPtr, expected, SuggestBucket(turnPtr, expected)}
}

// popWaitReg derives the consumer wait key from a fresh ticket snapshot.
func (q *MPMC[T]) popWaitReg() waitReg {
	ticket := q.popTicket.LoadRelaxed()
	turnPtr := &q.slots[q.geo.slotIndex(ticket)].turn
	expected := q.geo.dequeueTurn(ticket)
	return waitReg{turnPtr, expected, SuggestBucket(turnPtr, expected)}
}

func (q *MPMC[T]) armPush(w *Waiter) bool { return q.pushWaiters.Arm(w) }
func (q *MPMC[T]) disarmPush(w *Waiter)   { q.pushWaiters.Disarm(w) }
func (q *MPMC[T]) armPop(w *Waiter) bool  { return q.popWaiters.Arm(w) }
func (q *MPMC[T]) disarmPop(w *Waiter)    { q.popWaiters.Disarm(w) }
