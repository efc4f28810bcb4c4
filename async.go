// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package waitq

import (
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
)

// asyncSpinLimit bounds the optimistic retry phase before an operation
// arms a waiter and suspends.
const asyncSpinLimit = 64

// Stop reasons observed by the attempt loop.
const (
	stopNone uint32 = iota
	stopCanceled
	stopExpired
)

// PushOp is one asynchronous push against a queue.
//
// The operation is lazy: create it with PushAsync or PushUntil, then
// observe completion in one of three shapes sharing the same state
// machine:
//
//   - sender: keep the op and call Start later; drive it yourself.
//   - awaitable: Await blocks with adaptive backoff until completion.
//   - callback: Start(handler) or StartWithStop runs detached and
//     invokes the handler exactly once with the result.
//
// The operation spins a bounded number of optimistic tries, then arms a
// waiter on the producer-side registry and re-enters the loop on wake.
// Cancel and deadline expiry are stop signals observed at loop entry.
type PushOp[T any] struct {
	q     waitRing[T]
	value T

	waiter   Waiter
	deadline time.Time
	timed    bool
	timer    *time.Timer
	handler  func(error)
	err      error

	started   atomix.Uint32
	waiting   atomix.Uint32
	completed atomix.Uint32
	finished  atomix.Uint32
	stop      atomix.Uint32
	scheduled atomix.Uint32
	running   atomix.Uint32
}

func newPushOp[T any](q waitRing[T], v T) *PushOp[T] {
	op := &PushOp[T]{q: q, value: v}
	op.waiter.Wake = func(*Waiter) {
		if op.waiting.CompareAndSwapAcqRel(1, 0) {
			op.scheduleAttempt()
		}
	}
	return op
}

// Start begins the operation detached. The handler (which may be nil
// when the caller awaits instead) is invoked exactly once with the
// result, from whichever goroutine completes the operation. Start is
// idempotent.
func (op *PushOp[T]) Start(handler func(error)) {
	if !op.started.CompareAndSwapAcqRel(0, 1) {
		return
	}
	op.handler = handler
	if op.timed {
		d := time.Until(op.deadline)
		if d <= 0 {
			op.expire()
		} else {
			op.timer = time.AfterFunc(d, op.expire)
		}
	}
	op.scheduleAttempt()
}

// StartWithStop begins the operation detached with a cooperative stop
// token. A token already requested completes ErrCanceled without
// touching the queue.
func (op *PushOp[T]) StartWithStop(handler func(error), stop *Stop) {
	if stop != nil && stop.Requested() {
		if op.started.CompareAndSwapAcqRel(0, 1) {
			op.handler = handler
			op.stop.StoreRelease(stopCanceled)
			op.complete(ErrCanceled)
		}
		return
	}
	op.Start(handler)
	if stop != nil {
		stop.subscribe(op.Cancel)
	}
}

// Await blocks until the operation completes and returns its result.
// Starts the operation if Start has not run. Blocking is an adaptive
// backoff spin; no kernel wait is taken.
func (op *PushOp[T]) Await() error {
	op.Start(nil)
	bo := iox.Backoff{}
	for op.finished.LoadAcquire() == 0 {
		bo.Wait()
	}
	return op.err
}

// Cancel requests cooperative cancellation. The operation completes
// ErrCanceled unless it already completed.
func (op *PushOp[T]) Cancel() {
	if op.stop.CompareAndSwapAcqRel(stopNone, stopCanceled) {
		op.scheduleAttempt()
	}
}

// Done reports whether the operation has completed.
func (op *PushOp[T]) Done() bool { return op.finished.LoadAcquire() != 0 }

// Err returns the result after Done reports true.
func (op *PushOp[T]) Err() error {
	if op.finished.LoadAcquire() == 0 {
		return nil
	}
	return op.err
}

func (op *PushOp[T]) expire() {
	if op.stop.CompareAndSwapAcqRel(stopNone, stopExpired) {
		op.scheduleAttempt()
	}
}

// scheduleAttempt drives the attempt loop. The scheduled/running guard
// pair collapses re-entrant wakes: one worker runs the loop at a time
// and a late wake either piggybacks on it or restarts it.
func (op *PushOp[T]) scheduleAttempt() {
	op.scheduled.StoreRelease(1)
	if !op.running.CompareAndSwapAcqRel(0, 1) {
		return
	}

	for {
		op.scheduled.StoreRelease(0)
		if err, done := op.runAttempt(); done {
			op.complete(err)
			return
		}

		op.running.StoreRelease(0)
		if op.scheduled.LoadAcquire() == 0 || !op.running.CompareAndSwapAcqRel(0, 1) {
			return
		}
	}
}

func (op *PushOp[T]) runAttempt() (error, bool) {
	if op.completed.LoadAcquire() != 0 {
		return nil, false
	}
	switch op.stop.LoadAcquire() {
	case stopCanceled:
		return ErrCanceled, true
	case stopExpired:
		return ErrTimeout, true
	}

	sw := spin.Wait{}
	for range asyncSpinLimit {
		err := op.q.TryPush(op.value)
		if err != ErrQueueFull {
			return err, true
		}
		sw.Once()
	}
	if err := op.q.TryPush(op.value); err != ErrQueueFull {
		return err, true
	}

	reg := op.q.pushWaitReg()
	op.waiter.TurnPtr = reg.turnPtr
	op.waiter.Expected = reg.expected
	op.waiter.Hint = reg.hint
	op.waiter.bucket.StoreRelaxed(invalidBucket)
	op.waiting.StoreRelease(1)

	if !op.q.armPush(&op.waiter) {
		// The ring moved past the expected turn while arming; loop again.
		op.waiting.StoreRelease(0)
		op.scheduled.StoreRelease(1)
	}
	return nil, false
}

func (op *PushOp[T]) complete(err error) {
	if !op.completed.CompareAndSwapAcqRel(0, 1) {
		return
	}
	if op.waiting.CompareAndSwapAcqRel(1, 0) {
		op.q.disarmPush(&op.waiter)
	}
	if op.timer != nil {
		op.timer.Stop()
	}
	op.err = err
	op.finished.StoreRelease(1)
	if op.handler != nil {
		op.handler(err)
	}
}

// PopOp is one asynchronous pop against a queue. See [PushOp] for the
// completion shapes; PopOp additionally carries the popped value.
type PopOp[T any] struct {
	q waitRing[T]

	waiter   Waiter
	deadline time.Time
	timed    bool
	timer    *time.Timer
	handler  func(T, error)
	value    T
	err      error

	started   atomix.Uint32
	waiting   atomix.Uint32
	completed atomix.Uint32
	finished  atomix.Uint32
	stop      atomix.Uint32
	scheduled atomix.Uint32
	running   atomix.Uint32
}

func newPopOp[T any](q waitRing[T]) *PopOp[T] {
	op := &PopOp[T]{q: q}
	op.waiter.Wake = func(*Waiter) {
		if op.waiting.CompareAndSwapAcqRel(1, 0) {
			op.scheduleAttempt()
		}
	}
	return op
}

// Start begins the operation detached; see [PushOp.Start].
func (op *PopOp[T]) Start(handler func(T, error)) {
	if !op.started.CompareAndSwapAcqRel(0, 1) {
		return
	}
	op.handler = handler
	if op.timed {
		d := time.Until(op.deadline)
		if d <= 0 {
			op.expire()
		} else {
			op.timer = time.AfterFunc(d, op.expire)
		}
	}
	op.scheduleAttempt()
}

// StartWithStop begins the operation detached with a cooperative stop
// token; see [PushOp.StartWithStop].
func (op *PopOp[T]) StartWithStop(handler func(T, error), stop *Stop) {
	if stop != nil && stop.Requested() {
		if op.started.CompareAndSwapAcqRel(0, 1) {
			op.handler = handler
			op.stop.StoreRelease(stopCanceled)
			var zero T
			op.complete(zero, ErrCanceled)
		}
		return
	}
	op.Start(handler)
	if stop != nil {
		stop.subscribe(op.Cancel)
	}
}

// Await blocks until the operation completes and returns its result;
// see [PushOp.Await].
func (op *PopOp[T]) Await() (T, error) {
	op.Start(nil)
	bo := iox.Backoff{}
	for op.finished.LoadAcquire() == 0 {
		bo.Wait()
	}
	return op.value, op.err
}

// Cancel requests cooperative cancellation; see [PushOp.Cancel].
func (op *PopOp[T]) Cancel() {
	if op.stop.CompareAndSwapAcqRel(stopNone, stopCanceled) {
		op.scheduleAttempt()
	}
}

// Done reports whether the operation has completed.
func (op *PopOp[T]) Done() bool { return op.finished.LoadAcquire() != 0 }

// Result returns the popped value and error after Done reports true.
func (op *PopOp[T]) Result() (T, error) {
	if op.finished.LoadAcquire() == 0 {
		var zero T
		return zero, nil
	}
	return op.value, op.err
}

func (op *PopOp[T]) expire() {
	if op.stop.CompareAndSwapAcqRel(stopNone, stopExpired) {
		op.scheduleAttempt()
	}
}

func (op *PopOp[T]) scheduleAttempt() {
	op.scheduled.StoreRelease(1)
	if !op.running.CompareAndSwapAcqRel(0, 1) {
		return
	}

	for {
		op.scheduled.StoreRelease(0)
		if v, err, done := op.runAttempt(); done {
			op.complete(v, err)
			return
		}

		op.running.StoreRelease(0)
		if op.scheduled.LoadAcquire() == 0 || !op.running.CompareAndSwapAcqRel(0, 1) {
			return
		}
	}
}

func (op *PopOp[T]) runAttempt() (T, error, bool) {
	var zero T
	if op.completed.LoadAcquire() != 0 {
		return zero, nil, false
	}
	switch op.stop.LoadAcquire() {
	case stopCanceled:
		return zero, ErrCanceled, true
	case stopExpired:
		// One last non-blocking try: a value already present wins over
		// the deadline.
		if v, err := op.q.TryPop(); err != ErrQueueEmpty {
			return v, err, true
		}
		return zero, ErrTimeout, true
	}

	sw := spin.Wait{}
	for range asyncSpinLimit {
		v, err := op.q.TryPop()
		if err != ErrQueueEmpty {
			return v, err, true
		}
		sw.Once()
	}
	if v, err := op.q.TryPop(); err != ErrQueueEmpty {
		return v, err, true
	}

	reg := op.q.popWaitReg()
	op.waiter.TurnPtr = reg.turnPtr
	op.waiter.Expected = reg.expected
	op.waiter.Hint = reg.hint
	op.waiter.bucket.StoreRelaxed(invalidBucket)
	op.waiting.StoreRelease(1)

	if !op.q.armPop(&op.waiter) {
		op.waiting.StoreRelease(0)
		op.scheduled.StoreRelease(1)
	}
	return zero, nil, false
}

func (op *PopOp[T]) complete(v T, err error) {
	if !op.completed.CompareAndSwapAcqRel(0, 1) {
		return
	}
	if op.waiting.CompareAndSwapAcqRel(1, 0) {
		op.q.disarmPop(&op.waiter)
	}
	if op.timer != nil {
		op.timer.Stop()
	}
	op.value = v
	op.err = err
	op.finished.StoreRelease(1)
	if op.handler != nil {
		op.handler(v, err)
	}
}

// PushAsync returns a lazy asynchronous push of v.
func (q *MPMC[T]) PushAsync(v T) *PushOp[T] { return newPushOp[T](q, v) }

// PopAsync returns a lazy asynchronous pop.
func (q *MPMC[T]) PopAsync() *PopOp[T] { return newPopOp[T](q) }

// PushUntil returns a lazy asynchronous push of v racing the deadline.
// A push still pending at the deadline completes ErrTimeout.
func (q *MPMC[T]) PushUntil(v T, deadline time.Time) *PushOp[T] {
	op := newPushOp[T](q, v)
	op.deadline = deadline
	op.timed = true
	return op
}

// PopUntil returns a lazy asynchronous pop racing the deadline.
// A pop still pending at the deadline completes ErrTimeout; a value
// present when the expired pop runs is returned instead.
func (q *MPMC[T]) PopUntil(deadline time.Time) *PopOp[T] {
	op := newPopOp[T](q)
	op.deadline = deadline
	op.timed = true
	return op
}

// PushAsync returns a lazy asynchronous push of v.
func (q *DynamicMPMC[T]) PushAsync(v T) *PushOp[T] { return newPushOp[T](q, v) }

// PopAsync returns a lazy asynchronous pop.
func (q *DynamicMPMC[T]) PopAsync() *PopOp[T] { return newPopOp[T](q) }

// PushUntil returns a lazy asynchronous push of v racing the deadline.
func (q *DynamicMPMC[T]) PushUntil(v T, deadline time.Time) *PushOp[T] {
	op := newPushOp[T](q, v)
	op.deadline = deadline
	op.timed = true
	return op
}

// PopUntil returns a lazy asynchronous pop racing the deadline.
func (q *DynamicMPMC[T]) PopUntil(deadline time.Time) *PopOp[T] {
	op := newPopOp[T](q)
	op.deadline = deadline
	op.timed = true
	return op
}
