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

// chanState is the shared heart of a channel: a bounded ticket ring,
// the close flag, and a dedicated registry whose "turn" is the close
// epoch. Split halves and the channel value all reference one state;
// the garbage collector keeps it alive for whichever half survives.
type chanState[T any] struct {
	queue       *MPMC[T]
	closeNotify Notify
	closeEpoch  atomix.Uint64
	closed      atomix.Uint32
}

// Chan is a closable two-endpoint MPMC channel over a bounded
// ticket-ring queue.
//
// TryPush/TryPop never block. The asynchronous quartet (PushAsync,
// PopAsync, PushUntil, PopUntil) races each wait against the channel's
// close epoch, so Close drains or cancels every outstanding operation:
// a pending push on a closed channel completes ErrChannelClosed, and a
// pending pop first drains any value enqueued before the close.
type Chan[T any] struct {
	st *chanState[T]
}

// NewChan creates a channel with the given queue capacity.
// Panics if capacity < 1.
func NewChan[T any](capacity int) *Chan[T] {
	if capacity < 1 {
		panic("waitq: capacity must be > 0")
	}
	return &Chan[T]{st: &chanState[T]{queue: NewMPMC[T](capacity)}}
}

func chanTryPush[T any](st *chanState[T], v T) error {
	if st.closed.LoadAcquire() != 0 {
		return ErrChannelClosed
	}
	return st.queue.TryPush(v)
}

func chanTryPop[T any](st *chanState[T]) (T, error) {
	v, err := st.queue.TryPop()
	if err != ErrQueueEmpty {
		return v, err
	}
	// Values enqueued before the close win over the closed report.
	if st.closed.LoadAcquire() != 0 {
		var zero T
		return zero, ErrChannelClosed
	}
	return v, err
}

func chanClose[T any](st *chanState[T]) bool {
	if !st.closed.CompareAndSwapAcqRel(0, 1) {
		return false
	}
	epoch := st.closeEpoch.AddAcqRel(1)
	st.closeNotify.NotifyTurn(&st.closeEpoch, epoch)
	return true
}

// TryPush adds v without blocking. Returns ErrChannelClosed after Close,
// ErrQueueFull under backpressure.
func (c *Chan[T]) TryPush(v T) error { return chanTryPush(c.st, v) }

// TryPop removes the oldest value without blocking. Returns
// ErrChannelClosed only once the channel is both closed and drained.
func (c *Chan[T]) TryPop() (T, error) { return chanTryPop(c.st) }

// Close closes the channel and wakes every pending operation. Exactly
// one caller wins and observes true; later calls return false.
func (c *Chan[T]) Close() bool { return chanClose(c.st) }

// IsClosed reports whether the channel has been closed.
func (c *Chan[T]) IsClosed() bool { return c.st.closed.LoadAcquire() != 0 }

// Depth returns the approximate number of queued elements.
func (c *Chan[T]) Depth() int { return c.st.queue.Depth() }

// Cap returns the channel capacity.
func (c *Chan[T]) Cap() int { return c.st.queue.Cap() }

// Split returns type-distinct sender and receiver halves sharing this
// channel's state. Senders cannot pop; receivers cannot push; both can
// observe closure and close.
func (c *Chan[T]) Split() (*ChanSender[T], *ChanRecv[T]) {
	return &ChanSender[T]{st: c.st}, &ChanRecv[T]{st: c.st}
}

// PushAsync returns a lazy asynchronous push of v that resolves
// ErrChannelClosed if the channel closes first.
func (c *Chan[T]) PushAsync(v T) *ChanPushOp[T] { return newChanPushOp(c.st, v) }

// PopAsync returns a lazy asynchronous pop that resolves
// ErrChannelClosed once the channel is closed and drained.
func (c *Chan[T]) PopAsync() *ChanPopOp[T] { return newChanPopOp(c.st) }

// PushUntil is PushAsync racing a deadline; a push still pending at the
// deadline completes ErrTimeout.
func (c *Chan[T]) PushUntil(v T, deadline time.Time) *ChanPushOp[T] {
	op := newChanPushOp(c.st, v)
	op.deadline = deadline
	op.timed = true
	return op
}

// PopUntil is PopAsync racing a deadline; a pop still pending at the
// deadline completes ErrTimeout, unless a value is present when the
// expired pop runs.
func (c *Chan[T]) PopUntil(deadline time.Time) *ChanPopOp[T] {
	op := newChanPopOp(c.st)
	op.deadline = deadline
	op.timed = true
	return op
}

// ChanSender is the producing half of a split channel.
type ChanSender[T any] struct {
	st *chanState[T]
}

// TryPush adds v without blocking; see [Chan.TryPush].
func (s *ChanSender[T]) TryPush(v T) error { return chanTryPush(s.st, v) }

// Close closes the channel; see [Chan.Close].
func (s *ChanSender[T]) Close() bool { return chanClose(s.st) }

// IsClosed reports whether the channel has been closed.
func (s *ChanSender[T]) IsClosed() bool { return s.st.closed.LoadAcquire() != 0 }

// Depth returns the approximate number of queued elements.
func (s *ChanSender[T]) Depth() int { return s.st.queue.Depth() }

// Cap returns the channel capacity.
func (s *ChanSender[T]) Cap() int { return s.st.queue.Cap() }

// PushAsync returns a lazy asynchronous push; see [Chan.PushAsync].
func (s *ChanSender[T]) PushAsync(v T) *ChanPushOp[T] { return newChanPushOp(s.st, v) }

// PushUntil is PushAsync racing a deadline; see [Chan.PushUntil].
func (s *ChanSender[T]) PushUntil(v T, deadline time.Time) *ChanPushOp[T] {
	op := newChanPushOp(s.st, v)
	op.deadline = deadline
	op.timed = true
	return op
}

// ChanRecv is the consuming half of a split channel.
type ChanRecv[T any] struct {
	st *chanState[T]
}

// TryPop removes the oldest value without blocking; see [Chan.TryPop].
func (r *ChanRecv[T]) TryPop() (T, error) { return chanTryPop(r.st) }

// Close closes the channel; see [Chan.Close].
func (r *ChanRecv[T]) Close() bool { return chanClose(r.st) }

// IsClosed reports whether the channel has been closed.
func (r *ChanRecv[T]) IsClosed() bool { return r.st.closed.LoadAcquire() != 0 }

// Depth returns the approximate number of queued elements.
func (r *ChanRecv[T]) Depth() int { return r.st.queue.Depth() }

// Cap returns the channel capacity.
func (r *ChanRecv[T]) Cap() int { return r.st.queue.Cap() }

// PopAsync returns a lazy asynchronous pop; see [Chan.PopAsync].
func (r *ChanRecv[T]) PopAsync() *ChanPopOp[T] { return newChanPopOp(r.st) }

// PopUntil is PopAsync racing a deadline; see [Chan.PopUntil].
func (r *ChanRecv[T]) PopUntil(deadline time.Time) *ChanPopOp[T] {
	op := newChanPopOp(r.st)
	op.deadline = deadline
	op.timed = true
	return op
}

// ChanPushOp is one asynchronous push against a channel. It runs the
// queue push state machine with a second waiter armed on the close
// epoch; whichever fires first decides the result. Completion shapes
// match [PushOp].
type ChanPushOp[T any] struct {
	st    *chanState[T]
	value T

	qWaiter  Waiter
	cWaiter  Waiter
	deadline time.Time
	timed    bool
	timer    *time.Timer
	handler  func(error)
	err      error

	started    atomix.Uint32
	waitingQ   atomix.Uint32
	waitingC   atomix.Uint32
	closeArmed atomix.Uint32
	completed  atomix.Uint32
	finished   atomix.Uint32
	stop       atomix.Uint32
	scheduled  atomix.Uint32
	running    atomix.Uint32
}

func newChanPushOp[T any](st *chanState[T], v T) *ChanPushOp[T] {
	op := &ChanPushOp[T]{st: st, value: v}
	op.qWaiter.Wake = func(*Waiter) {
		if op.waitingQ.CompareAndSwapAcqRel(1, 0) {
			op.scheduleAttempt()
		}
	}
	op.cWaiter.Wake = func(*Waiter) {
		if op.waitingC.CompareAndSwapAcqRel(1, 0) {
			op.scheduleAttempt()
		}
	}
	return op
}

// Start begins the operation detached; see [PushOp.Start].
func (op *ChanPushOp[T]) Start(handler func(error)) {
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
func (op *ChanPushOp[T]) StartWithStop(handler func(error), stop *Stop) {
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

// Await blocks until the operation completes; see [PushOp.Await].
func (op *ChanPushOp[T]) Await() error {
	op.Start(nil)
	bo := iox.Backoff{}
	for op.finished.LoadAcquire() == 0 {
		bo.Wait()
	}
	return op.err
}

// Cancel requests cooperative cancellation; see [PushOp.Cancel].
func (op *ChanPushOp[T]) Cancel() {
	if op.stop.CompareAndSwapAcqRel(stopNone, stopCanceled) {
		op.scheduleAttempt()
	}
}

// Done reports whether the operation has completed.
func (op *ChanPushOp[T]) Done() bool { return op.finished.LoadAcquire() != 0 }

// Err returns the result after Done reports true.
func (op *ChanPushOp[T]) Err() error {
	if op.finished.LoadAcquire() == 0 {
		return nil
	}
	return op.err
}

func (op *ChanPushOp[T]) expire() {
	if op.stop.CompareAndSwapAcqRel(stopNone, stopExpired) {
		op.scheduleAttempt()
	}
}

func (op *ChanPushOp[T]) scheduleAttempt() {
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

func (op *ChanPushOp[T]) runAttempt() (error, bool) {
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
		err := chanTryPush(op.st, op.value)
		if err != ErrQueueFull {
			return err, true
		}
		sw.Once()
	}
	if err := chanTryPush(op.st, op.value); err != ErrQueueFull {
		return err, true
	}

	reg := op.st.queue.pushWaitReg()
	op.qWaiter.TurnPtr = reg.turnPtr
	op.qWaiter.Expected = reg.expected
	op.qWaiter.Hint = reg.hint
	op.qWaiter.bucket.StoreRelaxed(invalidBucket)
	op.waitingQ.StoreRelease(1)

	if !op.st.queue.armPush(&op.qWaiter) {
		op.waitingQ.StoreRelease(0)
		op.scheduled.StoreRelease(1)
		return nil, false
	}

	op.armClose()
	return nil, false
}

// armClose registers the close-epoch waiter once for the operation's
// lifetime. The epoch is read before the closed flag: a close landing
// in between advances the epoch, so the arm's under-lock re-check (or
// the flag check here) catches it and the loop reports the closure.
func (op *ChanPushOp[T]) armClose() {
	if !op.closeArmed.CompareAndSwapAcqRel(0, 1) {
		return
	}
	epoch := op.st.closeEpoch.LoadAcquire()
	if op.st.closed.LoadAcquire() != 0 {
		op.scheduled.StoreRelease(1)
		return
	}
	op.cWaiter.TurnPtr = &op.st.closeEpoch
	op.cWaiter.Expected = epoch + 1
	op.cWaiter.Hint = SuggestBucket(&op.st.closeEpoch, epoch+1)
	op.cWaiter.bucket.StoreRelaxed(invalidBucket)
	op.waitingC.StoreRelease(1)

	if !op.st.closeNotify.Arm(&op.cWaiter) {
		op.waitingC.StoreRelease(0)
		op.scheduled.StoreRelease(1)
	}
}

func (op *ChanPushOp[T]) complete(err error) {
	if !op.completed.CompareAndSwapAcqRel(0, 1) {
		return
	}
	if op.waitingQ.CompareAndSwapAcqRel(1, 0) {
		op.st.queue.disarmPush(&op.qWaiter)
	}
	if op.waitingC.CompareAndSwapAcqRel(1, 0) {
		op.st.closeNotify.Disarm(&op.cWaiter)
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

// ChanPopOp is one asynchronous pop against a channel. A pop that loses
// the race to closure performs one final drain attempt before reporting
// ErrChannelClosed, so values enqueued before the close are never
// dropped. Completion shapes match [PopOp].
type ChanPopOp[T any] struct {
	st *chanState[T]

	qWaiter  Waiter
	cWaiter  Waiter
	deadline time.Time
	timed    bool
	timer    *time.Timer
	handler  func(T, error)
	value    T
	err      error

	started    atomix.Uint32
	waitingQ   atomix.Uint32
	waitingC   atomix.Uint32
	closeArmed atomix.Uint32
	completed  atomix.Uint32
	finished   atomix.Uint32
	stop       atomix.Uint32
	scheduled  atomix.Uint32
	running    atomix.Uint32
}

func newChanPopOp[T any](st *chanState[T]) *ChanPopOp[T] {
	op := &ChanPopOp[T]{st: st}
	op.qWaiter.Wake = func(*Waiter) {
		if op.waitingQ.CompareAndSwapAcqRel(1, 0) {
			op.scheduleAttempt()
		}
	}
	op.cWaiter.Wake = func(*Waiter) {
		if op.waitingC.CompareAndSwapAcqRel(1, 0) {
			op.scheduleAttempt()
		}
	}
	return op
}

// Start begins the operation detached; see [PopOp.Start].
func (op *ChanPopOp[T]) Start(handler func(T, error)) {
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
// token; see [PopOp.StartWithStop].
func (op *ChanPopOp[T]) StartWithStop(handler func(T, error), stop *Stop) {
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

// Await blocks until the operation completes; see [PopOp.Await].
func (op *ChanPopOp[T]) Await() (T, error) {
	op.Start(nil)
	bo := iox.Backoff{}
	for op.finished.LoadAcquire() == 0 {
		bo.Wait()
	}
	return op.value, op.err
}

// Cancel requests cooperative cancellation; see [PopOp.Cancel].
func (op *ChanPopOp[T]) Cancel() {
	if op.stop.CompareAndSwapAcqRel(stopNone, stopCanceled) {
		op.scheduleAttempt()
	}
}

// Done reports whether the operation has completed.
func (op *ChanPopOp[T]) Done() bool { return op.finished.LoadAcquire() != 0 }

// Result returns the popped value and error after Done reports true.
func (op *ChanPopOp[T]) Result() (T, error) {
	if op.finished.LoadAcquire() == 0 {
		var zero T
		return zero, nil
	}
	return op.value, op.err
}

func (op *ChanPopOp[T]) expire() {
	if op.stop.CompareAndSwapAcqRel(stopNone, stopExpired) {
		op.scheduleAttempt()
	}
}

func (op *ChanPopOp[T]) scheduleAttempt() {
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

func (op *ChanPopOp[T]) runAttempt() (T, error, bool) {
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
		if v, err := chanTryPop(op.st); err != ErrQueueEmpty {
			return v, err, true
		}
		return zero, ErrTimeout, true
	}

	sw := spin.Wait{}
	for range asyncSpinLimit {
		v, err := chanTryPop(op.st)
		if err != ErrQueueEmpty {
			return v, err, true
		}
		sw.Once()
	}
	if v, err := chanTryPop(op.st); err != ErrQueueEmpty {
		return v, err, true
	}

	reg := op.st.queue.popWaitReg()
	op.qWaiter.TurnPtr = reg.turnPtr
	op.qWaiter.Expected = reg.expected
	op.qWaiter.Hint = reg.hint
	op.qWaiter.bucket.StoreRelaxed(invalidBucket)
	op.waitingQ.StoreRelease(1)

	if !op.st.queue.armPop(&op.qWaiter) {
		op.waitingQ.StoreRelease(0)
		op.scheduled.StoreRelease(1)
		return zero, nil, false
	}

	op.armClose()
	return zero, nil, false
}

func (op *ChanPopOp[T]) armClose() {
	if !op.closeArmed.CompareAndSwapAcqRel(0, 1) {
		return
	}
	epoch := op.st.closeEpoch.LoadAcquire()
	if op.st.closed.LoadAcquire() != 0 {
		op.scheduled.StoreRelease(1)
		return
	}
	op.cWaiter.TurnPtr = &op.st.closeEpoch
	op.cWaiter.Expected = epoch + 1
	op.cWaiter.Hint = SuggestBucket(&op.st.closeEpoch, epoch+1)
	op.cWaiter.bucket.StoreRelaxed(invalidBucket)
	op.waitingC.StoreRelease(1)

	if !op.st.closeNotify.Arm(&op.cWaiter) {
		op.waitingC.StoreRelease(0)
		op.scheduled.StoreRelease(1)
	}
}

func (op *ChanPopOp[T]) complete(v T, err error) {
	if !op.completed.CompareAndSwapAcqRel(0, 1) {
		return
	}
	if op.waitingQ.CompareAndSwapAcqRel(1, 0) {
		op.st.queue.disarmPop(&op.qWaiter)
	}
	if op.waitingC.CompareAndSwapAcqRel(1, 0) {
		op.st.closeNotify.Disarm(&op.cWaiter)
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
