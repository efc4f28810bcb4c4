// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package waitq provides a wait-capable MPMC message-passing fabric:
// lock-free ticket-ring queues, a striped sender-notify registry that
// parks and wakes blocked operations without allocation, and a closable
// channel composed from both.
//
// # Components
//
//   - [MPMC]: bounded multi-producer multi-consumer ticket-ring queue.
//   - [DynamicMPMC]: the same algorithm with capped growth; retired
//     rings keep serving in-flight tickets.
//   - [Notify]: a 1024-way striped registry keyed by (turn address,
//     expected turn); the bridge between the lock-free ring and
//     waiting operations.
//   - [Chan]: a closable two-endpoint channel; Close wakes every
//     pending operation and pops drain values enqueued before the close.
//
// # Quick Start
//
//	q := waitq.NewMPMC[Event](1024)
//
//	// Non-blocking
//	if err := q.TryPush(ev); errors.Is(err, waitq.ErrQueueFull) {
//	    // backpressure
//	}
//
//	// Wait-capable: suspend on full, wake on the matching pop
//	if err := q.PushAsync(ev).Await(); err != nil {
//	    // terminal error
//	}
//
// Builder form:
//
//	q := waitq.Build[Event](waitq.New(64).Grow(4096, 2)) // capped growth
//	ch := waitq.BuildChan[Request](waitq.New(256))       // channel
//
// # Asynchronous Operations
//
// PushAsync, PopAsync, PushUntil and PopUntil return lazy operations.
// One state machine serves three completion shapes:
//
//   - sender: keep the operation, call Start when ready, poll Done.
//   - awaitable: Await blocks with adaptive backoff until completion.
//   - callback: Start(handler) or StartWithStop(handler, stop) runs
//     detached; the handler is invoked exactly once with the result.
//
// An operation spins a bounded number of optimistic tries, then arms a
// caller-owned [Waiter] on the registry and suspends until the ring
// publishes the turn it waits for. Cancellation ([PushOp.Cancel], a
// [Stop] token) and deadlines are stop signals observed at loop entry;
// they complete the operation with ErrCanceled or ErrTimeout after the
// waiter is disarmed. An expired pop makes one last non-blocking try
// first, so a value already present is returned instead of ErrTimeout.
//
// # Channels
//
//	ch := waitq.NewChan[int](8)
//	tx, rx := ch.Split()
//
//	go func() {
//	    for _, v := range work {
//	        tx.PushAsync(v).Await()
//	    }
//	    tx.Close()
//	}()
//
//	for {
//	    v, err := rx.PopAsync().Await()
//	    if errors.Is(err, waitq.ErrChannelClosed) {
//	        break // closed and drained
//	    }
//	    handle(v)
//	}
//
// Close is one-shot: the winning caller observes true, wakes every
// blocked producer and consumer, and later pushes fail with
// ErrChannelClosed. Values enqueued before the close are never lost.
//
// # Channel Protocols
//
// Channel operations are also exposed as algebraic effects on
// [code.hybscloud.com/kont]: [PushEff], [PopEff], [CloseEff] with the
// fused helpers [PushBind], [PopBind], [CloseDone], evaluated by
// [Exec]/[ExecExpr].
//
// # Error Handling
//
// Operations return sentinels from a closed set with stable names and
// kinds (see [Code] and [Kind]). ErrQueueFull and ErrQueueEmpty are
// transient control-flow signals and unwrap to [iox.ErrWouldBlock]:
//
//	backoff := iox.Backoff{}
//	for {
//	    err := q.TryPush(v)
//	    if err == nil {
//	        break
//	    }
//	    if !waitq.IsWouldBlock(err) {
//	        return err
//	    }
//	    backoff.Wait()
//	}
//
// Construction contract breaches (zero capacity) panic: they are
// programming errors, not runtime conditions. A growth factor below 2
// does not panic; it is clamped to 2.
//
// # Ordering Guarantees
//
// A pop returning value v synchronizes with the push that wrote v
// (release store on the slot turn, acquire load on the same word).
// FIFO holds within a slot turn; there is no total order across slots.
// Emptiness and fullness observers are conservative guesses under
// concurrency.
//
// # Waiter Lifetime
//
// The registry never allocates: a [Waiter] lives in the caller's
// operation state and must stay pinned from Arm until Disarm returns or
// the wake callback has run. Disarm is the reclamation barrier — after
// it returns, no callback will fire.
//
// # Race Detection
//
// Go's race detector cannot observe happens-before established through
// atomic memory orderings on separate variables, so the lock-free paths
// report false positives under -race. Concurrency tests are excluded
// via //go:build !race and can key on the RaceEnabled constant.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/atomix] for atomic primitives
// with explicit memory ordering, [code.hybscloud.com/spin] for CPU
// pause instructions, [code.hybscloud.com/iox] for semantic errors and
// adaptive backoff, and [code.hybscloud.com/kont] for the effect
// bridge.
package waitq
