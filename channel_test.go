// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package waitq_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/waitq"
)

// =============================================================================
// Channel - Close Semantics
// =============================================================================

// TestChanBasic round-trips values through an open channel.
func TestChanBasic(t *testing.T) {
	ch := waitq.NewChan[int](4)

	if ch.Cap() != 4 {
		t.Fatalf("Cap: got %d, want 4", ch.Cap())
	}
	if ch.IsClosed() {
		t.Fatal("new channel reports closed")
	}

	for i := 1; i <= 4; i++ {
		if err := ch.TryPush(i); err != nil {
			t.Fatalf("TryPush(%d): %v", i, err)
		}
	}
	if err := ch.TryPush(5); !errors.Is(err, waitq.ErrQueueFull) {
		t.Fatalf("push on full: got %v, want ErrQueueFull", err)
	}
	if ch.Depth() != 4 {
		t.Fatalf("Depth: got %d, want 4", ch.Depth())
	}

	for i := 1; i <= 4; i++ {
		v, err := ch.TryPop()
		if err != nil || v != i {
			t.Fatalf("TryPop: %d, %v, want %d", v, err, i)
		}
	}
	if _, err := ch.TryPop(); !errors.Is(err, waitq.ErrQueueEmpty) {
		t.Fatalf("pop on empty open channel: got %v, want ErrQueueEmpty", err)
	}
}

// TestChanCloseOnce verifies close is one-shot: the winner observes
// true, every later close false, and the state is unchanged by losers.
func TestChanCloseOnce(t *testing.T) {
	ch := waitq.NewChan[int](4)

	if !ch.Close() {
		t.Fatal("first Close returned false")
	}
	if ch.Close() {
		t.Fatal("second Close returned true")
	}
	if !ch.IsClosed() {
		t.Fatal("IsClosed false after Close")
	}
	if err := ch.TryPush(1); !errors.Is(err, waitq.ErrChannelClosed) {
		t.Fatalf("push after close: got %v, want ErrChannelClosed", err)
	}
	if _, err := ch.TryPop(); !errors.Is(err, waitq.ErrChannelClosed) {
		t.Fatalf("pop on closed empty channel: got %v, want ErrChannelClosed", err)
	}
}

// TestChanCloseDrains verifies values enqueued before the close are
// served to async pops before ErrChannelClosed.
func TestChanCloseDrains(t *testing.T) {
	ch := waitq.NewChan[int](8)

	if err := ch.TryPush(31); err != nil {
		t.Fatal(err)
	}
	if err := ch.TryPush(32); err != nil {
		t.Fatal(err)
	}
	if !ch.Close() {
		t.Fatal("Close returned false")
	}

	v, err := ch.PopAsync().Await()
	if err != nil || v != 31 {
		t.Fatalf("first pop after close: %d, %v, want 31", v, err)
	}
	v, err = ch.PopAsync().Await()
	if err != nil || v != 32 {
		t.Fatalf("second pop after close: %d, %v, want 32", v, err)
	}
	if _, err := ch.PopAsync().Await(); !errors.Is(err, waitq.ErrChannelClosed) {
		t.Fatalf("drained pop: got %v, want ErrChannelClosed", err)
	}
}

// TestChanCloseWakesBlockedSender suspends a push on a full channel,
// closes, and expects ErrChannelClosed with the pre-close value intact.
func TestChanCloseWakesBlockedSender(t *testing.T) {
	ch := waitq.NewChan[int](1)
	if err := ch.TryPush(1); err != nil {
		t.Fatal(err)
	}

	op := ch.PushAsync(2)
	op.Start(nil)
	if op.Done() {
		t.Fatal("push completed against a full channel")
	}

	if !ch.Close() {
		t.Fatal("Close returned false")
	}
	if err := op.Await(); !errors.Is(err, waitq.ErrChannelClosed) {
		t.Fatalf("blocked sender after close: got %v, want ErrChannelClosed", err)
	}

	v, err := ch.TryPop()
	if err != nil || v != 1 {
		t.Fatalf("pre-close value lost: %d, %v", v, err)
	}
}

// TestChanCloseWakesBlockedReceiver suspends a pop on an empty channel,
// closes, and expects ErrChannelClosed.
func TestChanCloseWakesBlockedReceiver(t *testing.T) {
	ch := waitq.NewChan[int](1)

	op := ch.PopAsync()
	op.Start(nil)
	if op.Done() {
		t.Fatal("pop completed against an empty channel")
	}

	if !ch.Close() {
		t.Fatal("Close returned false")
	}
	if _, err := op.Await(); !errors.Is(err, waitq.ErrChannelClosed) {
		t.Fatalf("blocked receiver after close: got %v, want ErrChannelClosed", err)
	}
}

// TestChanPopRacingCloseDrains parks a pop, then pushes and closes
// back-to-back: the pop must deliver the value, not the closure.
func TestChanPopRacingCloseDrains(t *testing.T) {
	ch := waitq.NewChan[int](4)

	op := ch.PopAsync()
	op.Start(nil)

	if err := ch.TryPush(5); err != nil {
		t.Fatal(err)
	}
	ch.Close()

	v, err := op.Await()
	if err != nil {
		t.Fatalf("pop racing close: %v", err)
	}
	if v != 5 {
		t.Fatalf("pop racing close: got %d, want 5", v)
	}
}

// TestChanSplit verifies the type-distinct halves share state.
func TestChanSplit(t *testing.T) {
	ch := waitq.NewChan[string](2)
	tx, rx := ch.Split()

	if tx.Cap() != 2 || rx.Cap() != 2 {
		t.Fatalf("half capacities: %d, %d", tx.Cap(), rx.Cap())
	}

	if err := tx.TryPush("hello"); err != nil {
		t.Fatalf("sender TryPush: %v", err)
	}
	if tx.Depth() != 1 || rx.Depth() != 1 {
		t.Fatalf("half depths: %d, %d", tx.Depth(), rx.Depth())
	}

	v, err := rx.TryPop()
	if err != nil || v != "hello" {
		t.Fatalf("receiver TryPop: %q, %v", v, err)
	}

	if !rx.Close() {
		t.Fatal("receiver Close returned false")
	}
	if !tx.IsClosed() || !ch.IsClosed() {
		t.Fatal("closure not shared across handles")
	}
	if err := tx.TryPush("x"); !errors.Is(err, waitq.ErrChannelClosed) {
		t.Fatalf("sender push after close: got %v", err)
	}
	if tx.Close() {
		t.Fatal("sender Close after receiver Close returned true")
	}
}

// TestChanSplitAsync drives the async quartet through the halves.
func TestChanSplitAsync(t *testing.T) {
	ch := waitq.NewChan[int](2)
	tx, rx := ch.Split()

	if err := tx.PushAsync(1).Await(); err != nil {
		t.Fatalf("half PushAsync: %v", err)
	}
	v, err := rx.PopAsync().Await()
	if err != nil || v != 1 {
		t.Fatalf("half PopAsync: %d, %v", v, err)
	}

	pending := rx.PopAsync()
	pending.Start(nil)
	tx.Close()
	if _, err := pending.Await(); !errors.Is(err, waitq.ErrChannelClosed) {
		t.Fatalf("half pop after close: got %v, want ErrChannelClosed", err)
	}
}

// TestChanCancel verifies cooperative cancellation on channel ops.
func TestChanCancel(t *testing.T) {
	ch := waitq.NewChan[int](1)

	op := ch.PopAsync()
	op.Start(nil)
	op.Cancel()
	if _, err := op.Await(); !errors.Is(err, waitq.ErrCanceled) {
		t.Fatalf("canceled channel pop: got %v, want ErrCanceled", err)
	}

	// The channel stays fully usable after a canceled waiter.
	if err := ch.TryPush(1); err != nil {
		t.Fatal(err)
	}
	if v, err := ch.TryPop(); err != nil || v != 1 {
		t.Fatalf("after cancel: %d, %v", v, err)
	}
}

// TestChanZeroCapacityPanics verifies the construction contract.
func TestChanZeroCapacityPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("NewChan(0) did not panic")
		}
	}()
	_ = waitq.NewChan[int](0)
}
