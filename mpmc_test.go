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
// Bounded Ticket-Ring Queue - Basic Operations
// =============================================================================

// TestMPMCBasic tests the single-goroutine round trip: fill to capacity,
// observe backpressure, drain in FIFO order, observe emptiness.
func TestMPMCBasic(t *testing.T) {
	q := waitq.NewMPMC[int](4)

	if q.Cap() != 4 {
		t.Fatalf("Cap: got %d, want 4", q.Cap())
	}

	for i := 1; i <= 4; i++ {
		if err := q.TryPush(i); err != nil {
			t.Fatalf("TryPush(%d): %v", i, err)
		}
	}

	if err := q.TryPush(5); !errors.Is(err, waitq.ErrQueueFull) {
		t.Fatalf("TryPush on full: got %v, want ErrQueueFull", err)
	}

	for i := 1; i <= 4; i++ {
		v, err := q.TryPop()
		if err != nil {
			t.Fatalf("TryPop(%d): %v", i, err)
		}
		if v != i {
			t.Fatalf("TryPop(%d): got %d, want %d", i, v, i)
		}
	}

	if _, err := q.TryPop(); !errors.Is(err, waitq.ErrQueueEmpty) {
		t.Fatalf("TryPop on empty: got %v, want ErrQueueEmpty", err)
	}
}

// TestMPMCCapacities exercises the index mapping for power-of-two and
// prime capacities, including capacity 1.
func TestMPMCCapacities(t *testing.T) {
	for _, capacity := range []int{1, 2, 3, 4, 7, 8, 13, 16, 100, 1024} {
		q := waitq.NewMPMC[int](capacity)

		if q.Cap() != capacity {
			t.Fatalf("cap %d: Cap got %d", capacity, q.Cap())
		}

		// Two full laps keep turns advancing past the first round.
		for lap := range 2 {
			for i := range capacity {
				if err := q.TryPush(lap*capacity + i); err != nil {
					t.Fatalf("cap %d lap %d: TryPush(%d): %v", capacity, lap, i, err)
				}
			}
			if err := q.TryPush(-1); !errors.Is(err, waitq.ErrQueueFull) {
				t.Fatalf("cap %d lap %d: push on full: got %v", capacity, lap, err)
			}
			for i := range capacity {
				v, err := q.TryPop()
				if err != nil {
					t.Fatalf("cap %d lap %d: TryPop(%d): %v", capacity, lap, i, err)
				}
				if v != lap*capacity+i {
					t.Fatalf("cap %d lap %d: TryPop(%d): got %d, want %d",
						capacity, lap, i, v, lap*capacity+i)
				}
			}
		}
	}
}

// TestMPMCObservers checks the approximate observers against a known
// single-goroutine sequence.
func TestMPMCObservers(t *testing.T) {
	q := waitq.NewMPMC[string](2)

	if !q.IsEmpty() || q.IsFull() {
		t.Fatalf("new queue: IsEmpty=%v IsFull=%v", q.IsEmpty(), q.IsFull())
	}
	if q.Dynamic() {
		t.Fatal("bounded queue reports Dynamic")
	}
	if q.MaxCap() != 2 || q.AllocatedCap() != 2 {
		t.Fatalf("MaxCap=%d AllocatedCap=%d, want 2", q.MaxCap(), q.AllocatedCap())
	}

	if err := q.TryPush("a"); err != nil {
		t.Fatal(err)
	}
	if q.Depth() != 1 {
		t.Fatalf("Depth: got %d, want 1", q.Depth())
	}
	if err := q.TryPush("b"); err != nil {
		t.Fatal(err)
	}
	if !q.IsFull() || q.IsEmpty() {
		t.Fatalf("full queue: IsEmpty=%v IsFull=%v", q.IsEmpty(), q.IsFull())
	}
	if q.PushCount() != 2 || q.PopCount() != 0 {
		t.Fatalf("counts: push=%d pop=%d", q.PushCount(), q.PopCount())
	}

	if _, err := q.TryPop(); err != nil {
		t.Fatal(err)
	}
	if q.Depth() != 1 || q.PopCount() != 1 {
		t.Fatalf("after pop: Depth=%d PopCount=%d", q.Depth(), q.PopCount())
	}
}

// TestMPMCZeroCapacityPanics verifies the construction contract.
func TestMPMCZeroCapacityPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("NewMPMC(0) did not panic")
		}
	}()
	_ = waitq.NewMPMC[int](0)
}

// TestMPMCPointerValues verifies pointer values round-trip: pop of a
// pointer value must return exactly the pushed pointer.
func TestMPMCPointerValues(t *testing.T) {
	q := waitq.NewMPMC[*int](4)

	want := new(int)
	*want = 42
	if err := q.TryPush(want); err != nil {
		t.Fatal(err)
	}
	got, err := q.TryPop()
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("pointer identity lost: got %p, want %p", got, want)
	}
}

// =============================================================================
// Builder
// =============================================================================

// TestBuilderSelectsVariant checks the builder's algorithm selection.
func TestBuilderSelectsVariant(t *testing.T) {
	bounded := waitq.Build[int](waitq.New(8))
	if bounded.Dynamic() {
		t.Fatal("New(8) built a dynamic queue")
	}
	if bounded.Cap() != 8 {
		t.Fatalf("bounded Cap: got %d, want 8", bounded.Cap())
	}

	grown := waitq.Build[int](waitq.New(2).Grow(16, 2))
	if !grown.Dynamic() {
		t.Fatal("Grow(16, 2) built a bounded queue")
	}
	if grown.Cap() != 2 || grown.MaxCap() != 16 {
		t.Fatalf("dynamic Cap=%d MaxCap=%d, want 2/16", grown.Cap(), grown.MaxCap())
	}
}

// TestBuilderTypedConstructors checks the panic contracts of the typed
// build functions.
func TestBuilderTypedConstructors(t *testing.T) {
	if q := waitq.BuildMPMC[int](waitq.New(4)); q.Cap() != 4 {
		t.Fatalf("BuildMPMC Cap: got %d, want 4", q.Cap())
	}
	if q := waitq.BuildDynamic[int](waitq.New(4).Grow(8, 2)); q.MaxCap() != 8 {
		t.Fatalf("BuildDynamic MaxCap: got %d, want 8", q.MaxCap())
	}
	if ch := waitq.BuildChan[int](waitq.New(4)); ch.Cap() != 4 {
		t.Fatalf("BuildChan Cap: got %d, want 4", ch.Cap())
	}

	mustPanic(t, "BuildMPMC with Grow", func() {
		_ = waitq.BuildMPMC[int](waitq.New(4).Grow(8, 2))
	})
	mustPanic(t, "BuildDynamic without Grow", func() {
		_ = waitq.BuildDynamic[int](waitq.New(4))
	})
	mustPanic(t, "BuildChan with Grow", func() {
		_ = waitq.BuildChan[int](waitq.New(4).Grow(8, 2))
	})
	mustPanic(t, "New(0)", func() {
		_ = waitq.New(0)
	})
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s did not panic", name)
		}
	}()
	fn()
}
