// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !race

package waitq_test

import (
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/waitq"
)

// BenchmarkMPMCTryPushPop measures the uncontended try round trip.
func BenchmarkMPMCTryPushPop(b *testing.B) {
	q := waitq.NewMPMC[int](1024)
	b.ReportAllocs()
	for i := 0; b.Loop(); i++ {
		_ = q.TryPush(i)
		_, _ = q.TryPop()
	}
}

// BenchmarkMPMCParallel measures contended mixed producers/consumers.
func BenchmarkMPMCParallel(b *testing.B) {
	q := waitq.NewMPMC[int](1024)
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		backoff := iox.Backoff{}
		i := 0
		for pb.Next() {
			if i&1 == 0 {
				if q.TryPush(i) != nil {
					backoff.Wait()
				} else {
					backoff.Reset()
				}
			} else {
				if _, err := q.TryPop(); err != nil {
					backoff.Wait()
				} else {
					backoff.Reset()
				}
			}
			i++
		}
	})
}

// BenchmarkDynamicTryPushPop measures the seqlock read overhead of the
// growable variant at steady state.
func BenchmarkDynamicTryPushPop(b *testing.B) {
	q := waitq.NewDynamicMPMC[int](1024, waitq.DynamicOptions{MaxCapacity: 4096, GrowthFactor: 2})
	b.ReportAllocs()
	for i := 0; b.Loop(); i++ {
		_ = q.TryPush(i)
		_, _ = q.TryPop()
	}
}

// BenchmarkAsyncAwaitReady measures the async fast path with no
// suspension.
func BenchmarkAsyncAwaitReady(b *testing.B) {
	q := waitq.NewMPMC[int](1024)
	b.ReportAllocs()
	for i := 0; b.Loop(); i++ {
		_ = q.PushAsync(i).Await()
		_, _ = q.PopAsync().Await()
	}
}

// BenchmarkChanCloseEpochArm measures the channel pop path that arms on
// both the ring and the close epoch before a value arrives.
func BenchmarkChanCloseEpochArm(b *testing.B) {
	ch := waitq.NewChan[int](1)
	b.ReportAllocs()
	for b.Loop() {
		op := ch.PopAsync()
		op.Start(nil)
		_ = ch.TryPush(1)
		if _, err := op.Await(); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkPushUntilDeadline measures the timer composition cost.
func BenchmarkPushUntilDeadline(b *testing.B) {
	q := waitq.NewMPMC[int](1024)
	b.ReportAllocs()
	deadline := time.Now().Add(time.Hour)
	for i := 0; b.Loop(); i++ {
		if err := q.PushUntil(i, deadline).Await(); err != nil {
			b.Fatal(err)
		}
		_, _ = q.TryPop()
	}
}
