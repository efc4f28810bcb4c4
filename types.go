// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package waitq

import "time"

// Queue is the combined producer-consumer surface shared by the bounded
// and the capped-growth ticket-ring variants.
//
// TryPush and TryPop never block; both return transient errors
// (ErrQueueFull, ErrQueueEmpty) under pressure. The asynchronous
// quartet returns lazy operations; see [PushOp] and [PopOp] for the
// completion shapes.
type Queue[T any] interface {
	Producer[T]
	Consumer[T]

	// Cap returns the current capacity (the allocated ring for the
	// growable variant).
	Cap() int
	// MaxCap returns the capacity ceiling; equals Cap for the bounded
	// variant.
	MaxCap() int
	// AllocatedCap returns the currently allocated capacity.
	AllocatedCap() int
	// Dynamic reports whether the queue grows under pressure.
	Dynamic() bool
	// Depth returns the approximate number of queued elements. A guess
	// under concurrency; correctness never depends on it.
	Depth() int
	// IsEmpty reports whether the queue looked empty at the call.
	IsEmpty() bool
	// IsFull reports whether the queue looked full at the call.
	IsFull() bool
	// PushCount returns the number of producer tickets claimed so far.
	PushCount() uint64
	// PopCount returns the number of consumer tickets claimed so far.
	PopCount() uint64
}

// Producer is the enqueueing surface of a queue.
type Producer[T any] interface {
	// TryPush adds an element without blocking.
	// Returns ErrQueueFull when no slot is available.
	TryPush(v T) error
	// PushAsync returns a lazy asynchronous push of v.
	PushAsync(v T) *PushOp[T]
	// PushUntil returns a lazy asynchronous push racing the deadline.
	PushUntil(v T, deadline time.Time) *PushOp[T]
}

// Consumer is the dequeueing surface of a queue.
type Consumer[T any] interface {
	// TryPop removes and returns the oldest element without blocking.
	// Returns ErrQueueEmpty when no element is published.
	TryPop() (T, error)
	// PopAsync returns a lazy asynchronous pop.
	PopAsync() *PopOp[T]
	// PopUntil returns a lazy asynchronous pop racing the deadline.
	PopUntil(deadline time.Time) *PopOp[T]
}

// cacheLineSize is the assumed coherence granule.
const cacheLineSize = 64

// pad is cache line padding to prevent false sharing.
type pad [cacheLineSize]byte

// padShort is padding to fill a cache line after an 8-byte field.
type padShort [cacheLineSize - 8]byte
