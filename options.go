// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package waitq

// Builder creates queues and channels with fluent configuration.
//
// Example:
//
//	// Bounded queue
//	q := waitq.Build[Event](waitq.New(1024))
//
//	// Capped-growth queue: start at 64, grow ×2 up to 4096
//	q := waitq.Build[Event](waitq.New(64).Grow(4096, 2))
//
//	// Closable channel
//	ch := waitq.BuildChan[Request](waitq.New(256))
type Builder struct {
	capacity     int
	maxCapacity  int
	growthFactor int
}

// New creates a queue builder with the given capacity.
// Panics if capacity < 1; a zero-capacity ring is a programming error.
func New(capacity int) *Builder {
	if capacity < 1 {
		panic("waitq: capacity must be > 0")
	}
	return &Builder{capacity: capacity}
}

// Grow enables capped growth up to maxCapacity, multiplying the
// capacity by factor per growth step. Factors below 2 are clamped to 2;
// a maxCapacity at or below the initial capacity disables growth.
func (b *Builder) Grow(maxCapacity, factor int) *Builder {
	b.maxCapacity = maxCapacity
	b.growthFactor = factor
	return b
}

// Build creates a Queue[T] from the builder configuration: the bounded
// ticket ring by default, the capped-growth variant after Grow.
func Build[T any](b *Builder) Queue[T] {
	if b.maxCapacity > b.capacity {
		return NewDynamicMPMC[T](b.capacity, DynamicOptions{
			MaxCapacity:  b.maxCapacity,
			GrowthFactor: b.growthFactor,
		})
	}
	return NewMPMC[T](b.capacity)
}

// BuildMPMC creates the bounded variant with compile-time type safety.
// Panics if the builder has Grow configured.
func BuildMPMC[T any](b *Builder) *MPMC[T] {
	if b.maxCapacity > b.capacity {
		panic("waitq: BuildMPMC requires a builder without Grow")
	}
	return NewMPMC[T](b.capacity)
}

// BuildDynamic creates the capped-growth variant with compile-time type
// safety. Panics unless Grow is configured with headroom.
func BuildDynamic[T any](b *Builder) *DynamicMPMC[T] {
	if b.maxCapacity <= b.capacity {
		panic("waitq: BuildDynamic requires Grow with maxCapacity above capacity")
	}
	return NewDynamicMPMC[T](b.capacity, DynamicOptions{
		MaxCapacity:  b.maxCapacity,
		GrowthFactor: b.growthFactor,
	})
}

// BuildChan creates a closable channel with the builder's capacity.
// The channel's ring is always bounded; Grow does not apply and panics.
func BuildChan[T any](b *Builder) *Chan[T] {
	if b.maxCapacity > b.capacity {
		panic("waitq: BuildChan requires a builder without Grow")
	}
	return NewChan[T](b.capacity)
}
