// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package waitq

import (
	"math/bits"
	"unsafe"

	"code.hybscloud.com/atomix"
)

// slot is one ring entry. The turn word is the single source of truth
// for liveness: even = empty (producer's turn), odd = full (consumer's
// turn). Each full trip around the ring advances turn by 2.
type slot[T any] struct {
	turn atomix.Uint64
	data T
	_    padShort
}

// ringGeometry is the precomputed index math for one slot array.
type ringGeometry struct {
	capacity uint64
	stride   uint64
	pad      uint64 // leading slots reserved as cache-line padding
	mask     uint64
	shift    uint
	pow2     bool
}

func makeGeometry[T any](capacity uint64) ringGeometry {
	g := ringGeometry{
		capacity: capacity,
		stride:   computeStride(capacity),
		pad:      slotPad[T](),
	}
	if capacity&(capacity-1) == 0 {
		g.pow2 = true
		g.mask = capacity - 1
		g.shift = uint(bits.TrailingZeros64(capacity))
	}
	return g
}

// slotPad returns how many slots one cache line of padding needs at each
// end of the array, so the hot tickets never share a line with slot 0 or
// slot capacity-1.
func slotPad[T any]() uint64 {
	size := uint64(unsafe.Sizeof(slot[T]{}))
	return (cacheLineSize-1)/size + 1
}

// allocSlots allocates the padded slot array for capacity elements.
// Turns start at 0: every slot is on its first producer turn.
func allocSlots[T any](g ringGeometry) []slot[T] {
	return make([]slot[T], g.capacity+2*g.pad)
}

// slotIndex maps a local ticket to its padded array index. The stride
// multiplier decorrelates adjacent tickets across cache lines.
func (g ringGeometry) slotIndex(ticket uint64) uint64 {
	if g.pow2 {
		return (ticket*g.stride)&g.mask + g.pad
	}
	return (ticket*g.stride)%g.capacity + g.pad
}

// enqueueTurn is the turn value at which a producer owns the slot for
// the given local ticket.
func (g ringGeometry) enqueueTurn(ticket uint64) uint64 {
	if g.pow2 {
		return (ticket >> g.shift) << 1
	}
	return (ticket / g.capacity) * 2
}

// dequeueTurn is the turn value at which a consumer owns the slot for
// the given local ticket.
func (g ringGeometry) dequeueTurn(ticket uint64) uint64 {
	return g.enqueueTurn(ticket) + 1
}

// smallPrimes are the stride candidates. All are coprime to any capacity
// they do not divide.
var smallPrimes = [...]uint64{2, 3, 5, 7, 11, 13, 17, 19, 23}

// computeStride picks the candidate prime maximizing the minimum
// circular separation of consecutive tickets, or 1 when no candidate is
// coprime to the capacity.
func computeStride(capacity uint64) uint64 {
	bestStride := uint64(1)
	bestSeparation := uint64(1)

	for _, stride := range smallPrimes {
		if stride%capacity == 0 || capacity%stride == 0 {
			continue
		}
		separation := stride % capacity
		if capacity-separation < separation {
			separation = capacity - separation
		}
		if separation > bestSeparation {
			bestStride = stride
			bestSeparation = separation
		}
	}
	return bestStride
}

// waitReg is the (turn address, expected turn, bucket hint) triple an
// async operation arms its waiter with.
type waitReg struct {
	turnPtr  *atomix.Uint64
	expected uint64
	hint     uint16
}

// waitRing is the internal surface the async operations drive. Both
// queue variants implement it.
type waitRing[T any] interface {
	TryPush(v T) error
	TryPop() (T, error)

	pushWaitReg() waitReg
	popWaitReg() waitReg
	armPush(w *Waiter) bool
	disarmPush(w *Waiter)
	armPop(w *Waiter) bool
	disarmPop(w *Waiter)
}
