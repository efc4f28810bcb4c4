// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package waitq

import (
	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// Channel operations as algebraic effects on [code.hybscloud.com/kont].
//
// Protocols over a channel compose as kont computations and evaluate
// with Exec/ExecExpr, which wait past backpressure boundaries with
// adaptive backoff. Dispatch itself is non-blocking: an effect returns
// iox.ErrWouldBlock when the channel cannot make progress, and the
// handler retries.

// chanDispatcher is the structural interface for channel effects.
type chanDispatcher[T any] interface {
	dispatchChan(st *chanState[T]) (kont.Resumed, error)
}

// PushEff is the effect operation for pushing a value of type T.
// Resumes with Right on success, Left(ErrChannelClosed) on a closed
// channel.
type PushEff[T any] struct {
	kont.Phantom[kont.Either[error, struct{}]]
	Value T
}

func (e PushEff[T]) dispatchChan(st *chanState[T]) (kont.Resumed, error) {
	err := chanTryPush(st, e.Value)
	switch err {
	case nil:
		return kont.Right[error](struct{}{}), nil
	case ErrQueueFull:
		return nil, iox.ErrWouldBlock
	}
	return kont.Left[error, struct{}](err), nil
}

// PopEff is the effect operation for popping a value of type T.
// Resumes with Right(value), or Left(ErrChannelClosed) once the channel
// is closed and drained.
type PopEff[T any] struct {
	kont.Phantom[kont.Either[error, T]]
}

func (PopEff[T]) dispatchChan(st *chanState[T]) (kont.Resumed, error) {
	v, err := chanTryPop(st)
	switch err {
	case nil:
		return kont.Right[error](v), nil
	case ErrQueueEmpty:
		return nil, iox.ErrWouldBlock
	}
	return kont.Left[error, T](err), nil
}

// CloseEff is the effect operation for closing the channel.
// Resumes with the Close result: true for the closing winner.
type CloseEff[T any] struct {
	kont.Phantom[bool]
}

func (CloseEff[T]) dispatchChan(st *chanState[T]) (kont.Resumed, error) {
	return chanClose(st), nil
}

// PushBind pushes v and passes the outcome (nil or ErrChannelClosed)
// to f. Fuses Perform(PushEff) + Bind.
func PushBind[T, B any](v T, f func(error) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(PushEff[T]{Value: v}), func(e kont.Either[error, struct{}]) kont.Eff[B] {
		if l, ok := e.GetLeft(); ok {
			return f(l)
		}
		return f(nil)
	})
}

// PopBind pops a value and passes (value, nil) or (zero,
// ErrChannelClosed) to f. Fuses Perform(PopEff) + Bind.
func PopBind[T, B any](f func(T, error) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(PopEff[T]{}), func(e kont.Either[error, T]) kont.Eff[B] {
		if l, ok := e.GetLeft(); ok {
			var zero T
			return f(zero, l)
		}
		r, _ := e.GetRight()
		return f(r, nil)
	})
}

// CloseDone closes the channel and returns a.
// Fuses Perform(CloseEff) + Then + Pure.
func CloseDone[T, A any](a A) kont.Eff[A] {
	return kont.Then(kont.Perform(CloseEff[T]{}), kont.Pure(a))
}

// chanHandler implements kont.Handler for channel effects, waiting past
// iox.ErrWouldBlock boundaries with adaptive backoff.
type chanHandler[T, R any] struct {
	st *chanState[T]
}

func (h chanHandler[T, R]) Dispatch(op kont.Operation) (kont.Resumed, bool) {
	cop, ok := op.(chanDispatcher[T])
	if !ok {
		panic("waitq: unhandled effect in channel handler")
	}
	var bo iox.Backoff
	for {
		v, err := cop.dispatchChan(h.st)
		if err == nil {
			return v, true
		}
		bo.Wait()
	}
}

// Exec runs a Cont-world channel protocol against ch. Blocks past
// backpressure via adaptive backoff, without spawning goroutines or
// creating channels.
func Exec[T, R any](ch *Chan[T], protocol kont.Eff[R]) R {
	return kont.Handle(protocol, chanHandler[T, R]{st: ch.st})
}

// ExecExpr runs an Expr-world channel protocol against ch. Blocks past
// backpressure via adaptive backoff, without spawning goroutines or
// creating channels.
func ExecExpr[T, R any](ch *Chan[T], protocol kont.Expr[R]) R {
	return kont.HandleExpr(protocol, chanHandler[T, R]{st: ch.st})
}
