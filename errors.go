// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package waitq

import (
	"errors"

	"code.hybscloud.com/iox"
)

// Code identifies one of the closed set of operation outcomes.
//
// Codes have stable string names (see [Code.String]) and a fixed
// classification into a [Kind]. New codes are not added at runtime.
type Code uint8

const (
	// CodeOK is the zero code: the operation succeeded.
	CodeOK Code = iota

	// CodeInvalidArgument reports a malformed argument.
	CodeInvalidArgument

	// CodeContractViolation reports a broken API contract.
	CodeContractViolation

	// CodeCanceled reports cooperative cancellation of an async operation.
	CodeCanceled

	// CodeTimeout reports a missed deadline on an Until variant.
	CodeTimeout

	// CodeUnavailable reports a dependency that cannot serve the request.
	CodeUnavailable

	// CodeChannelClosed reports an operation against a closed channel.
	CodeChannelClosed

	// CodeQueueEmpty reports a dequeue from an empty queue.
	CodeQueueEmpty

	// CodeQueueFull reports an enqueue into a full queue.
	CodeQueueFull

	// CodeResourceExhausted reports a depleted internal resource.
	CodeResourceExhausted

	// CodeInternal is reserved for unreachable paths.
	CodeInternal
)

// String returns the stable name of the code.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeContractViolation:
		return "contract_violation"
	case CodeCanceled:
		return "canceled"
	case CodeTimeout:
		return "timeout"
	case CodeUnavailable:
		return "unavailable"
	case CodeChannelClosed:
		return "channel_closed"
	case CodeQueueEmpty:
		return "queue_empty"
	case CodeQueueFull:
		return "queue_full"
	case CodeResourceExhausted:
		return "resource_exhausted"
	case CodeInternal:
		return "internal_error"
	}
	return "unknown"
}

// Kind groups codes by how the caller should react.
type Kind uint8

const (
	// KindSuccess classifies CodeOK.
	KindSuccess Kind = iota
	// KindContract errors are terminal: the caller must adjust usage.
	KindContract
	// KindResource errors are transient and retriable.
	KindResource
	// KindCanceled errors terminate a cooperatively canceled operation.
	KindCanceled
	// KindTimeout errors terminate a deadline variant.
	KindTimeout
	// KindUnavailable errors report an unserviceable dependency.
	KindUnavailable
	// KindInternal errors are reserved for unreachable paths.
	KindInternal
)

// String returns the stable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindContract:
		return "contract"
	case KindResource:
		return "resource"
	case KindCanceled:
		return "canceled"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	case KindInternal:
		return "internal"
	}
	return "unknown"
}

// Classify maps a code to its kind.
func Classify(c Code) Kind {
	switch c {
	case CodeOK:
		return KindSuccess
	case CodeInvalidArgument, CodeContractViolation, CodeChannelClosed:
		return KindContract
	case CodeQueueEmpty, CodeQueueFull, CodeResourceExhausted:
		return KindResource
	case CodeCanceled:
		return KindCanceled
	case CodeTimeout:
		return KindTimeout
	case CodeUnavailable:
		return KindUnavailable
	}
	return KindInternal
}

// Error is the concrete type behind every sentinel in this package.
// Queue-pressure errors unwrap to [iox.ErrWouldBlock] so the usual iox
// retry helpers keep working across the ecosystem.
type Error struct {
	code Code
}

// Code returns the error's code.
func (e *Error) Code() Code { return e.code }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return Classify(e.code) }

// Error implements the error interface with the code's stable name.
func (e *Error) Error() string { return "waitq: " + e.code.String() }

// Unwrap makes the transient queue-pressure errors match
// [iox.ErrWouldBlock] under errors.Is.
func (e *Error) Unwrap() error {
	if e.code == CodeQueueFull || e.code == CodeQueueEmpty {
		return iox.ErrWouldBlock
	}
	return nil
}

// Sentinel errors: the package's entire error surface. Compare with
// errors.Is, or classify via CodeOf/KindOf.
var (
	// ErrQueueFull indicates TryPush found no free slot (backpressure).
	ErrQueueFull = &Error{code: CodeQueueFull}
	// ErrQueueEmpty indicates TryPop found no published value.
	ErrQueueEmpty = &Error{code: CodeQueueEmpty}
	// ErrChannelClosed indicates the channel has been closed.
	ErrChannelClosed = &Error{code: CodeChannelClosed}
	// ErrCanceled indicates an async operation was canceled.
	ErrCanceled = &Error{code: CodeCanceled}
	// ErrTimeout indicates a deadline variant expired.
	ErrTimeout = &Error{code: CodeTimeout}
	// ErrUnavailable indicates an unserviceable dependency.
	ErrUnavailable = &Error{code: CodeUnavailable}
	// ErrInvalidArgument indicates a malformed argument.
	ErrInvalidArgument = &Error{code: CodeInvalidArgument}
	// ErrContractViolation indicates a broken API contract.
	ErrContractViolation = &Error{code: CodeContractViolation}
	// ErrResourceExhausted indicates a depleted internal resource.
	ErrResourceExhausted = &Error{code: CodeResourceExhausted}
	// ErrInternal is reserved for unreachable paths.
	ErrInternal = &Error{code: CodeInternal}
)

// CodeOf extracts the code from err. Returns CodeOK for nil and
// CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return CodeInternal
}

// KindOf classifies err. Foreign errors classify as KindInternal.
func KindOf(err error) Kind { return Classify(CodeOf(err)) }

// IsWouldBlock reports whether err indicates the operation would block
// (queue full or empty). Delegates to [iox.IsWouldBlock] for wrapped
// error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal (not a failure).
// Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition.
// Delegates to [iox.IsNonFailure].
func IsNonFailure(err error) bool {
	return err == nil || iox.IsNonFailure(err)
}
