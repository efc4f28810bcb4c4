// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package waitq

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// Stop is a cooperative stop source for detached operations.
//
// A Stop is handed to StartWithStop; requesting it completes every
// subscribed operation with ErrCanceled. Requests are sticky and
// idempotent: the first Request wins, later ones are no-ops, and
// operations subscribing after the request are canceled immediately.
//
// The zero value is ready to use.
type Stop struct {
	requested atomix.Uint32
	lock      atomix.Uint32
	subs      []func()
}

// Request triggers the stop. Subscribed cancel hooks run once, on the
// calling goroutine.
func (s *Stop) Request() {
	if !s.requested.CompareAndSwapAcqRel(0, 1) {
		return
	}
	s.acquire()
	subs := s.subs
	s.subs = nil
	s.release()

	for _, fn := range subs {
		fn()
	}
}

// Requested reports whether Request has been called.
func (s *Stop) Requested() bool {
	return s.requested.LoadAcquire() != 0
}

// subscribe registers fn to run on Request. When the stop is already
// requested, fn runs immediately on the calling goroutine.
func (s *Stop) subscribe(fn func()) {
	if s.Requested() {
		fn()
		return
	}
	s.acquire()
	if s.requested.LoadAcquire() != 0 {
		s.release()
		fn()
		return
	}
	s.subs = append(s.subs, fn)
	s.release()
}

func (s *Stop) acquire() {
	sw := spin.Wait{}
	for !s.lock.CompareAndSwapAcqRel(0, 1) {
		sw.Once()
	}
}

func (s *Stop) release() {
	s.lock.StoreRelease(0)
}
