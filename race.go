// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package waitq

// RaceEnabled is true when the race detector is active.
// Tests can key on it to skip concurrent tests on the lock-free paths,
// which trigger false positives due to cross-variable memory ordering;
// this package's own tests use the !race build tag instead.
const RaceEnabled = true
