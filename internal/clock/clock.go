// Package clock provides an injectable notion of "now" so pruning and
// window computations in the reconciler are deterministic under test, per
// spec section 9's design note.
package clock

import "time"

// Source returns the current time. Real callers pass Real; tests pass a
// closure over a fixed or advancing time.Time.
type Source func() time.Time

// Real is the production clock source.
func Real() time.Time {
	return time.Now()
}

// Fixed returns a Source that always reports t.
func Fixed(t time.Time) Source {
	return func() time.Time { return t }
}
