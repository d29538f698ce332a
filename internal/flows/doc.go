// Package flows contains the pure two-factor challenge transitions.
//
// The functions take the current pending challenge (nil means no challenge)
// and return the next one together with an [Outcome]. They never perform I/O;
// the Engine persists the returned state through a conditional identity
// update before it answers the caller.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import packguard (to avoid import cycles).
//   - Read the clock; callers pass now.
package flows
