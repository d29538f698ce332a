// Package internal contains helpers that are private to packguard: one-time
// code generation and hashing.
//
// # Sub-packages
//
//   - audit: async record dispatch (Dispatcher + Sink implementations)
//   - flows: pure two-factor challenge transitions used by the Engine
//
// # What this package must NOT do
//
//   - Export types that appear in the public packguard API.
//   - Persist or log plaintext codes.
package internal
