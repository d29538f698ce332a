// Package permission resolves document-scoped authorization decisions.
//
// A decision combines three inputs: the caller's system-wide role, the
// document's owner, and the caller's share entry on that document. The
// combination of system role and share role goes through an explicit
// [Policy] lookup table so the precedence rules live in data, not in
// scattered comparisons.
//
// # Architecture boundaries
//
// This package is pure: it performs no I/O and holds no mutable state.
// Callers fetch the document and share entry before calling [Authorize].
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import packguard, jwt, or any store package.
//   - Let a share path produce the Owner role.
package permission
