// Package middleware exposes HTTP middleware adapters over packguard.Engine.
//
// # Guards
//
//   - [Guard] verifies the bearer access token and resolves the identity
//     through the cache-assisted lookup.
//   - [RequireClaims] verifies the access token only; no store or cache call.
//   - [RequireRole] rejects identities below a system role. It must run
//     behind Guard.
//
// # Plumbing
//
// [RequestID], [AccessLog], [Recoverer], [MaxBodyBytes] and [RateLimit] are
// route-independent and compose with gorilla/mux's Use.
//
// This package translates HTTP semantics into Engine calls. Authorization
// decisions beyond pass/reject live in the Engine.
package middleware
