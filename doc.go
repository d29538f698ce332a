// Package packguard is the authentication, session and document-access core of
// the tech-pack document service.
//
// An [Engine] is built once with [New] and a [Builder] and then serves every
// request concurrently:
//
//   - credentials to tokens, with an optional e-mailed two-factor challenge
//     ([Engine.Login], [Engine.VerifyTwoFactor], [Engine.ResendTwoFactor])
//   - refresh and revocation ([Engine.Refresh], [Engine.Logout], [Engine.LogoutByRefresh])
//   - cache-assisted identity resolution ([Engine.Authenticate], [Engine.ResolveIdentity])
//   - document authorization and share management ([Engine.AuthorizeDocument],
//     [Engine.ShareDocument], [Engine.RevokeShare])
//   - an append-only audit trail ([Engine.QueryAudit])
//
// Access tokens are stateless; refresh tokens are additionally checked
// against the list of token ids stored on the identity. All identity writes
// are conditional on the identity's Version and retried on conflict.
//
// The cache is an accelerator only: a nil cache is a legal configuration and
// cache failures are logged, never returned.
//
// # Sub-packages
//
//   - jwt: access, refresh and two-factor token signing
//   - password: argon2id hashing
//   - permission: roles, actions, policy table and Authorize
//   - cache: Redis, in-process LRU and no-op caches
//   - store/postgres, store/memory: store implementations
//   - dispatch: out-of-band code senders
//   - httpapi: HTTP transport
package packguard
