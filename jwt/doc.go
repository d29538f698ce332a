// Package jwt issues and verifies the three signed token kinds: access,
// refresh, and two-factor session tokens. Each kind is signed with its own
// secret so a token of one kind never verifies as another.
//
// Verification is a pure function of the token, the configured secrets and
// the clock. It performs no I/O and is safe to call on every request.
package jwt
