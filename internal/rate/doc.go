// Package rate counts failed logins per key in Redis with fixed windows.
//
// A key is throttled once it has MaxFailures failures inside the current
// Window. The first failure starts the window (INCR plus EXPIRE on the first
// hit); a successful login deletes the counter.
package rate
