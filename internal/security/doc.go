// Package security summarizes the security-relevant settings of an Engine
// and flags weak ones.
package security
