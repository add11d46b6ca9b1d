// Package integrity checks downloaded sources against their expected SHA-256
// digest and, when a formula declares one, a detached OpenPGP signature.
package integrity
