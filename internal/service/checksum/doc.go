// Package checksum computes the expected source digest of a formula.
//
// The source archive is downloaded like the installer does it and hashed
// with SHA-256. YAML descriptors can have the digest written back in place.
package checksum
