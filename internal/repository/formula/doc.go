// Package formula loads package descriptors from disk.
//
// Descriptors are YAML documents (.yaml, .yml) or sandboxed Lua scripts
// (.lua) that assign a global "formula" table. Both forms go through the same
// finishing steps: the version is inferred from the source URL when absent,
// the license must be a valid SPDX expression, URLs must parse, and a package
// URL is derived when none is given.
package formula
