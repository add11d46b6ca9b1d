// Package subprocess runs build and check commands.
//
// Commands get an explicit environment map instead of inheriting the parent
// process environment, their output is always drained, and only the tail of
// the combined output is kept for diagnostics.
package subprocess
