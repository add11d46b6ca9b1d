// Package installer runs the install pipeline of a formula.
//
// Stages run strictly in order: fetch, verify, unpack, build, install and
// self-test. The first failure stops the run, rolls back any applied
// artifacts and is reported as an *Error whose Kind maps to an exit code.
// The build workspace is removed on every exit path.
package installer
