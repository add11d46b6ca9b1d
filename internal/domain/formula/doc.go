// Package formula holds the domain model of a package descriptor: what to
// fetch, how to build it, which artifacts to install where, and how to check
// the result. It also defines the pipeline stages an install goes through.
package formula
