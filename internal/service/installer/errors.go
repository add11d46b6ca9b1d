package installer

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure. Every kind has its own exit code.
type Kind int

// Failure kinds.
const (
	KindNetwork Kind = iota + 1
	KindIntegrity
	KindUnpack
	KindBuild
	KindInstall
	KindVerification
	KindLock
	KindInterrupted
)

// Exit codes of the installer binaries.
const (
	ExitOK           = 0
	ExitUsage        = 1
	ExitNetwork      = 2
	ExitIntegrity    = 3
	ExitUnpack       = 4
	ExitBuild        = 5
	ExitInstall      = 6
	ExitVerification = 7
	ExitLocked       = 8
	ExitInterrupted  = 130
)

// String returns the kind name shown in diagnostics.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "NetworkError"
	case KindIntegrity:
		return "IntegrityError"
	case KindUnpack:
		return "UnpackError"
	case KindBuild:
		return "BuildError"
	case KindInstall:
		return "InstallError"
	case KindVerification:
		return "VerificationError"
	case KindLock:
		return "LockError"
	case KindInterrupted:
		return "Interrupted"
	default:
		return "UnknownError"
	}
}

// ExitCode maps the kind to the process exit status.
func (k Kind) ExitCode() int {
	switch k {
	case KindNetwork:
		return ExitNetwork
	case KindIntegrity:
		return ExitIntegrity
	case KindUnpack:
		return ExitUnpack
	case KindBuild:
		return ExitBuild
	case KindInstall:
		return ExitInstall
	case KindVerification:
		return ExitVerification
	case KindLock:
		return ExitLocked
	case KindInterrupted:
		return ExitInterrupted
	default:
		return ExitUsage
	}
}

// Error is a failed pipeline step.
type Error struct {
	// Stage names the step that failed: fetch, verify, unpack, build, install or self-test.
	Stage string
	Kind  Kind
	Err   error
	// Output is the captured tail of a failed subprocess, if any.
	Output []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Diagnostic renders the error followed by the captured output.
func (e *Error) Diagnostic() string {
	output := strings.TrimRight(string(e.Output), "\n")
	if output == "" {
		return e.Error()
	}

	return e.Error() + "\n" + output
}

func newError(stage string, kind Kind, err error) *Error {
	if errors.Is(err, context.Canceled) {
		kind = KindInterrupted
	}

	return &Error{
		Stage: stage,
		Kind:  kind,
		Err:   err,
	}
}

// ExitCode returns the process exit status for err: 0 for nil, the kind's
// code for pipeline errors, 130 for cancellation and 1 for everything else.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var pipelineErr *Error
	if errors.As(err, &pipelineErr) {
		return pipelineErr.Kind.ExitCode()
	}

	switch {
	case errors.Is(err, ErrLocked):
		return ExitLocked
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		return ExitUsage
	}
}
