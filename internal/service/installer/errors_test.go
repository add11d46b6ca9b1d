package installer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/formula-install/internal/integrity"
)

// TestExitCode maps every failure to its documented status.
func TestExitCode(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err  error
		code int
	}{
		"success":      {nil, ExitOK},
		"usage":        {errors.New("bad flag"), ExitUsage},
		"network":      {newError(StepFetch, KindNetwork, errors.New("dial")), ExitNetwork},
		"integrity":    {newError(StepVerify, KindIntegrity, integrity.ErrMismatch), ExitIntegrity},
		"unpack":       {newError(StepUnpack, KindUnpack, errors.New("bad")), ExitUnpack},
		"build":        {newError(StepBuild, KindBuild, errors.New("exit 1")), ExitBuild},
		"install":      {newError(StepInstall, KindInstall, errors.New("disk")), ExitInstall},
		"verification": {newError(StepSelfTest, KindVerification, errors.New("exit 1")), ExitVerification},
		"locked":       {fmt.Errorf("x: %w", ErrLocked), ExitLocked},
		"interrupted":  {newError(StepBuild, KindBuild, context.Canceled), ExitInterrupted},
		"wrapped":      {fmt.Errorf("tool: %w", newError(StepUnpack, KindUnpack, errors.New("bad"))), ExitUnpack},
		"bare cancel":  {context.Canceled, ExitInterrupted},
	}

	for name, tc := range cases {
		require.Equal(t, tc.code, ExitCode(tc.err), name)
	}
}

// TestError_Diagnostic renders stage, kind, cause and output.
func TestError_Diagnostic(t *testing.T) {
	t.Parallel()

	err := newError(StepVerify, KindIntegrity, integrity.ErrMismatch)
	require.Equal(t, "verify: IntegrityError: checksum mismatch", err.Error())
	require.Equal(t, err.Error(), err.Diagnostic())
	require.ErrorIs(t, err, integrity.ErrMismatch)

	err.Output = []byte("line one\nline two\n")
	require.Equal(t, "verify: IntegrityError: checksum mismatch\nline one\nline two", err.Diagnostic())
}
