package subprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/oshokin/formula-install/internal/logger"
)

// waitDelay bounds how long Wait blocks on output pipes after the process is killed.
const waitDelay = 5 * time.Second

var (
	// ErrNotFound is returned when the executable is not on the command's PATH.
	ErrNotFound = errors.New("executable not found")
	// ErrEmptyCommand is returned for an empty argv.
	ErrEmptyCommand = errors.New("empty command")
)

// Command describes one child process.
type Command struct {
	Argv []string
	Dir  string
	// Env is the complete environment; nothing is inherited implicitly.
	Env Env
	// Timeout kills the process after the given duration. Zero means no bound.
	Timeout time.Duration
}

// String renders the argv for logs.
func (c Command) String() string {
	return strings.Join(c.Argv, " ")
}

// Result is what a successful command produced.
type Result struct {
	// Output is the tail of the combined stdout and stderr.
	Output    []byte
	Truncated bool
	Duration  time.Duration
}

// ExitError is returned when the command ran but did not succeed.
type ExitError struct {
	Argv []string
	// Code is the exit status, or -1 when the process was killed.
	Code      int
	Output    []byte
	Truncated bool
	// Err is the underlying cause, such as context.DeadlineExceeded.
	Err error
}

func (e *ExitError) Error() string {
	if e.Code < 0 {
		return fmt.Sprintf("%s: %v", strings.Join(e.Argv, " "), e.Err)
	}

	return fmt.Sprintf("%s: exit status %d", strings.Join(e.Argv, " "), e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Runner starts commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Exec runs commands as real child processes.
type Exec struct {
	// TailSize is the number of output bytes kept; zero means DefaultTailSize.
	TailSize int
}

// Run starts cmd, drains its output and waits for it to exit.
func (x Exec) Run(ctx context.Context, cmd Command) (*Result, error) {
	if len(cmd.Argv) == 0 || cmd.Argv[0] == "" {
		return nil, ErrEmptyCommand
	}

	executable, err := lookPath(cmd.Argv[0], cmd.Env[PathKey], executableSuffixes(cmd.Env))
	if err != nil {
		return nil, err
	}

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	tailSize := x.TailSize
	if tailSize <= 0 {
		tailSize = DefaultTailSize
	}

	var (
		tail  = newTailBuffer(tailSize)
		lines = &lineLogger{ctx: ctx}
		sink  = io.MultiWriter(tail, lines)
	)

	//nolint:gosec // Running formula commands is the point of this package.
	child := exec.CommandContext(ctx, executable, cmd.Argv[1:]...)
	child.Dir = cmd.Dir
	child.Env = cmd.Env.List()
	child.Stdout = sink
	child.Stderr = sink
	child.WaitDelay = waitDelay

	logger.DebugKV(ctx, "Starting command", "argv", cmd.String(), "dir", cmd.Dir)

	started := time.Now()
	err = child.Run()
	lines.flush()

	output, truncated := tail.bytes()

	if err == nil {
		return &Result{
			Output:    output,
			Truncated: truncated,
			Duration:  time.Since(started),
		}, nil
	}

	exitErr := &ExitError{
		Argv:      cmd.Argv,
		Code:      -1,
		Output:    output,
		Truncated: truncated,
		Err:       err,
	}

	var processErr *exec.ExitError

	switch {
	case ctx.Err() != nil:
		exitErr.Err = ctx.Err()
	case errors.As(err, &processErr) && processErr.ExitCode() >= 0:
		exitErr.Code = processErr.ExitCode()
	}

	return nil, exitErr
}

// defaultPathExt is used on Windows when the command environment has no PATHEXT.
const defaultPathExt = ".com;.exe;.bat;.cmd"

// executableSuffixes returns the PATHEXT suffixes tried on Windows and nil elsewhere.
func executableSuffixes(env Env) []string {
	if runtime.GOOS != "windows" {
		return nil
	}

	pathExt := env["PATHEXT"]
	if pathExt == "" {
		pathExt = defaultPathExt
	}

	var suffixes []string

	for _, ext := range strings.Split(pathExt, ";") {
		if ext = strings.TrimSpace(ext); ext != "" {
			suffixes = append(suffixes, ext)
		}
	}

	return suffixes
}

// lookPath resolves name against pathList rather than the parent's PATH.
// With suffixes, a candidate is name plus one of them and the execute bit is not required.
func lookPath(name, pathList string, suffixes []string) (string, error) {
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		return name, nil
	}

	for _, dir := range filepath.SplitList(pathList) {
		if dir == "" {
			continue
		}

		if suffixes == nil {
			candidate := filepath.Join(dir, name)

			info, err := os.Stat(candidate)
			if err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0 {
				return candidate, nil
			}

			continue
		}

		for _, candidate := range suffixedCandidates(filepath.Join(dir, name), suffixes) {
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("%s: %w", name, ErrNotFound)
}

// suffixedCandidates keeps base first when it already ends in a known suffix.
func suffixedCandidates(base string, suffixes []string) []string {
	candidates := make([]string, 0, len(suffixes)+1)

	for _, ext := range suffixes {
		if strings.EqualFold(filepath.Ext(base), ext) {
			candidates = append(candidates, base)

			break
		}
	}

	for _, ext := range suffixes {
		candidates = append(candidates, base+ext)
	}

	return candidates
}
