package installer

import (
	"context"

	domain "github.com/oshokin/formula-install/internal/domain/formula"
	"github.com/oshokin/formula-install/internal/logger"
	"github.com/oshokin/formula-install/internal/subprocess"
)

// runTestCommand runs the post-install check with the prefix bin directory first on PATH.
func (r *run) runTestCommand(ctx context.Context, dir string) ([]byte, error) {
	command := subprocess.Command{
		Argv:    r.layout.ExpandAll(r.descriptor.TestCommand),
		Dir:     dir,
		Env:     r.baseEnv().PrependPath(r.layout.Dir(domain.CategoryBin)),
		Timeout: r.cfg.TestTimeout,
	}

	logger.InfoKV(ctx, "Running self-test", "command", command.String())

	result, err := r.commands.Run(ctx, command)
	if err != nil {
		return nil, commandError(StepSelfTest, KindVerification, err)
	}

	if result == nil {
		return nil, nil
	}

	return result.Output, nil
}

// SelfTest re-runs the post-install check of d against the installed prefix.
func (i *Installer) SelfTest(ctx context.Context, d *domain.Descriptor) ([]byte, error) {
	r := &run{
		Installer:  i,
		descriptor: d.Clone(),
		layout:     domain.NewLayout(i.cfg.Prefix, d.Name),
	}

	ctx = logger.WithKV(logger.WithName(ctx, "self-test"), "formula", d.Name)

	return r.runTestCommand(ctx, i.cfg.Prefix)
}
