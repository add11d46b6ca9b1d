package installer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/formula-install/internal/archive"
	"github.com/oshokin/formula-install/internal/config"
	domain "github.com/oshokin/formula-install/internal/domain/formula"
	"github.com/oshokin/formula-install/internal/fetch"
	"github.com/oshokin/formula-install/internal/integrity"
	"github.com/oshokin/formula-install/internal/logger"
	"github.com/oshokin/formula-install/internal/platform"
	"github.com/oshokin/formula-install/internal/repository/receipt"
	"github.com/oshokin/formula-install/internal/service/common"
	"github.com/oshokin/formula-install/internal/subprocess"
	"github.com/oshokin/formula-install/internal/vcs"
)

// Step names used in diagnostics.
const (
	StepLock     = "lock"
	StepFetch    = "fetch"
	StepVerify   = "verify"
	StepUnpack   = "unpack"
	StepBuild    = "build"
	StepInstall  = "install"
	StepSelfTest = "self-test"
)

var errNoHead = errors.New("descriptor has no head url")

const (
	sourceFilename    = "source"
	sourceDirname     = "src"
	signatureMaxBytes = 1 << 20
)

// Fetcher downloads release sources and signatures.
type Fetcher interface {
	DownloadFile(ctx context.Context, url, path string) (int64, error)
	Get(ctx context.Context, url string, limit int64) ([]byte, error)
}

// Cloner checks out development heads.
type Cloner interface {
	Clone(ctx context.Context, url, dest string) (string, error)
}

// Request selects how one descriptor is installed.
type Request struct {
	// Head builds from the development head instead of the release archive.
	Head bool
	// Force reinstalls even when the receipt says the formula is current.
	Force bool
}

// Result is the outcome of one install.
type Result struct {
	Name  string
	Stage domain.Stage
	// History lists every stage the run went through, starting at Pending.
	History []domain.Stage
	// Skipped is set when the formula was already installed and nothing ran.
	Skipped bool
	Receipt *domain.Receipt
	// TestOutput is the tail of the self-test output.
	TestOutput []byte
}

// Installer executes the install pipeline.
type Installer struct {
	cfg      *config.Config
	fetcher  Fetcher
	cloner   Cloner
	commands subprocess.Runner
	detector platform.Detector
	receipts receipt.Repository
	baseEnv  func() subprocess.Env
	now      func() time.Time
}

// Option configures an Installer.
type Option func(*Installer)

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f Fetcher) Option {
	return func(i *Installer) {
		i.fetcher = f
	}
}

// WithCloner replaces the git cloner.
func WithCloner(c Cloner) Option {
	return func(i *Installer) {
		i.cloner = c
	}
}

// WithRunner replaces the subprocess runner.
func WithRunner(r subprocess.Runner) Option {
	return func(i *Installer) {
		i.commands = r
	}
}

// WithDetector replaces host detection.
func WithDetector(d platform.Detector) Option {
	return func(i *Installer) {
		i.detector = d
	}
}

// WithReceipts replaces the receipt repository.
func WithReceipts(r receipt.Repository) Option {
	return func(i *Installer) {
		i.receipts = r
	}
}

// WithBaseEnv replaces the environment snapshot commands start from.
func WithBaseEnv(env func() subprocess.Env) Option {
	return func(i *Installer) {
		i.baseEnv = env
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Installer) {
		i.now = now
	}
}

// New creates an Installer for validated settings.
func New(cfg *config.Config, opts ...Option) *Installer {
	i := &Installer{
		cfg: cfg,
		fetcher: fetch.NewFetcher(
			fetch.WithUserAgent(cfg.UserAgent),
			fetch.WithRetries(cfg.Retries),
			fetch.WithTimeout(cfg.FetchTimeout),
			fetch.WithBreakerThreshold(cfg.BreakerThreshold),
		),
		cloner:   vcs.NewCloner(),
		commands: subprocess.Exec{},
		detector: platform.HostDetector{},
		receipts: receipt.NewFileRepository(domain.NewLayout(cfg.Prefix, "").StateDir()),
		baseEnv:  subprocess.Snapshot,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// run holds the state of one install.
type run struct {
	*Installer

	descriptor *domain.Descriptor
	layout     domain.Layout
	request    Request
	result     *Result
	workspace  string
	buildDir   string
	commit     string
	tx         transaction
}

// Install runs the pipeline for d. The descriptor is cloned and never modified.
func (i *Installer) Install(ctx context.Context, d *domain.Descriptor, request Request) (*Result, error) {
	r := &run{
		Installer:  i,
		descriptor: d.Clone(),
		layout:     domain.NewLayout(i.cfg.Prefix, d.Name),
		request:    request,
		result: &Result{
			Name:    d.Name,
			Stage:   domain.StagePending,
			History: []domain.Stage{domain.StagePending},
		},
	}

	ctx = logger.WithKV(logger.WithName(ctx, "installer"), "formula", d.Name)

	err := r.execute(ctx)
	if err != nil {
		r.move(ctx, domain.StageFailed)

		return r.result, err
	}

	return r.result, nil
}

func (r *run) execute(ctx context.Context) error {
	lock, err := acquireLock(ctx, filepath.Join(r.layout.StateDir(), r.descriptor.Name+".lock"), r.now())
	if err != nil {
		if errors.Is(err, ErrLocked) {
			return newError(StepLock, KindLock, err)
		}

		return newError(StepLock, KindInstall, err)
	}

	defer lock.release(ctx)

	if r.upToDate(ctx) {
		logger.InfoKV(ctx, "Already installed", "version", r.descriptor.Version)

		r.result.Skipped = true
		r.result.Stage = domain.StageDone
		r.result.History = append(r.result.History, domain.StageDone)

		return nil
	}

	workspace, err := r.createWorkspace()
	if err != nil {
		return newError(StepFetch, KindInstall, err)
	}

	r.workspace = workspace

	defer r.removeWorkspace(ctx)

	steps := []func(context.Context) error{
		r.fetchSource,
		r.verifySource,
		r.unpackSource,
		r.build,
		r.install,
		r.selfTest,
		r.finish,
	}

	for _, step := range steps {
		if err = step(ctx); err != nil {
			r.tx.rollback(ctx)

			return err
		}
	}

	return nil
}

// move records a stage transition.
func (r *run) move(ctx context.Context, to domain.Stage) {
	if !r.result.Stage.CanTransition(to) {
		logger.WarnKV(ctx, "Ignoring illegal stage transition", "from", r.result.Stage, "to", to)

		return
	}

	logger.DebugKV(ctx, "Stage reached", "stage", to)

	r.result.Stage = to
	r.result.History = append(r.result.History, to)
}

// upToDate reports whether the receipt matches the descriptor and every
// recorded file still has its recorded checksum.
func (r *run) upToDate(ctx context.Context) bool {
	if r.request.Force || r.request.Head {
		return false
	}

	existing, err := r.receipts.Load(ctx, r.descriptor.Name)
	if err != nil {
		if !errors.Is(err, receipt.ErrNotFound) {
			logger.WarnKV(ctx, "Ignoring unreadable receipt", "error", err)
		}

		return false
	}

	if !existing.Matches(r.descriptor) || len(existing.Files) != len(r.descriptor.Install) {
		return false
	}

	for _, step := range r.descriptor.Install {
		recorded, ok := existing.Files[r.layout.Target(step)]
		if !ok {
			return false
		}

		checksum, err := integrity.FileChecksum(r.layout.Target(step))
		if err != nil || base64.StdEncoding.EncodeToString(checksum) != recorded {
			logger.InfoKV(ctx, "Installed file changed, reinstalling", "path", r.layout.Target(step))

			return false
		}
	}

	return true
}

func (r *run) createWorkspace() (string, error) {
	if r.cfg.WorkDir != "" {
		if err := os.MkdirAll(r.cfg.WorkDir, config.DefaultDirPermissions); err != nil {
			return "", fmt.Errorf("create work dir: %w", err)
		}
	}

	// MkdirTemp creates the directory with 0700.
	workspace, err := os.MkdirTemp(r.cfg.WorkDir, "formula-install-"+r.descriptor.Name+"-")
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}

	return workspace, nil
}

func (r *run) removeWorkspace(ctx context.Context) {
	if r.workspace == "" {
		return
	}

	if err := os.RemoveAll(r.workspace); err != nil {
		logger.WarnKV(ctx, "Unable to remove workspace", "path", r.workspace, "error", err)
	}
}

// fetchSource downloads the release archive, or clones the head.
func (r *run) fetchSource(ctx context.Context) error {
	if r.request.Head {
		return r.cloneHead(ctx)
	}

	url := r.descriptor.SourceURL()
	logger.InfoKV(ctx, "Fetching source", "url", url)

	size, err := r.fetcher.DownloadFile(ctx, url, filepath.Join(r.workspace, sourceFilename))
	if err != nil {
		return newError(StepFetch, KindNetwork, err)
	}

	logger.DebugKV(ctx, "Source downloaded", "bytes", size)
	r.move(ctx, domain.StageFetched)

	return nil
}

func (r *run) cloneHead(ctx context.Context) error {
	if r.descriptor.Head == "" {
		return newError(StepFetch, KindNetwork, fmt.Errorf("%s: %w", r.descriptor.Name, errNoHead))
	}

	logger.InfoKV(ctx, "Cloning head", "url", r.descriptor.Head)

	dest := filepath.Join(r.workspace, sourceDirname)

	commit, err := r.cloner.Clone(ctx, r.descriptor.Head, dest)
	if err != nil {
		return newError(StepFetch, KindNetwork, err)
	}

	r.commit = commit
	r.buildDir = dest
	r.move(ctx, domain.StageFetched)

	return nil
}

// verifySource checks the digest before anything from the archive runs.
func (r *run) verifySource(ctx context.Context) error {
	if r.request.Head {
		logger.WarnKV(ctx, "Head build: skipping source hash verification", "commit", r.commit)
		r.move(ctx, domain.StageVerified)

		return nil
	}

	expected, err := r.descriptor.ExpectedDigest()
	if err != nil {
		return newError(StepVerify, KindIntegrity, err)
	}

	sourcePath := filepath.Join(r.workspace, sourceFilename)

	if err = integrity.VerifyFile(sourcePath, expected); err != nil {
		return newError(StepVerify, KindIntegrity, err)
	}

	if signature := r.descriptor.Signature; signature != nil {
		if err = r.verifySignature(ctx, sourcePath, signature); err != nil {
			return err
		}
	}

	logger.InfoKV(ctx, "Source verified", "sha256", r.descriptor.SHA256)
	r.move(ctx, domain.StageVerified)

	return nil
}

func (r *run) verifySignature(ctx context.Context, sourcePath string, signature *domain.Signature) error {
	keyring, err := integrity.LoadKeyring(signature.Keyring)
	if err != nil {
		return newError(StepVerify, KindIntegrity, err)
	}

	contents, err := r.fetcher.Get(ctx, signature.URL, signatureMaxBytes)
	if err != nil {
		return newError(StepVerify, KindNetwork, err)
	}

	signer, err := integrity.VerifySignature(sourcePath, contents, keyring)
	if err != nil {
		return newError(StepVerify, KindIntegrity, err)
	}

	logger.InfoKV(ctx, "Signature verified", "signer", signer)

	return nil
}

func (r *run) unpackSource(ctx context.Context) error {
	if r.request.Head {
		r.move(ctx, domain.StageUnpacked)

		return nil
	}

	buildDir, err := archive.Unpack(filepath.Join(r.workspace, sourceFilename), filepath.Join(r.workspace, sourceDirname))
	if err != nil {
		return newError(StepUnpack, KindUnpack, err)
	}

	r.buildDir = buildDir

	logger.DebugKV(ctx, "Source unpacked", "build_dir", buildDir)
	r.move(ctx, domain.StageUnpacked)

	return nil
}

// buildEnv is the parent snapshot with dependency directories in front of PATH.
func (r *run) buildEnv() subprocess.Env {
	var dirs []string

	for _, dep := range r.descriptor.DependenciesFor(domain.PhaseBuild) {
		if configured, ok := r.cfg.DependencyPaths[dep.Name]; ok {
			dirs = append(dirs, configured)
		}

		dirs = append(dirs, r.layout.OptBin(dep.Name))
	}

	return r.baseEnv().With(r.descriptor.BuildEnv).PrependPath(dirs...)
}

func (r *run) build(ctx context.Context) error {
	command := subprocess.Command{
		Argv: r.layout.ExpandAll(r.descriptor.BuildCommand),
		Dir:  r.buildDir,
		Env:  r.buildEnv(),
	}

	logger.InfoKV(ctx, "Building", "command", command.String())

	if _, err := r.commands.Run(ctx, command); err != nil {
		return commandError(StepBuild, KindBuild, err)
	}

	r.move(ctx, domain.StageBuilt)

	return nil
}

func (r *run) install(ctx context.Context) error {
	artifacts, err := resolveArtifacts(r.buildDir, r.layout, r.descriptor.Install)
	if err != nil {
		return newError(StepInstall, KindInstall, err)
	}

	if err = r.tx.apply(ctx, artifacts); err != nil {
		return newError(StepInstall, KindInstall, err)
	}

	for _, a := range artifacts {
		logger.InfoKV(ctx, "Installed", "path", a.target)
	}

	r.move(ctx, domain.StageInstalled)

	return nil
}

func (r *run) selfTest(ctx context.Context) error {
	output, err := r.runTestCommand(ctx, r.workspace)
	if err != nil {
		return err
	}

	r.result.TestOutput = output
	r.move(ctx, domain.StageSelfTested)

	return nil
}

// finish writes the receipt and drops backups of replaced files.
func (r *run) finish(ctx context.Context) error {
	installed := &domain.Receipt{
		Name:        r.descriptor.Name,
		Version:     r.descriptor.Version,
		PURL:        r.descriptor.PURL,
		SourceURL:   r.descriptor.SourceURL(),
		Head:        r.request.Head,
		InstallID:   uuid.New().String(),
		InstalledAt: r.now(),
		Files:       r.tx.checksums(),
	}

	if r.request.Head {
		installed.SourceURL = r.descriptor.Head
		installed.Commit = r.commit
	} else {
		installed.SHA256 = r.descriptor.SHA256
	}

	if actor, err := common.DetectActor(); err == nil {
		installed.InstalledBy = actor
	} else {
		logger.WarnKV(ctx, "Unable to detect actor", "error", err)
	}

	if info, err := r.detector.Detect(ctx); err == nil {
		installed.Platform = info.String()
	} else {
		logger.WarnKV(ctx, "Unable to detect platform", "error", err)
	}

	if err := r.receipts.Save(ctx, installed); err != nil {
		return newError(StepInstall, KindInstall, err)
	}

	r.tx.commit(ctx)

	r.result.Receipt = installed
	r.move(ctx, domain.StageDone)

	logger.InfoKV(ctx, "Install complete", "version", installed.Version, "install_id", installed.InstallID)

	return nil
}

// commandError wraps a subprocess failure, keeping its output.
func commandError(stage string, kind Kind, err error) *Error {
	pipelineErr := newError(stage, kind, err)

	var exitErr *subprocess.ExitError
	if errors.As(err, &exitErr) {
		pipelineErr.Output = exitErr.Output
	}

	return pipelineErr
}
