package integration

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/formula-install/internal/repository/receipt"
	"github.com/oshokin/formula-install/internal/service/checksum"
	"github.com/oshokin/formula-install/internal/service/installer"
)

const (
	// buildScript plays the role of the packaged project's toolchain.
	buildScript = `#!/bin/sh
set -e
mkdir -p out
printf '#!/bin/sh\necho "tool 1.0"\n' > out/tool
chmod +x out/tool
`

	failingBuildScript = `#!/bin/sh
echo "error[E0463]: can't find crate" >&2
exit 3
`

	brokenToolBuildScript = `#!/bin/sh
mkdir -p out
printf '#!/bin/sh\necho broken >&2\nexit 1\n' > out/tool
`
)

// upstream serves one source archive and counts downloads.
type upstream struct {
	server    *httptest.Server
	archive   []byte
	downloads atomic.Int32
}

func newUpstream(t *testing.T, build string) *upstream {
	t.Helper()

	u := &upstream{
		archive: sourceArchive(t, build),
	}

	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tool-1.0.tar.gz" {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		u.downloads.Add(1)
		_, _ = w.Write(u.archive)
	}))
	t.Cleanup(u.server.Close)

	return u
}

func (u *upstream) digest() string {
	sum := sha256.Sum256(u.archive)

	return hex.EncodeToString(sum[:])
}

// workspace is a prefix, a work dir, a settings file and a descriptor.
type workspace struct {
	dir        string
	prefix     string
	workDir    string
	configPath string
	descriptor string
}

func newWorkspace(t *testing.T, u *upstream, sha string) *workspace {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("the build toolchain is a shell script")
	}

	dir := t.TempDir()
	ws := &workspace{
		dir:        dir,
		prefix:     filepath.Join(dir, "prefix"),
		workDir:    filepath.Join(dir, "work"),
		configPath: filepath.Join(dir, "formula-install.yaml"),
		descriptor: filepath.Join(dir, "tool.yaml"),
	}

	settings := "prefix: " + ws.prefix + "\nwork_dir: " + ws.workDir + "\nlog_level: debug\n"
	require.NoError(t, os.WriteFile(ws.configPath, []byte(settings), 0o600))

	descriptor := `name: tool
description: Integration test tool
license: MIT
version: "1.0"
url: ` + u.server.URL + `/tool-{{version}}.tar.gz
sha256: ` + sha + `
build:
  command: [sh, build.sh]
install:
  - source: out/tool
    category: bin
  - source: tool.1
    category: man1
test: ["{bin}/tool", --version]
`
	require.NoError(t, os.WriteFile(ws.descriptor, []byte(descriptor), 0o644))

	return ws
}

func (ws *workspace) options() *installer.Options {
	return &installer.Options{
		ConfigPath:  ws.configPath,
		Descriptors: []string{ws.descriptor},
		Retries:     installer.RetriesUnset,
	}
}

func (ws *workspace) binPath() string {
	return filepath.Join(ws.prefix, "bin", "tool")
}

func (ws *workspace) requireNoWorkspaces(t *testing.T) {
	t.Helper()

	entries, err := os.ReadDir(ws.workDir)
	if os.IsNotExist(err) {
		return
	}

	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestInstall_EndToEnd installs from a real archive with a real build and self-test, then re-runs as a no-op.
func TestInstall_EndToEnd(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, buildScript)
	ws := newWorkspace(t, u, u.digest())
	ctx := context.Background()

	require.NoError(t, installer.Run(ctx, ws.options()))

	info, err := os.Stat(ws.binPath())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	require.FileExists(t, filepath.Join(ws.prefix, "share", "man", "man1", "tool.1"))

	installed, err := receipt.NewFileRepository(filepath.Join(ws.prefix, "var", "formula-install")).Load(ctx, "tool")
	require.NoError(t, err)
	require.Equal(t, "1.0", installed.Version)
	require.Equal(t, u.digest(), installed.SHA256)
	require.True(t, strings.HasPrefix(installed.PURL, "pkg:generic/tool@1.0"))

	ws.requireNoWorkspaces(t)

	require.NoError(t, installer.Run(ctx, ws.options()))
	require.Equal(t, int32(1), u.downloads.Load())

	require.NoError(t, installer.RunTest(ctx, ws.options()))

	forced := ws.options()
	forced.Force = true

	require.NoError(t, installer.Run(ctx, forced))
	require.Equal(t, int32(2), u.downloads.Load())
}

// TestInstall_CorruptedArchive exits with the integrity status and never builds.
func TestInstall_CorruptedArchive(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, buildScript)
	ws := newWorkspace(t, u, u.digest())

	u.archive = append(bytes.Clone(u.archive[:len(u.archive)-1]), u.archive[len(u.archive)-1]^0xff)

	err := installer.Run(context.Background(), ws.options())
	require.Equal(t, installer.ExitIntegrity, installer.ExitCode(err))
	require.NoDirExists(t, filepath.Join(ws.prefix, "bin"))

	ws.requireNoWorkspaces(t)
}

// TestInstall_BuildFailure exits with the build status and reports the compiler output.
func TestInstall_BuildFailure(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, failingBuildScript)
	ws := newWorkspace(t, u, u.digest())

	err := installer.Run(context.Background(), ws.options())
	require.Equal(t, installer.ExitBuild, installer.ExitCode(err))

	var pipelineErr *installer.Error

	require.ErrorAs(t, err, &pipelineErr)
	require.Contains(t, pipelineErr.Diagnostic(), "can't find crate")
	require.NoFileExists(t, ws.binPath())

	ws.requireNoWorkspaces(t)
}

// TestInstall_MissingArtifact fails the install stage when the build skips an output.
func TestInstall_MissingArtifact(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, "#!/bin/sh\nexit 0\n")
	ws := newWorkspace(t, u, u.digest())

	err := installer.Run(context.Background(), ws.options())
	require.Equal(t, installer.ExitInstall, installer.ExitCode(err))
	require.NoDirExists(t, filepath.Join(ws.prefix, "bin"))
}

// TestInstall_SelfTestFailure removes the freshly installed files.
func TestInstall_SelfTestFailure(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, brokenToolBuildScript)
	ws := newWorkspace(t, u, u.digest())

	err := installer.Run(context.Background(), ws.options())
	require.Equal(t, installer.ExitVerification, installer.ExitCode(err))
	require.NoFileExists(t, ws.binPath())
	require.NoFileExists(t, filepath.Join(ws.prefix, "share", "man", "man1", "tool.1"))

	ws.requireNoWorkspaces(t)
}

// TestChecksum_WriteThenInstall fills in the digest with formula-checksum and installs the result.
func TestChecksum_WriteThenInstall(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, buildScript)
	ws := newWorkspace(t, u, strings.Repeat("0", 64))

	var out bytes.Buffer

	require.NoError(t, checksum.Run(context.Background(), &checksum.Options{
		ConfigPath: ws.configPath,
		Descriptor: ws.descriptor,
		Write:      true,
		Out:        &out,
	}))
	require.True(t, strings.HasPrefix(out.String(), u.digest()+"  "))

	require.NoError(t, installer.Run(context.Background(), ws.options()))
	require.FileExists(t, ws.binPath())
}

// sourceArchive builds a crate-like tarball with a single top-level directory.
func sourceArchive(t *testing.T, build string) []byte {
	t.Helper()

	var buffer bytes.Buffer

	gz := gzip.NewWriter(&buffer)
	tw := tar.NewWriter(gz)

	files := []struct {
		name string
		body string
		mode int64
	}{
		{"tool-1.0/build.sh", build, 0o755},
		{"tool-1.0/tool.1", ".TH TOOL 1\n", 0o644},
	}

	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "tool-1.0/", Mode: 0o755, Typeflag: tar.TypeDir}))

	for _, file := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     file.name,
			Mode:     file.mode,
			Size:     int64(len(file.body)),
			Typeflag: tar.TypeReg,
		}))

		_, err := tw.Write([]byte(file.body))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	return buffer.Bytes()
}
