package checksum

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	domain "github.com/oshokin/formula-install/internal/domain/formula"
)

const payload = "crate bytes"

func payloadDigest() string {
	sum := sha256.Sum256([]byte(payload))

	return hex.EncodeToString(sum[:])
}

func newSourceServer(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tool-1.2.0.tar.gz" {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(server.Close)

	return server
}

func writeDescriptor(t *testing.T, name, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	return path
}

// TestSetDigest_Replace keeps comments and other keys.
func TestSetDigest_Replace(t *testing.T) {
	t.Parallel()

	updated, err := setDigest([]byte(`# tool formula
name: tool
url: https://example.com/tool-1.2.0.tar.gz
sha256: "` + strings.Repeat("0", 64) + `" # refreshed by formula-checksum
test: [tool, --version]
`), payloadDigest())
	require.NoError(t, err)

	text := string(updated)
	require.Contains(t, text, "# tool formula")
	require.Contains(t, text, "sha256: "+payloadDigest())
	require.Contains(t, text, "# refreshed by formula-checksum")
	require.NotContains(t, text, strings.Repeat("0", 64))
	require.Less(t, strings.Index(text, "url:"), strings.Index(text, "sha256:"))
	require.Less(t, strings.Index(text, "sha256:"), strings.Index(text, "test:"))
}

// TestSetDigest_Insert adds the key right after url.
func TestSetDigest_Insert(t *testing.T) {
	t.Parallel()

	updated, err := setDigest([]byte("name: tool\nurl: https://example.com/t.tgz\nhead: https://example.com/t.git\n"), payloadDigest())
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, yaml.Unmarshal(updated, &decoded))
	require.Equal(t, payloadDigest(), decoded["sha256"])

	text := string(updated)
	require.Less(t, strings.Index(text, "url:"), strings.Index(text, "sha256:"))
	require.Less(t, strings.Index(text, "sha256:"), strings.Index(text, "head:"))

	_, err = setDigest([]byte("- not\n- a mapping\n"), payloadDigest())
	require.ErrorIs(t, err, errNoDigestField)
}

// TestRun_Print prints the digest and leaves the file alone without --write.
func TestRun_Print(t *testing.T) {
	t.Parallel()

	server := newSourceServer(t)
	contents := "name: tool\nurl: " + server.URL + "/tool-1.2.0.tar.gz\n"
	path := writeDescriptor(t, "tool.yaml", contents)

	var out bytes.Buffer

	require.NoError(t, Run(context.Background(), &Options{Descriptor: path, Out: &out}))
	require.Equal(t, payloadDigest()+"  "+server.URL+"/tool-1.2.0.tar.gz\n", out.String())

	unchanged, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, contents, string(unchanged))
}

// TestRun_Write substitutes the version and records the digest.
func TestRun_Write(t *testing.T) {
	t.Parallel()

	server := newSourceServer(t)
	path := writeDescriptor(t, "tool.yml",
		"name: tool\nversion: 1.2.0\nurl: "+server.URL+"/tool-{{version}}.tar.gz\nsha256: stale\n")

	var out bytes.Buffer

	require.NoError(t, Run(context.Background(), &Options{Descriptor: path, Write: true, Out: &out}))

	updated, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(updated), "sha256: "+payloadDigest())
	require.Contains(t, string(updated), "/tool-{{version}}.tar.gz")
}

// TestRun_Errors covers refusals and download failures.
func TestRun_Errors(t *testing.T) {
	t.Parallel()

	server := newSourceServer(t)
	ctx := context.Background()

	require.ErrorIs(t, Run(ctx, &Options{}), errNoDescriptor)

	lua := writeDescriptor(t, "tool.lua", `formula = { name = "tool", url = "`+server.URL+`/tool-1.2.0.tar.gz" }`)
	require.ErrorIs(t, Run(ctx, &Options{Descriptor: lua, Write: true, Out: &bytes.Buffer{}}), errNotWritable)

	missing := writeDescriptor(t, "tool.yaml", "name: tool\nurl: "+server.URL+"/absent.tar.gz\n")
	require.Error(t, Run(ctx, &Options{Descriptor: missing, Out: &bytes.Buffer{}}))

	noURL := writeDescriptor(t, "tool.yaml", "name: tool\n")
	require.ErrorIs(t, Run(ctx, &Options{Descriptor: noURL, Out: &bytes.Buffer{}}), errNoSourceURL)
}

// TestRun_Lua prints the digest of a scripted descriptor.
func TestRun_Lua(t *testing.T) {
	t.Parallel()

	server := newSourceServer(t)
	path := writeDescriptor(t, "tool.lua", `formula = {
  name = "tool",
  version = "1.2.0",
  url = "`+server.URL+`/tool-{{version}}.tar.gz",
}`)

	var out bytes.Buffer

	require.NoError(t, Run(context.Background(), &Options{Descriptor: path, Out: &out}))
	require.True(t, strings.HasPrefix(out.String(), payloadDigest()))
}

// staticDownloader writes fixed contents instead of fetching.
type staticDownloader string

func (d staticDownloader) DownloadFile(_ context.Context, _, path string) (int64, error) {
	return int64(len(d)), os.WriteFile(path, []byte(d), 0o600)
}

// TestCompute_CreatesWorkDir creates a missing work dir and leaves no scratch files.
func TestCompute_CreatesWorkDir(t *testing.T) {
	t.Parallel()

	workDir := filepath.Join(t.TempDir(), "not", "yet", "there")
	d := &domain.Descriptor{Name: "tool", URL: "https://example.com/tool-1.2.0.tar.gz"}

	digest, err := Compute(context.Background(), staticDownloader(payload), d, workDir)
	require.NoError(t, err)
	require.Equal(t, payloadDigest(), digest)
	require.Equal(t, "1.2.0", d.Version)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
