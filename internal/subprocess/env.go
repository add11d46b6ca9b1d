package subprocess

import (
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// PathKey is the environment variable searched for executables.
const PathKey = "PATH"

// Env is an explicit environment for a child process.
type Env map[string]string

// Snapshot copies the current process environment.
func Snapshot() Env {
	env := make(Env)

	for _, pair := range os.Environ() {
		key, value, found := strings.Cut(pair, "=")
		if found && key != "" {
			env[key] = value
		}
	}

	return env
}

// With returns a copy of e with extra merged over it.
func (e Env) With(extra map[string]string) Env {
	merged := maps.Clone(e)
	if merged == nil {
		merged = make(Env, len(extra))
	}

	maps.Copy(merged, extra)

	return merged
}

// PrependPath returns a copy of e with dirs placed before the existing PATH entries.
func (e Env) PrependPath(dirs ...string) Env {
	updated := maps.Clone(e)
	if updated == nil {
		updated = make(Env)
	}

	entries := slices.Clone(dirs)

	if current := e[PathKey]; current != "" {
		entries = append(entries, filepath.SplitList(current)...)
	}

	updated[PathKey] = strings.Join(entries, string(os.PathListSeparator))

	return updated
}

// List renders e as sorted KEY=VALUE pairs.
func (e Env) List() []string {
	keys := slices.Sorted(maps.Keys(e))

	list := make([]string, 0, len(keys))
	for _, key := range keys {
		list = append(list, key+"="+e[key])
	}

	return list
}
