package formula

import (
	"os"
	"path/filepath"
	"strings"
)

// Category is a destination class for installed artifacts.
type Category string

// Known categories.
const (
	CategoryBin     Category = "bin"
	CategorySbin    Category = "sbin"
	CategoryLib     Category = "lib"
	CategoryInclude Category = "include"
	CategoryShare   Category = "share"
	CategoryEtc     Category = "etc"
	CategoryDoc     Category = "doc"
	CategoryMan1    Category = "man1"
	CategoryMan2    Category = "man2"
	CategoryMan3    Category = "man3"
	CategoryMan4    Category = "man4"
	CategoryMan5    Category = "man5"
	CategoryMan6    Category = "man6"
	CategoryMan7    Category = "man7"
	CategoryMan8    Category = "man8"
)

const (
	executableMode os.FileMode = 0o755
	dataMode       os.FileMode = 0o644
)

// Categories lists every known category.
func Categories() []Category {
	return []Category{
		CategoryBin, CategorySbin, CategoryLib, CategoryInclude, CategoryShare, CategoryEtc, CategoryDoc,
		CategoryMan1, CategoryMan2, CategoryMan3, CategoryMan4,
		CategoryMan5, CategoryMan6, CategoryMan7, CategoryMan8,
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}

	return false
}

// Mode is the permission set given to artifacts of this category.
func (c Category) Mode() os.FileMode {
	if c == CategoryBin || c == CategorySbin {
		return executableMode
	}

	return dataMode
}

// Layout resolves categories to directories under an install prefix.
type Layout struct {
	Prefix string
	// Name of the formula, used for per-formula directories such as doc.
	Name string
}

// NewLayout returns the layout of formula name installed under prefix.
func NewLayout(prefix, name string) Layout {
	return Layout{
		Prefix: filepath.Clean(prefix),
		Name:   name,
	}
}

// Dir returns the destination directory of c.
func (l Layout) Dir(c Category) string {
	switch {
	case c == CategoryDoc:
		return filepath.Join(l.Prefix, "share", "doc", l.Name)
	case strings.HasPrefix(string(c), "man"):
		return filepath.Join(l.Prefix, "share", "man", string(c))
	default:
		return filepath.Join(l.Prefix, string(c))
	}
}

// Target returns the destination path of step.
func (l Layout) Target(step InstallStep) string {
	return filepath.Join(l.Dir(step.Category), step.TargetName())
}

// OptBin is the directory where an installed dependency exposes its executables.
func (l Layout) OptBin(dependency string) string {
	return filepath.Join(l.Prefix, "opt", dependency, "bin")
}

// StateDir holds receipts and locks.
func (l Layout) StateDir() string {
	return filepath.Join(l.Prefix, "var", "formula-install")
}

// Expand replaces {prefix} and {<category>} placeholders in arg.
func (l Layout) Expand(arg string) string {
	if !strings.Contains(arg, "{") {
		return arg
	}

	pairs := []string{"{prefix}", l.Prefix}
	for _, c := range Categories() {
		pairs = append(pairs, "{"+string(c)+"}", l.Dir(c))
	}

	return strings.NewReplacer(pairs...).Replace(arg)
}

// ExpandAll applies Expand to every element of argv.
func (l Layout) ExpandAll(argv []string) []string {
	expanded := make([]string, len(argv))
	for i, arg := range argv {
		expanded[i] = l.Expand(arg)
	}

	return expanded
}
