package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format is a supported archive layout.
type Format string

// Supported formats.
const (
	FormatTarGzip Format = "tar.gz"
	FormatTar     Format = "tar"
	FormatZip     Format = "zip"
)

var (
	// ErrUnsupportedFormat is returned when the leading bytes match no supported format.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	// ErrIllegalPath is returned for entries or links that would land outside the destination.
	ErrIllegalPath = errors.New("illegal path in archive")
)

const (
	dirMode os.FileMode = 0o755
	// permMask drops setuid, setgid and sticky bits from archive modes.
	permMask os.FileMode = 0o777
	sniffLen             = 512
	tarMagicOffset       = 257
)

var (
	gzipMagic     = []byte{0x1f, 0x8b}
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	tarMagic      = []byte("ustar")
)

// Detect identifies the format of the archive at path.
func Detect(path string) (Format, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	defer func() {
		_ = file.Close()
	}()

	header := make([]byte, sniffLen)

	n, err := io.ReadFull(file, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read archive header: %w", err)
	}

	return sniff(header[:n])
}

func sniff(header []byte) (Format, error) {
	switch {
	case bytes.HasPrefix(header, gzipMagic):
		return FormatTarGzip, nil
	case bytes.HasPrefix(header, zipMagic), bytes.HasPrefix(header, zipEmptyMagic):
		return FormatZip, nil
	case len(header) >= tarMagicOffset+len(tarMagic) &&
		bytes.Equal(header[tarMagicOffset:tarMagicOffset+len(tarMagic)], tarMagic):
		return FormatTar, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Unpack extracts the archive at path into dest and returns the build
// directory: the only top-level directory when there is exactly one, dest otherwise.
func Unpack(path, dest string) (string, error) {
	format, err := Detect(path)
	if err != nil {
		return "", err
	}

	if err = os.MkdirAll(dest, dirMode); err != nil {
		return "", fmt.Errorf("create destination: %w", err)
	}

	switch format {
	case FormatTarGzip:
		err = unpackTarGzip(path, dest)
	case FormatTar:
		err = unpackTarFile(path, dest)
	case FormatZip:
		err = unpackZip(path, dest)
	}

	if err != nil {
		return "", err
	}

	return BuildRoot(dest)
}

// BuildRoot returns the single top-level directory of dir, or dir itself.
func BuildRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("list unpacked files: %w", err)
	}

	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}

	return dir, nil
}

func unpackTarGzip(path, dest string) error {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}

	defer func() {
		_ = file.Close()
	}()

	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}

	defer func() {
		_ = gzipReader.Close()
	}()

	return unpackTar(tar.NewReader(gzipReader), dest)
}

func unpackTarFile(path, dest string) error {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}

	defer func() {
		_ = file.Close()
	}()

	return unpackTar(tar.NewReader(file), dest)
}

func unpackTar(reader *tar.Reader, dest string) error {
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%w: %q", ErrIllegalPath, header.Name)
		}

		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		target, err := entryPath(dest, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			err = os.MkdirAll(target, dirMode)
		case tar.TypeReg:
			err = writeFile(target, reader, header.FileInfo().Mode())
		case tar.TypeSymlink:
			err = symlink(dest, target, header.Linkname)
		case tar.TypeLink:
			err = hardlink(dest, target, header.Linkname)
		default:
			// Devices, fifos and pax metadata have no place in a build tree.
			continue
		}

		if err != nil {
			return err
		}
	}
}

func unpackZip(path, dest string) error {
	reader, err := zip.OpenReader(filepath.Clean(path))
	if errors.Is(err, zip.ErrInsecurePath) {
		_ = reader.Close()

		return fmt.Errorf("%w: %w", ErrIllegalPath, err)
	}

	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}

	defer func() {
		_ = reader.Close()
	}()

	for _, entry := range reader.File {
		target, err := entryPath(dest, entry.Name)
		if err != nil {
			return err
		}

		mode := entry.Mode()

		switch {
		case mode.IsDir():
			err = os.MkdirAll(target, dirMode)
		case mode&os.ModeSymlink != 0:
			err = zipSymlink(dest, target, entry)
		case mode.IsRegular():
			err = zipFile(target, entry)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func zipFile(target string, entry *zip.File) error {
	contents, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", entry.Name, err)
	}

	defer func() {
		_ = contents.Close()
	}()

	return writeFile(target, contents, entry.Mode())
}

func zipSymlink(dest, target string, entry *zip.File) error {
	contents, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", entry.Name, err)
	}

	defer func() {
		_ = contents.Close()
	}()

	linkname, err := io.ReadAll(io.LimitReader(contents, sniffLen*8))
	if err != nil {
		return fmt.Errorf("read link %s: %w", entry.Name, err)
	}

	return symlink(dest, target, string(linkname))
}

// entryPath maps an archive entry name to a path inside dest.
func entryPath(dest, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrIllegalPath, name)
	}

	target := filepath.Join(dest, filepath.FromSlash(name))
	if !within(dest, target) {
		return "", fmt.Errorf("%w: %q", ErrIllegalPath, name)
	}

	return target, nil
}

func within(root, path string) bool {
	root = filepath.Clean(root)

	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}

func writeFile(target string, contents io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
		return fmt.Errorf("create parent of %s: %w", target, err)
	}

	// A later entry replaces an earlier link instead of writing through it.
	if isSymlink(target) {
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("replace link %s: %w", target, err)
		}
	}

	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode&permMask|0o200)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}

	if _, err = io.Copy(file, contents); err != nil {
		_ = file.Close()

		return fmt.Errorf("write %s: %w", target, err)
	}

	return file.Close()
}

// symlink creates target pointing at linkname, which must resolve inside dest.
func symlink(dest, target, linkname string) error {
	if !linkStaysInside(dest, filepath.Dir(target), linkname) {
		return fmt.Errorf("%w: link %s -> %s", ErrIllegalPath, target, linkname)
	}

	if err := os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
		return fmt.Errorf("create parent of %s: %w", target, err)
	}

	if err := os.Symlink(linkname, target); err != nil {
		return fmt.Errorf("create symlink %s: %w", target, err)
	}

	return nil
}

// linkStaysInside walks linkname from dir one component at a time.
// Every earlier link already resolves inside dest, so only a ".." taken
// from a symlink can leave the lexical path, and that is refused.
func linkStaysInside(dest, dir, linkname string) bool {
	current := filepath.Clean(dir)

	if filepath.IsAbs(linkname) {
		cleaned := filepath.Clean(linkname)
		if !within(dest, cleaned) {
			return false
		}

		relative, err := filepath.Rel(dest, cleaned)
		if err != nil {
			return false
		}

		current, linkname = filepath.Clean(dest), relative
	}

	for _, part := range strings.Split(filepath.ToSlash(linkname), "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			if isSymlink(current) {
				return false
			}

			current = filepath.Dir(current)
		default:
			current = filepath.Join(current, part)
		}

		if !within(dest, current) {
			return false
		}
	}

	return true
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)

	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// hardlink links target to an earlier entry; tar link names are relative to the archive root.
func hardlink(dest, target, linkname string) error {
	source, err := entryPath(dest, linkname)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
		return fmt.Errorf("create parent of %s: %w", target, err)
	}

	if err = os.Link(source, target); err != nil {
		return fmt.Errorf("create hard link %s: %w", target, err)
	}

	return nil
}
