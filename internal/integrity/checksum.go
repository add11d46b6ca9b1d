package integrity

import (
	"crypto"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	// Register SHA-256 with the crypto package.
	_ "crypto/sha256"
)

// DefaultHash is used for source digests and installed-file checksums.
const DefaultHash = crypto.SHA256

var (
	// ErrMismatch is returned when the content digest differs from the expected one.
	ErrMismatch = errors.New("checksum mismatch")

	errHashUnavailable = errors.New("hash function unavailable")
)

// FileChecksum returns the DefaultHash digest of the file at path.
func FileChecksum(path string) ([]byte, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = file.Close()
	}()

	return ReaderChecksum(file)
}

// ReaderChecksum returns the DefaultHash digest of everything r yields.
func ReaderChecksum(r io.Reader) ([]byte, error) {
	if !DefaultHash.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := DefaultHash.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

// VerifyFile compares the digest of path against expected in constant time.
func VerifyFile(path string, expected []byte) error {
	actual, err := FileChecksum(path)
	if err != nil {
		return err
	}

	return Compare(actual, expected)
}

// Compare reports ErrMismatch unless both digests are equal.
func Compare(actual, expected []byte) error {
	if len(expected) == 0 || subtle.ConstantTimeCompare(actual, expected) != 1 {
		return fmt.Errorf("%w: expected %s, got %s", ErrMismatch, hex.EncodeToString(expected), hex.EncodeToString(actual))
	}

	return nil
}
