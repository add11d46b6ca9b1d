package integrity

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp"
)

var (
	// ErrBadSignature is returned when the signature does not verify against the keyring.
	ErrBadSignature = errors.New("signature verification failed")
	// ErrEmptyKeyring is returned for keyrings without any key.
	ErrEmptyKeyring = errors.New("keyring is empty")
)

// LoadKeyring reads an armored or binary OpenPGP public keyring.
func LoadKeyring(path string) (openpgp.EntityList, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}

	keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(contents))
	if err != nil {
		keyring, err = openpgp.ReadKeyRing(bytes.NewReader(contents))
		if err != nil {
			return nil, fmt.Errorf("read keyring %s: %w", path, err)
		}
	}

	if len(keyring) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyKeyring)
	}

	return keyring, nil
}

// VerifySignature checks a detached signature, armored or binary, of the
// file at path against keyring. It returns the primary identity of the signer.
func VerifySignature(path string, signature []byte, keyring openpgp.KeyRing) (string, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	defer func() {
		_ = file.Close()
	}()

	signer, err := openpgp.CheckArmoredDetachedSignature(keyring, file, bytes.NewReader(signature), nil)
	if err != nil {
		if _, err = file.Seek(0, io.SeekStart); err != nil {
			return "", err
		}

		signer, err = openpgp.CheckDetachedSignature(keyring, file, bytes.NewReader(signature), nil)
	}

	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadSignature, err)
	}

	return identityOf(signer), nil
}

func identityOf(entity *openpgp.Entity) string {
	if entity == nil {
		return ""
	}

	for name := range entity.Identities {
		return name
	}

	return entity.PrimaryKey.KeyIdString()
}
