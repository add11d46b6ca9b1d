package integrity

import (
	"bytes"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/require"
)

// TestVerifyFile accepts the right digest and rejects a flipped byte.
func TestVerifyFile(t *testing.T) {
	t.Parallel()

	contents := []byte("sigi-3.1.1 source archive")
	path := writeTemp(t, "source", contents)
	digest := sha256.Sum256(contents)

	require.NoError(t, VerifyFile(path, digest[:]))

	corrupted := bytes.Clone(contents)
	corrupted[0] ^= 0xff
	require.NoError(t, os.WriteFile(path, corrupted, 0o600))

	err := VerifyFile(path, digest[:])
	require.ErrorIs(t, err, ErrMismatch)

	require.ErrorIs(t, Compare(digest[:], nil), ErrMismatch)
}

// TestVerifySignature checks armored and binary detached signatures.
func TestVerifySignature(t *testing.T) {
	t.Parallel()

	entity, err := openpgp.NewEntity("Sigi Release", "", "release@example.com", nil)
	require.NoError(t, err)

	contents := []byte("signed archive")
	path := writeTemp(t, "source", contents)

	var armored bytes.Buffer
	require.NoError(t, openpgp.ArmoredDetachSign(&armored, entity, bytes.NewReader(contents), nil))

	var binary bytes.Buffer
	require.NoError(t, openpgp.DetachSign(&binary, entity, bytes.NewReader(contents), nil))

	var publicKey bytes.Buffer
	writer, err := armor.Encode(&publicKey, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(writer))
	require.NoError(t, writer.Close())

	keyringPath := writeTemp(t, "keyring.asc", publicKey.Bytes())

	keyring, err := LoadKeyring(keyringPath)
	require.NoError(t, err)

	signer, err := VerifySignature(path, armored.Bytes(), keyring)
	require.NoError(t, err)
	require.Contains(t, signer, "release@example.com")

	_, err = VerifySignature(path, binary.Bytes(), keyring)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("tampered archive"), 0o600))

	_, err = VerifySignature(path, armored.Bytes(), keyring)
	require.ErrorIs(t, err, ErrBadSignature)
}

// TestLoadKeyring_Invalid rejects files that hold no keys.
func TestLoadKeyring_Invalid(t *testing.T) {
	t.Parallel()

	_, err := LoadKeyring(writeTemp(t, "keyring", []byte("not a key")))
	require.Error(t, err)

	_, err = LoadKeyring(filepath.Join(t.TempDir(), "absent"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func writeTemp(t *testing.T, name string, contents []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, contents, 0o600))

	return path
}
