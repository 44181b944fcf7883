package secureio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempFileCloseRemoves(t *testing.T) {
	tf, err := NewTempFile(t.TempDir(), "scope-*.tmp")
	require.NoError(t, err)

	_, err = tf.Write([]byte("sensitive"))
	require.NoError(t, err)
	require.NoError(t, tf.Sync())

	path := tf.Path()
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, tf.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Idempotent
	require.NoError(t, tf.Close())
}

func TestEncryptedTempFileRoundTrip(t *testing.T) {
	ef, err := NewEncryptedTempFile(t.TempDir(), "enc-*.tmp")
	require.NoError(t, err)
	defer ef.Close()

	_, err = ef.Write([]byte("first secret "))
	require.NoError(t, err)
	_, err = ef.Write([]byte("second secret"))
	require.NoError(t, err)
	require.NoError(t, ef.Sync())

	// Ciphertext at rest must not contain the plaintext.
	raw, err := os.ReadFile(ef.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "first secret")

	plain, err := ef.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "first secret second secret", string(plain))
}

func TestEncryptedTempFileCloseRemoves(t *testing.T) {
	ef, err := NewEncryptedTempFile(t.TempDir(), "enc-*.tmp")
	require.NoError(t, err)
	path := ef.Path()

	_, err = ef.Write([]byte("gone"))
	require.NoError(t, err)
	require.NoError(t, ef.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, ef.Close())
}

func TestTempDirCloseRemovesTree(t *testing.T) {
	td, err := NewTempDir(t.TempDir(), "scope-*")
	require.NoError(t, err)

	info, err := os.Stat(td.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	nested := td.Join("sub", "file.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(nested), 0o700))
	require.NoError(t, os.WriteFile(nested, []byte("secret"), 0o600))

	require.NoError(t, td.Close())
	_, err = os.Stat(td.Path())
	assert.True(t, os.IsNotExist(err))
}
