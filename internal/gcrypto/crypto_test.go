package gcrypto

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHA256BytesDeterministic(t *testing.T) {
	h1 := SHA256Bytes([]byte("hello"))
	h2 := SHA256Bytes([]byte("hello"))
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, SHA256Bytes([]byte("world")))
}

func TestSHA256FileMatchesBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.bin")
	content := []byte("forensic content")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	fileHash, err := SHA256File(path)
	require.NoError(t, err)
	assert.Equal(t, SHA256Bytes(content), fileHash)
}

func TestRSASignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateRSAKeyPair()
	require.NoError(t, err)

	digestHex := SHA256Bytes([]byte("audit content"))
	digest := mustHexDecode(t, digestHex)

	sig, err := SignPSS(kp.Private, digest)
	require.NoError(t, err)
	assert.True(t, VerifyPSS(kp.Public, digest, sig))

	tampered := mustHexDecode(t, SHA256Bytes([]byte("tampered content")))
	assert.False(t, VerifyPSS(kp.Public, tampered, sig))
}

func TestRSAKeyPairPEMRoundTrip(t *testing.T) {
	dir := t.TempDir()
	kp, err := GenerateRSAKeyPair()
	require.NoError(t, err)

	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")
	require.NoError(t, kp.SavePEM(privPath, pubPath))

	info, err := os.Stat(privPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadRSAKeyPair(privPath, pubPath)
	require.NoError(t, err)

	digest := mustHexDecode(t, SHA256Bytes([]byte("x")))
	sig, err := SignPSS(kp.Private, digest)
	require.NoError(t, err)
	assert.True(t, VerifyPSS(loaded.Public, digest, sig))
}

func TestECDSASignVerify(t *testing.T) {
	kp, err := GenerateECDSAKeyPair()
	require.NoError(t, err)

	digest := mustHexDecode(t, SHA256Bytes([]byte("ecdsa content")))
	sig, err := SignDataECDSA(kp.Private, digest)
	require.NoError(t, err)
	assert.True(t, VerifySignatureECDSA(kp.Public, digest, sig))
}

func mustHexDecode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}
