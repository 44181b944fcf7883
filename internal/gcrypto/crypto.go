// Package gcrypto implements the cryptographic primitives backing audit
// signing and document-integrity hashing: SHA-256 of bytes and files, RSA
// key generation and RSA-PSS signing for the audit logger's primary path,
// and an ECDSA alternate key type for callers that need one.
package gcrypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"os"
)

// RSAKeyBits is the modulus size used for newly generated audit signing keys.
const RSAKeyBits = 2048

// ErrVerificationFailed is returned when a signature fails to verify.
var ErrVerificationFailed = fmt.Errorf("gcrypto: signature verification failed")

// SHA256Bytes hashes data and returns the lowercase hex digest.
func SHA256Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256File streams a file through SHA-256 in fixed-size chunks so large
// documents do not need to be held in memory at once.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("gcrypto: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("gcrypto: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SecureRandomHex returns n random bytes as a lowercase hex string,
// mirroring CryptographicUtils.generate_secure_id.
func SecureRandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("gcrypto: random read: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// RSAKeyPair holds a generated or loaded RSA key pair.
type RSAKeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// GenerateRSAKeyPair creates a new RSA key pair of RSAKeyBits size.
func GenerateRSAKeyPair() (*RSAKeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("gcrypto: generate rsa key: %w", err)
	}
	return &RSAKeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// SavePEM writes the private and public keys to the given paths with
// owner-only (0600) permissions.
func (kp *RSAKeyPair) SavePEM(privPath, pubPath string) error {
	privBytes := x509.MarshalPKCS1PrivateKey(kp.Private)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes})
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return fmt.Errorf("gcrypto: write private key: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(kp.Public)
	if err != nil {
		return fmt.Errorf("gcrypto: marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	if err := os.WriteFile(pubPath, pubPEM, 0o600); err != nil {
		return fmt.Errorf("gcrypto: write public key: %w", err)
	}
	return nil
}

// LoadRSAKeyPair reads the private and public keys from PEM files.
func LoadRSAKeyPair(privPath, pubPath string) (*RSAKeyPair, error) {
	privPEM, err := os.ReadFile(privPath)
	if err != nil {
		return nil, fmt.Errorf("gcrypto: read private key: %w", err)
	}
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("gcrypto: invalid private key PEM at %s", privPath)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("gcrypto: parse private key: %w", err)
	}

	pubPEM, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, fmt.Errorf("gcrypto: read public key: %w", err)
	}
	pubBlock, _ := pem.Decode(pubPEM)
	if pubBlock == nil {
		return nil, fmt.Errorf("gcrypto: invalid public key PEM at %s", pubPath)
	}
	pubAny, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("gcrypto: parse public key: %w", err)
	}
	pub, ok := pubAny.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("gcrypto: public key at %s is not RSA", pubPath)
	}

	return &RSAKeyPair{Private: priv, Public: pub}, nil
}

// SignPSS signs digest — a raw 32-byte SHA-256 digest, not its hex
// encoding — using RSA-PSS and returns a base64-encoded signature. Callers
// holding a hex digest (e.g. from SHA256Bytes) must hex.DecodeString it
// first; rsa.SignPSS rejects anything whose length isn't the hash size.
// This is the audit logger's primary signing path.
func SignPSS(priv *rsa.PrivateKey, digest []byte) (string, error) {
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest, nil)
	if err != nil {
		return "", fmt.Errorf("gcrypto: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyPSS verifies a base64-encoded RSA-PSS signature over digest.
func VerifyPSS(pub *rsa.PublicKey, digest []byte, signatureB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	return rsa.VerifyPSS(pub, crypto.SHA256, digest, sig, nil) == nil
}

// ECDSAKeyPair is the alternate key type. It is never invoked by the
// audit logger's signing path; it exists as a library capability for
// callers that need it explicitly.
type ECDSAKeyPair struct {
	Private *ecdsa.PrivateKey
	Public  *ecdsa.PublicKey
}

// GenerateECDSAKeyPair creates a P-256 ECDSA key pair.
func GenerateECDSAKeyPair() (*ECDSAKeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("gcrypto: generate ecdsa key: %w", err)
	}
	return &ECDSAKeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// SignDataECDSA signs digest with ECDSA and returns an ASN.1 DER signature,
// base64-encoded. Legacy alternate path, not wired into the audit logger.
func SignDataECDSA(priv *ecdsa.PrivateKey, digest []byte) (string, error) {
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest)
	if err != nil {
		return "", fmt.Errorf("gcrypto: ecdsa sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifySignatureECDSA verifies an ECDSA signature produced by SignDataECDSA.
func VerifySignatureECDSA(pub *ecdsa.PublicKey, digest []byte, signatureB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	return ecdsa.VerifyASN1(pub, digest, sig)
}
