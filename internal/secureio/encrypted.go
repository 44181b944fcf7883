package secureio

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// EncryptedTempFile is a TempFile whose content is encrypted at rest with
// a per-file AES-256-GCM key held only in memory. Each Write is sealed as
// one framed record; ReadAll opens the frames back into plaintext. The key
// is zeroed on Close, after which the file (already scheduled for
// overwrite-then-delete by the inner TempFile) is unrecoverable even if
// the removal itself were interrupted.
type EncryptedTempFile struct {
	inner *TempFile
	aead  cipher.AEAD
	key   []byte
}

// NewEncryptedTempFile creates a 0600 temp file with a fresh random
// AES-256 key.
func NewEncryptedTempFile(dir, pattern string) (*EncryptedTempFile, error) {
	inner, err := NewTempFile(dir, pattern)
	if err != nil {
		return nil, err
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		inner.Close()
		return nil, fmt.Errorf("secureio: generate file key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		inner.Close()
		return nil, fmt.Errorf("secureio: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		inner.Close()
		return nil, fmt.Errorf("secureio: gcm: %w", err)
	}
	return &EncryptedTempFile{inner: inner, aead: aead, key: key}, nil
}

// Path returns the underlying file's path.
func (e *EncryptedTempFile) Path() string { return e.inner.Path() }

// Write seals p into one framed record (length prefix, nonce, ciphertext)
// and appends it to the file. It reports len(p) on success so the type
// satisfies io.Writer.
func (e *EncryptedTempFile) Write(p []byte) (int, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return 0, fmt.Errorf("secureio: nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, p, nil)

	var frame [4]byte
	binary.BigEndian.PutUint32(frame[:], uint32(len(sealed)))
	if _, err := e.inner.Write(frame[:]); err != nil {
		return 0, err
	}
	if _, err := e.inner.Write(sealed); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Sync flushes buffered writes to disk.
func (e *EncryptedTempFile) Sync() error { return e.inner.Sync() }

// ReadAll decrypts every record written so far and returns the
// concatenated plaintext.
func (e *EncryptedTempFile) ReadAll() ([]byte, error) {
	if _, err := e.inner.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("secureio: seek: %w", err)
	}
	defer e.inner.file.Seek(0, io.SeekEnd)

	var out []byte
	var frame [4]byte
	for {
		if _, err := io.ReadFull(e.inner.file, frame[:]); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return nil, fmt.Errorf("secureio: read frame header: %w", err)
		}
		sealed := make([]byte, binary.BigEndian.Uint32(frame[:]))
		if _, err := io.ReadFull(e.inner.file, sealed); err != nil {
			return nil, fmt.Errorf("secureio: read frame: %w", err)
		}
		ns := e.aead.NonceSize()
		if len(sealed) < ns {
			return nil, fmt.Errorf("secureio: truncated record")
		}
		plain, err := e.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
		if err != nil {
			return nil, fmt.Errorf("secureio: decrypt record: %w", err)
		}
		out = append(out, plain...)
	}
}

// Close zeroes the in-memory key and securely disposes of the underlying
// file. Idempotent.
func (e *EncryptedTempFile) Close() error {
	for i := range e.key {
		e.key[i] = 0
	}
	return e.inner.Close()
}

var (
	_ io.WriteCloser = (*TempFile)(nil)
	_ io.WriteCloser = (*EncryptedTempFile)(nil)
)
