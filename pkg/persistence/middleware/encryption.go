package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aretw0/spooler/pkg/domain"
	"github.com/aretw0/spooler/pkg/ports"
)

// frameHeader is the size of the big-endian length prefix of every sealed frame.
const frameHeader = 4

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// Spool files written before a rotation stay readable.
	FallbackKeys [][]byte
}

// NewEncryptionMiddleware creates a middleware that encrypts spooled bodies at rest
// using AES-GCM. Every Write is sealed as one length-prefixed frame; Len and the
// finalized body report plaintext sizes.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.StoreFactory) ports.StoreFactory {
		return &encryptingFactory{next: next, config: config}
	}
}

type encryptingFactory struct {
	next   ports.StoreFactory
	config EncryptionConfig
}

func (f *encryptingFactory) Open(ctx context.Context, sessionID string) (ports.BackingStore, error) {
	inner, err := f.next.Open(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(f.config.ActiveKey)
	if err != nil {
		_ = inner.Discard()
		return nil, fmt.Errorf("failed to init cipher: %w: %w", domain.ErrStorage, err)
	}
	return &encryptingStore{inner: inner, gcm: gcm, config: f.config}, nil
}

type encryptingStore struct {
	inner  ports.BackingStore
	gcm    cipher.AEAD
	config EncryptionConfig

	mu    sync.Mutex
	plain int64
}

// Path exposes the location of the inner store, if it has one.
func (s *encryptingStore) Path() string {
	if p, ok := s.inner.(interface{ Path() string }); ok {
		return p.Path()
	}
	return ""
}

func (s *encryptingStore) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return 0, fmt.Errorf("failed to generate nonce: %w: %w", domain.ErrStorage, err)
	}

	frame := make([]byte, frameHeader, frameHeader+len(nonce)+len(p)+s.gcm.Overhead())
	frame = append(frame, nonce...)
	frame = s.gcm.Seal(frame, nonce, p, nil)
	binary.BigEndian.PutUint32(frame[:frameHeader], uint32(len(frame)-frameHeader))

	if _, err := s.inner.Write(frame); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.plain += int64(len(p))
	s.mu.Unlock()
	return len(p), nil
}

func (s *encryptingStore) Finalize() error {
	return s.inner.Finalize()
}

func (s *encryptingStore) Len() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plain
}

func (s *encryptingStore) Body() (domain.Body, error) {
	inner, err := s.inner.Body()
	if err != nil {
		return nil, err
	}
	return &decryptingBody{inner: inner, size: s.Len(), config: s.config}, nil
}

func (s *encryptingStore) Discard() error {
	return s.inner.Discard()
}

type decryptingBody struct {
	inner  domain.Body
	size   int64
	config EncryptionConfig
}

func (b *decryptingBody) Open() (io.ReadCloser, error) {
	rc, err := b.inner.Open()
	if err != nil {
		return nil, err
	}
	return NewReader(b.config, rc), nil
}

func (b *decryptingBody) Size() int64 {
	return b.size
}

func (b *decryptingBody) Discard() error {
	return b.inner.Discard()
}

// NewReader decrypts a spool file written by the encryption middleware.
// Closing the returned reader closes src.
func NewReader(config EncryptionConfig, src io.ReadCloser) io.ReadCloser {
	return &frameReader{src: src, config: config}
}

// frameReader decrypts sealed frames one at a time.
type frameReader struct {
	src    io.ReadCloser
	config EncryptionConfig
	buf    []byte
}

func (r *frameReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		var header [frameHeader]byte
		if _, err := io.ReadFull(r.src, header[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("truncated frame header: %w", err)
		}

		sealed := make([]byte, binary.BigEndian.Uint32(header[:]))
		if _, err := io.ReadFull(r.src, sealed); err != nil {
			return 0, fmt.Errorf("truncated frame: %w", err)
		}

		plain, err := decryptWithRotation(sealed, r.config.ActiveKey, r.config.FallbackKeys)
		if err != nil {
			return 0, err
		}
		r.buf = plain
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *frameReader) Close() error {
	return r.src.Close()
}

// Helpers

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	// Try active key first
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	// Try fallbacks in order
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertextBytes := ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertextBytes, nil)
}
