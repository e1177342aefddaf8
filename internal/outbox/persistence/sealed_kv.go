package persistence

import (
	"context"

	"github.com/tablepos/terminal/internal/crypto"
)

// SealedKV encrypts every value written to an inner KeyValue.
type SealedKV struct {
	inner KeyValue
	key   []byte
}

// NewSealedKV wraps inner with a key derived from secret.
func NewSealedKV(inner KeyValue, secret string) (*SealedKV, error) {
	key, err := crypto.DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	return &SealedKV{inner: inner, key: key}, nil
}

// Get reads and decrypts the blob for key. A missing key stays (nil, nil).
func (s *SealedKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.inner.Get(ctx, key)
	if err != nil || data == nil {
		return data, err
	}
	return crypto.Decrypt(string(data), s.key)
}

// Set encrypts value and writes it.
func (s *SealedKV) Set(ctx context.Context, key string, value []byte) error {
	sealed, err := crypto.Encrypt(value, s.key)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, []byte(sealed))
}
