package aesgcm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"secure-room/crypto"
)

var (
	ErrKeyLengthInvalid   = errors.New("key length invalid")
	ErrNonceLengthInvalid = errors.New("nonce length invalid")
)

func NewKey() ([]byte, error) {
	key := make([]byte, crypto.SessionKeySize)
	_, err := io.ReadFull(rand.Reader, key)
	if err != nil {
		return nil, err
	}
	return key, nil
}

// NewNonce draws a fresh 12-byte nonce from the CSPRNG.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, crypto.GCMNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

// NewAEAD builds an AES-256-GCM cipher from a 32-byte key.
func NewAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != crypto.SessionKeySize {
		return nil, ErrKeyLengthInvalid
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt encrypts the plaintext using AES-256 in GCM mode.
func Encrypt(aead cipher.AEAD, plaintext []byte, nonce []byte) ([]byte, error) {
	if len(nonce) != aead.NonceSize() {
		return nil, ErrNonceLengthInvalid
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

// Decrypt decrypts and authenticates the ciphertext using AES-256 in GCM mode.
func Decrypt(aead cipher.AEAD, ciphertext []byte, nonce []byte) ([]byte, error) {
	if len(nonce) != aead.NonceSize() {
		return nil, ErrNonceLengthInvalid
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}
