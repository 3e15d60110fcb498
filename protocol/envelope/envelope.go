package envelope

import (
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"secure-room/crypto"
	"secure-room/crypto/aesgcm"
)

// SessionKey is the symmetric key shared by exactly two peers. It never changes after
// construction and is safe for concurrent use.
type SessionKey struct {
	aead cipher.AEAD
}

// Envelope is the transport form of one AEAD operation. Both fields are standard base64.
type Envelope struct {
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
}

func NewSessionKey(raw []byte) (*SessionKey, error) {
	aead, err := aesgcm.NewAEAD(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &SessionKey{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func Encrypt(key *SessionKey, plaintext []byte) (Envelope, error) {
	nonce, ciphertext, err := seal(key, plaintext)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		IV:         base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Decrypt authenticates and opens env. It never returns partial plaintext.
func Decrypt(key *SessionKey, env Envelope) ([]byte, error) {
	if key == nil {
		return nil, ErrInvalidKey
	}
	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: iv: %v", ErrMalformedEnvelope, err)
	}
	if len(nonce) != crypto.GCMNonceSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes", ErrMalformedEnvelope, crypto.GCMNonceSize)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformedEnvelope, err)
	}
	return open(key, nonce, ciphertext)
}

func EncryptText(key *SessionKey, text string) (Envelope, error) {
	return Encrypt(key, []byte(text))
}

func DecryptText(key *SessionKey, env Envelope) (string, error) {
	plaintext, err := Decrypt(key, env)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plaintext) {
		return "", ErrInvalidUTF8
	}
	return string(plaintext), nil
}

// SealFile encrypts a whole file in one AEAD operation and returns nonce || ciphertext.
func SealFile(key *SessionKey, data []byte) ([]byte, error) {
	nonce, ciphertext, err := seal(key, data)
	if err != nil {
		return nil, err
	}
	blob := make([]byte, 0, len(nonce)+len(ciphertext))
	blob = append(blob, nonce...)
	return append(blob, ciphertext...), nil
}

// OpenFile splits the first ivLength bytes off blob as the nonce and opens the rest.
func OpenFile(key *SessionKey, blob []byte, ivLength int) ([]byte, error) {
	if key == nil {
		return nil, ErrInvalidKey
	}
	if ivLength != crypto.GCMNonceSize {
		return nil, fmt.Errorf("%w: unsupported iv length %d", ErrMalformedEnvelope, ivLength)
	}
	if len(blob) < ivLength {
		return nil, fmt.Errorf("%w: blob shorter than iv", ErrMalformedEnvelope)
	}
	return open(key, blob[:ivLength], blob[ivLength:])
}

func seal(key *SessionKey, plaintext []byte) (nonce []byte, ciphertext []byte, err error) {
	if key == nil {
		return nil, nil, ErrInvalidKey
	}
	nonce, err = aesgcm.NewNonce()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext, err = aesgcm.Encrypt(key.aead, plaintext, nonce)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encrypt: %w", err)
	}
	return nonce, ciphertext, nil
}

func open(key *SessionKey, nonce, ciphertext []byte) ([]byte, error) {
	plaintext, err := aesgcm.Decrypt(key.aead, ciphertext, nonce)
	if err != nil {
		return nil, ErrDecrypt
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}
