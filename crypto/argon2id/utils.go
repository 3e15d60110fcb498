package argon2id

import (
	"crypto/rand"
	"crypto/subtle"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	SaltSize = 16
	KeySize  = 32
)

// HashPassword derives a verifier from password under a fresh random salt.
func HashPassword(password []byte) (salt []byte, hash []byte, err error) {
	salt = make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, nil, err
	}
	return salt, DeriveKey(password, salt), nil
}

func DeriveKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
}

// VerifyPassword reports whether password matches hash, in constant time.
func VerifyPassword(password, salt, hash []byte) bool {
	return subtle.ConstantTimeCompare(DeriveKey(password, salt), hash) == 1
}
