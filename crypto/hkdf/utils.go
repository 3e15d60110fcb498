package hkdf

import (
	"io"

	"secure-room/configs"
	"secure-room/crypto"

	"golang.org/x/crypto/hkdf"
)

// New32BytesKeyFromSecret derives a new 32-byte key from a secret using HKDF
func New32BytesKeyFromSecret(secret []byte) ([]byte, error) {
	return DeriveKey(secret, nil, configs.HKDFInfo, crypto.SessionKeySize)
}

// DeriveKey expands keyMaterial into size bytes with HKDF-SHA256.
func DeriveKey(keyMaterial []byte, salt []byte, info []byte, size int) ([]byte, error) {
	hkdfReader := hkdf.New(crypto.DefaultHashFunc, keyMaterial, salt, info)

	key := make([]byte, size)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		return nil, err
	}
	return key, nil
}
