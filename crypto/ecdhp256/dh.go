package ecdhp256

import (
	"errors"
)

var (
	ErrInvalid = errors.New("invalid input")
)

// GetSharedSecret returns the raw x-coordinate of the ECDH product.
func GetSharedSecret(aPrivKey PrivateKey, bPubKey PublicKey) ([]byte, error) {
	if aPrivKey == nil || bPubKey == nil {
		return nil, ErrInvalid
	}
	return aPrivKey.ECDH(bPubKey)
}
