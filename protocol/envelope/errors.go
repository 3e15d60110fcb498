package envelope

import "errors"

var (
	ErrDecrypt           = errors.New("unable to decrypt")
	ErrInvalidKey        = errors.New("invalid session key")
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrInvalidUTF8       = errors.New("plaintext is not valid UTF-8")
)
