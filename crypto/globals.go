package crypto

import "crypto/sha256"

var (
	DefaultHashFunc = sha256.New
)

const (
	SessionKeySize = 32
	GCMNonceSize   = 12
)
