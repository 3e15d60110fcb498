package keyagreement

import (
	"errors"

	"secure-room/store"
)

var (
	ErrNoPeer      = errors.New("no other peer has published a key")
	ErrKeyNotFound = store.ErrKeyNotFound
)
