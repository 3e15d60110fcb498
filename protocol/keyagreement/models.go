package keyagreement

import (
	"context"

	"secure-room/common"
	"secure-room/crypto/ecdhp256"
)

// KeyStore holds the device's long-term identity keypair.
type KeyStore interface {
	LoadKeyPair(ctx context.Context, deviceID string) (*ecdhp256.Pair, error)
	SaveKeyPair(ctx context.Context, deviceID string, pair *ecdhp256.Pair) error
}

// Directory is the room key directory.
type Directory interface {
	PublishKey(ctx context.Context, room string, req common.PublishKeyRequest) error
	FetchKeys(ctx context.Context, room string) ([]common.PeerKeyRecord, error)
}
