package keyagreement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"secure-room/common"
	"secure-room/crypto/ecdhp256"
	"secure-room/crypto/hkdf"
	"secure-room/protocol/envelope"
)

// Agreement discovers the room peer and derives the pairwise session key.
type Agreement struct {
	store     KeyStore
	directory Directory
	deviceID  string
	logger    logrus.FieldLogger

	mu   sync.Mutex
	pair *ecdhp256.Pair
}

func New(store KeyStore, directory Directory, deviceID string, logger logrus.FieldLogger) *Agreement {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Agreement{
		store:     store,
		directory: directory,
		deviceID:  deviceID,
		logger:    logger,
	}
}

// EnsureIdentityKeyPair loads the device keypair, generating and storing one on first use.
func (a *Agreement) EnsureIdentityKeyPair(ctx context.Context) (*ecdhp256.Pair, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pair != nil {
		return a.pair, nil
	}

	pair, err := a.store.LoadKeyPair(ctx, a.deviceID)
	if err == nil {
		a.pair = pair
		return pair, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("failed to load identity keypair: %w", err)
	}

	pair, err = ecdhp256.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity keypair: %w", err)
	}
	if err := a.store.SaveKeyPair(ctx, a.deviceID, pair); err != nil {
		return nil, fmt.Errorf("failed to store identity keypair: %w", err)
	}

	// another process may have won the insert
	stored, err := a.store.LoadKeyPair(ctx, a.deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload identity keypair: %w", err)
	}
	a.logger.WithField("device", a.deviceID).Info("Generated new identity keypair")
	a.pair = stored
	return stored, nil
}

// PublishPublicKey upserts the (room, user) record in the directory.
func (a *Agreement) PublishPublicKey(ctx context.Context, id common.Identity, publicKey ecdhp256.JWK) error {
	publicKey.D = ""
	err := a.directory.PublishKey(ctx, id.Room, common.PublishKeyRequest{
		User:      id.User,
		PublicKey: publicKey,
	})
	if err != nil {
		return fmt.Errorf("failed to publish public key: %w", err)
	}
	return nil
}

func (a *Agreement) FetchRoomKeys(ctx context.Context, room string) ([]common.PeerKeyRecord, error) {
	records, err := a.directory.FetchKeys(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch room keys: %w", err)
	}
	return records, nil
}

// SelectPeer picks the most recently published record that is not the local user's.
func SelectPeer(records []common.PeerKeyRecord, localUser string) (common.PeerKeyRecord, bool) {
	var (
		best  common.PeerKeyRecord
		found bool
	)
	for _, r := range records {
		if r.User == localUser {
			continue
		}
		if !found || r.CreatedAt.After(best.CreatedAt) {
			best = r
			found = true
		}
	}
	return best, found
}

// DeriveSessionKey runs ECDH and stretches the shared secret into an AES-256-GCM key.
func DeriveSessionKey(priv ecdhp256.PrivateKey, peer ecdhp256.PublicKey) (*envelope.SessionKey, error) {
	secret, err := ecdhp256.GetSharedSecret(priv, peer)
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}
	raw, err := hkdf.New32BytesKeyFromSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}
	return envelope.NewSessionKey(raw)
}

// Establish runs the full flow: ensure keypair, publish, fetch, select, derive.
// A returned error means the session continues in plaintext mode.
func (a *Agreement) Establish(ctx context.Context, id common.Identity) (*envelope.SessionKey, common.PeerKeyRecord, error) {
	pair, err := a.EnsureIdentityKeyPair(ctx)
	if err != nil {
		return nil, common.PeerKeyRecord{}, err
	}
	if err := a.PublishPublicKey(ctx, id, pair.PublicJWK()); err != nil {
		return nil, common.PeerKeyRecord{}, err
	}
	records, err := a.FetchRoomKeys(ctx, id.Room)
	if err != nil {
		return nil, common.PeerKeyRecord{}, err
	}

	peer, ok := SelectPeer(records, id.User)
	if !ok {
		return nil, common.PeerKeyRecord{}, ErrNoPeer
	}
	peerPub, err := peer.PublicKey.PublicKey()
	if err != nil {
		return nil, peer, fmt.Errorf("failed to import peer key for %s: %w", peer.User, err)
	}
	key, err := DeriveSessionKey(pair.Priv, peerPub)
	if err != nil {
		return nil, peer, err
	}

	a.logger.WithFields(logrus.Fields{
		"room": id.Room,
		"peer": peer.User,
	}).Info("Session key established")
	return key, peer, nil
}
