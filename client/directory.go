package client

import (
	"context"
	"net/url"

	"secure-room/common"
	"secure-room/configs"
	"secure-room/protocol/keyagreement"
)

var _ keyagreement.Directory = (*APIClient)(nil)

func keysPath(room string) string {
	return configs.PublishKeysPath + "?" + url.Values{"room": {room}}.Encode()
}

// PublishKey posts the caller's public key for room.
func (c *APIClient) PublishKey(ctx context.Context, room string, req common.PublishKeyRequest) error {
	return c.postJSON(ctx, keysPath(room), req, nil, true)
}

// FetchKeys lists every key published in room.
func (c *APIClient) FetchKeys(ctx context.Context, room string) ([]common.PeerKeyRecord, error) {
	var records []common.PeerKeyRecord
	if err := c.getJSON(ctx, keysPath(room), &records); err != nil {
		return nil, err
	}
	return records, nil
}
