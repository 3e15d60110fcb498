package common

import (
	"encoding/json"
	"time"

	"secure-room/crypto/ecdhp256"
)

// Identity names a participant within a room.
type Identity struct {
	Room string `json:"room"`
	User string `json:"user"`
}

// PeerKeyRecord is one entry of the key directory for a room.
type PeerKeyRecord struct {
	User      string       `json:"user"`
	PublicKey ecdhp256.JWK `json:"public_key"`
	CreatedAt time.Time    `json:"created_at"`
}

// PublishKeyRequest is the body of POST /keys.
type PublishKeyRequest struct {
	User      string       `json:"user"`
	PublicKey ecdhp256.JWK `json:"public_key"`
}

// UploadResult is returned by the upload proxy.
type UploadResult struct {
	StorageKey  string `json:"storage_key"`
	DownloadURL string `json:"download_url"`
}

// FileReference describes how to fetch and, when IVLength > 0, decrypt a shared file.
type FileReference struct {
	Name        string `json:"name"`
	MimeType    string `json:"mime_type"`
	StorageKey  string `json:"storage_key,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	IVLength    int    `json:"iv_length"`
}

// UnmarshalJSON also accepts the short "url" field used by older senders.
func (r *FileReference) UnmarshalJSON(data []byte) error {
	type alias FileReference
	var aux struct {
		alias
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = FileReference(aux.alias)
	if r.DownloadURL == "" {
		r.DownloadURL = aux.URL
	}
	return nil
}

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusTyping  PresenceStatus = "typing"
	StatusOffline PresenceStatus = "offline"
)

type PresenceInfo struct {
	Status PresenceStatus `json:"status"`
}
