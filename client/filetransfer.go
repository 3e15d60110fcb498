package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"secure-room/common"
	"secure-room/crypto"
	"secure-room/protocol/envelope"
)

// Uploader is the upload proxy.
type Uploader interface {
	Upload(ctx context.Context, name, mimeType string, data []byte) (common.UploadResult, error)
	Download(ctx context.Context, downloadURL string) ([]byte, error)
}

// UploadOutcome is what SendFile produced: the single frame to announce the file and,
// when something was uploaded, its reference.
type UploadOutcome struct {
	Frame     common.Frame
	Reference *common.FileReference
	Encrypted bool
}

// FileTransfer uploads, announces and downloads shared files, and remembers references
// seen during this session.
type FileTransfer struct {
	uploader Uploader
	logger   logrus.FieldLogger

	mu   sync.Mutex
	refs map[string]common.FileReference
}

func NewFileTransfer(uploader Uploader, logger logrus.FieldLogger) *FileTransfer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FileTransfer{
		uploader: uploader,
		logger:   logger,
		refs:     make(map[string]common.FileReference),
	}
}

// PlaceholderText is the chat line sent instead of a file when no session key exists.
func PlaceholderText(name string) string {
	return fmt.Sprintf("[file] %s (not shared: encryption unavailable)", name)
}

// SendFile encrypts and uploads data when key is non-nil and returns a file_link frame
// carrying the encrypted reference. With no key nothing is uploaded and the outcome is a
// plaintext placeholder message.
func (ft *FileTransfer) SendFile(ctx context.Context, data []byte, name, mimeType string, key *envelope.SessionKey) (UploadOutcome, error) {
	if key == nil {
		return UploadOutcome{Frame: common.PlainTextFrame{Message: PlaceholderText(name)}}, nil
	}

	blob, err := envelope.SealFile(key, data)
	if err != nil {
		return UploadOutcome{}, fmt.Errorf("failed to encrypt file: %w", err)
	}
	uploaded, err := ft.uploader.Upload(ctx, name, "application/octet-stream", blob)
	if err != nil {
		return UploadOutcome{}, err
	}

	ref := common.FileReference{
		Name:        name,
		MimeType:    mimeType,
		StorageKey:  uploaded.StorageKey,
		DownloadURL: uploaded.DownloadURL,
		IVLength:    crypto.GCMNonceSize,
	}
	serialized, err := json.Marshal(ref)
	if err != nil {
		return UploadOutcome{}, fmt.Errorf("failed to marshal file reference: %w", err)
	}
	env, err := envelope.Encrypt(key, serialized)
	if err != nil {
		return UploadOutcome{}, fmt.Errorf("failed to encrypt file reference: %w", err)
	}

	ft.logger.WithFields(logrus.Fields{
		"name":        name,
		"storage_key": uploaded.StorageKey,
		"size":        len(data),
	}).Info("File uploaded")

	return UploadOutcome{
		Frame: common.FileLinkFrame{
			IV:         env.IV,
			Ciphertext: env.Ciphertext,
			Name:       name,
		},
		Reference: &ref,
		Encrypted: true,
	}, nil
}

// OpenFileLink decrypts an announced reference. A body that is not a JSON object is
// taken as a bare download URL for an encrypted blob.
func (ft *FileTransfer) OpenFileLink(key *envelope.SessionKey, link common.FileLinkFrame) (common.FileReference, error) {
	if key == nil {
		return common.FileReference{}, ErrEncryptionUnavailable
	}
	plaintext, err := envelope.Decrypt(key, envelope.Envelope{IV: link.IV, Ciphertext: link.Ciphertext})
	if err != nil {
		return common.FileReference{}, err
	}

	body := strings.TrimSpace(string(plaintext))
	if !strings.HasPrefix(body, "{") {
		return common.FileReference{
			Name:        link.Name,
			DownloadURL: body,
			IVLength:    crypto.GCMNonceSize,
		}, nil
	}

	var ref common.FileReference
	if err := json.Unmarshal(plaintext, &ref); err != nil {
		return common.FileReference{}, fmt.Errorf("failed to decode file reference: %w", err)
	}
	if ref.Name == "" {
		ref.Name = link.Name
	}
	return ref, nil
}

// ReceiveFileReference downloads ref and decrypts it when IVLength > 0.
func (ft *FileTransfer) ReceiveFileReference(ctx context.Context, ref common.FileReference, key *envelope.SessionKey) ([]byte, error) {
	if ref.IVLength > 0 && key == nil {
		return nil, ErrEncryptionUnavailable
	}
	body, err := ft.uploader.Download(ctx, ref.DownloadURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", ref.Name, err)
	}
	if ref.IVLength == 0 {
		return body, nil
	}
	data, err := envelope.OpenFile(key, body, ref.IVLength)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s: %w", ref.Name, err)
	}
	return data, nil
}

// Remember caches ref under a fresh id for later download.
func (ft *FileTransfer) Remember(ref common.FileReference) string {
	id := uuid.NewString()
	ft.mu.Lock()
	ft.refs[id] = ref
	ft.mu.Unlock()
	return id
}

func (ft *FileTransfer) Lookup(id string) (common.FileReference, bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ref, ok := ft.refs[id]
	return ref, ok
}
