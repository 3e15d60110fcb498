package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"secure-room/common"
	"secure-room/configs"
)

// BlobStore holds uploaded file bodies. Bodies are opaque; encrypted uploads arrive as
// nonce || ciphertext.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

func GetRandomStorageKey(now time.Time) string {
	return fmt.Sprintf("files/%d/%d/%d/%v", now.Year(), now.Month(), now.Day(), uuid.New())
}

// S3BlobStore stores uploads in an S3 compatible bucket.
type S3BlobStore struct {
	client *s3.Client
	bucket string
}

func NewS3BlobStore(ctx context.Context, cfg *configs.Config) (*S3BlobStore, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.S3Region),
		config.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return &S3BlobStore{client: client, bucket: cfg.S3Bucket}, nil
}

func (b *S3BlobStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

func (b *S3BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// MemoryBlobStore is used when no bucket is configured.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (b *MemoryBlobStore) Put(_ context.Context, key, _ string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (b *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// HandleUpload accepts a multipart "file" field and stores it under a fresh key.
func (s *Server) HandleUpload(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r, true)
	if err != nil {
		s.logger.Warnf("Rejected upload: %v", err)
		http.Error(w, "unauthorized", http.StatusForbidden)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading upload", http.StatusBadRequest)
		return
	}

	key := GetRandomStorageKey(s.now())
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.blobs.Put(r.Context(), key, contentType, data); err != nil {
		s.logger.Errorf("Error storing upload from %s: %v", user, err)
		http.Error(w, "Error storing upload", http.StatusInternalServerError)
		return
	}

	s.logger.Infof("Stored %d bytes from %s as %s", len(data), user, key)
	writeJSON(w, common.UploadResult{
		StorageKey:  key,
		DownloadURL: configs.DownloadPath + key,
	})
}

func (s *Server) HandleDownload(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r, false); err != nil {
		http.Error(w, "unauthorized", http.StatusForbidden)
		return
	}

	key := mux.Vars(r)["key"]
	data, err := s.blobs.Get(r.Context(), key)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Errorf("Error reading blob %s: %v", key, err)
		http.Error(w, "Error reading file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}
