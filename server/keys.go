package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"secure-room/common"
	"secure-room/configs"
)

// KeyDirectory stores one public key record per (room, user).
type KeyDirectory interface {
	Upsert(ctx context.Context, room string, record common.PeerKeyRecord) error
	List(ctx context.Context, room string) ([]common.PeerKeyRecord, error)
}

// RedisKeyDirectory keeps each room in a hash of user -> JSON record.
type RedisKeyDirectory struct {
	redisClient *redis.Client
}

func NewRedisKeyDirectory(redisClient *redis.Client) *RedisKeyDirectory {
	return &RedisKeyDirectory{redisClient: redisClient}
}

func (d *RedisKeyDirectory) Upsert(ctx context.Context, room string, record common.PeerKeyRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize key record: %w", err)
	}
	if err := d.redisClient.HSet(ctx, fmt.Sprintf(configs.ServerRoomKeysKey, room), record.User, data).Err(); err != nil {
		return fmt.Errorf("failed to store key record: %w", err)
	}
	return nil
}

func (d *RedisKeyDirectory) List(ctx context.Context, room string) ([]common.PeerKeyRecord, error) {
	values, err := d.redisClient.HGetAll(ctx, fmt.Sprintf(configs.ServerRoomKeysKey, room)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read key records: %w", err)
	}

	records := make([]common.PeerKeyRecord, 0, len(values))
	for user, data := range values {
		var record common.PeerKeyRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, fmt.Errorf("failed to decode key record for %s: %w", user, err)
		}
		records = append(records, record)
	}
	sortRecords(records)
	return records, nil
}

func (d *RedisKeyDirectory) Close() error {
	return d.redisClient.Close()
}

// MemoryKeyDirectory is used when no redis address is configured.
type MemoryKeyDirectory struct {
	mu    sync.Mutex
	rooms map[string]map[string]common.PeerKeyRecord
}

func NewMemoryKeyDirectory() *MemoryKeyDirectory {
	return &MemoryKeyDirectory{rooms: make(map[string]map[string]common.PeerKeyRecord)}
}

func (d *MemoryKeyDirectory) Upsert(_ context.Context, room string, record common.PeerKeyRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rooms[room] == nil {
		d.rooms[room] = make(map[string]common.PeerKeyRecord)
	}
	d.rooms[room][record.User] = record
	return nil
}

func (d *MemoryKeyDirectory) List(_ context.Context, room string) ([]common.PeerKeyRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	records := make([]common.PeerKeyRecord, 0, len(d.rooms[room]))
	for _, r := range d.rooms[room] {
		records = append(records, r)
	}
	sortRecords(records)
	return records, nil
}

// sortRecords orders by publish time, oldest first.
func sortRecords(records []common.PeerKeyRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].User < records[j].User
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}

func (s *Server) HandlePostKeys(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r, true)
	if err != nil {
		s.logger.Warnf("Rejected key upload: %v", err)
		http.Error(w, "unauthorized", http.StatusForbidden)
		return
	}
	room := r.URL.Query().Get("room")
	if room == "" {
		http.Error(w, "No room provided", http.StatusBadRequest)
		return
	}

	var req common.PublishKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Errorf("Error decoding keys for user %s: %v", user, err)
		http.Error(w, "Invalid body", http.StatusBadRequest)
		return
	}
	if req.User != "" && req.User != user {
		http.Error(w, "Cannot publish for another user", http.StatusForbidden)
		return
	}
	if _, err := req.PublicKey.PublicKey(); err != nil {
		http.Error(w, "Invalid public key", http.StatusBadRequest)
		return
	}
	req.PublicKey.D = ""

	record := common.PeerKeyRecord{
		User:      user,
		PublicKey: req.PublicKey,
		CreatedAt: s.now().UTC(),
	}
	if err := s.keys.Upsert(r.Context(), room, record); err != nil {
		s.logger.Errorf("Error publishing keys for user %s: %v", user, err)
		http.Error(w, "Error publishing keys", http.StatusInternalServerError)
		return
	}

	s.logger.Infof("Public key published for user %s in room %s", user, room)
	writeJSON(w, record)
}

func (s *Server) HandleGetKeys(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		http.Error(w, "No room provided", http.StatusBadRequest)
		return
	}

	records, err := s.keys.List(r.Context(), room)
	if err != nil {
		s.logger.Errorf("Error retrieving keys for room %s: %v", room, err)
		http.Error(w, "Error retrieving keys", http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}
