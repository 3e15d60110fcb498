package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"secure-room/configs"
	"secure-room/crypto/argon2id"
)

const minPasswordLength = 8

// Account is a registered user. Only the salted verifier is kept.
type Account struct {
	User      string    `json:"user"`
	Salt      []byte    `json:"salt"`
	Verifier  []byte    `json:"verifier"`
	CreatedAt time.Time `json:"created_at"`
}

// AccountStore holds one account per user name. Create never overwrites.
type AccountStore interface {
	Create(ctx context.Context, account Account) error
	Get(ctx context.Context, user string) (Account, error)
}

// RedisAccountStore keeps accounts in a single hash of user -> JSON record.
type RedisAccountStore struct {
	redisClient *redis.Client
}

func NewRedisAccountStore(redisClient *redis.Client) *RedisAccountStore {
	return &RedisAccountStore{redisClient: redisClient}
}

func (a *RedisAccountStore) Create(ctx context.Context, account Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to serialize account: %w", err)
	}
	created, err := a.redisClient.HSetNX(ctx, configs.ServerAccountsKey, account.User, data).Result()
	if err != nil {
		return fmt.Errorf("failed to store account: %w", err)
	}
	if !created {
		return ErrAccountExists
	}
	return nil
}

func (a *RedisAccountStore) Get(ctx context.Context, user string) (Account, error) {
	data, err := a.redisClient.HGet(ctx, configs.ServerAccountsKey, user).Result()
	if errors.Is(err, redis.Nil) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("failed to read account: %w", err)
	}
	var account Account
	if err := json.Unmarshal([]byte(data), &account); err != nil {
		return Account{}, fmt.Errorf("failed to decode account for %s: %w", user, err)
	}
	return account, nil
}

// MemoryAccountStore is used when no redis address is configured.
type MemoryAccountStore struct {
	mu       sync.Mutex
	accounts map[string]Account
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: make(map[string]Account)}
}

func (a *MemoryAccountStore) Create(_ context.Context, account Account) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.accounts[account.User]; ok {
		return ErrAccountExists
	}
	a.accounts[account.User] = account
	return nil
}

func (a *MemoryAccountStore) Get(_ context.Context, user string) (Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	account, ok := a.accounts[user]
	if !ok {
		return Account{}, ErrNotFound
	}
	return account, nil
}

type credentials struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

func decodeCredentials(r *http.Request) (credentials, bool) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		return credentials{}, false
	}
	c.User = strings.TrimSpace(c.User)
	return c, c.User != "" && c.Password != ""
}

// HandleRegister creates an account. An existing user name is never replaced.
func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCredentials(r)
	if !ok {
		http.Error(w, "user and password required", http.StatusBadRequest)
		return
	}
	if len(c.Password) < minPasswordLength {
		http.Error(w, fmt.Sprintf("password must be at least %d characters", minPasswordLength), http.StatusBadRequest)
		return
	}

	salt, verifier, err := argon2id.HashPassword([]byte(c.Password))
	if err != nil {
		s.logger.Errorf("Error hashing password for user %s: %v", c.User, err)
		http.Error(w, "Error creating account", http.StatusInternalServerError)
		return
	}
	err = s.accounts.Create(r.Context(), Account{
		User:      c.User,
		Salt:      salt,
		Verifier:  verifier,
		CreatedAt: s.now().UTC(),
	})
	if errors.Is(err, ErrAccountExists) {
		http.Error(w, "user already exists", http.StatusConflict)
		return
	}
	if err != nil {
		s.logger.Errorf("Error creating account for user %s: %v", c.User, err)
		http.Error(w, "Error creating account", http.StatusInternalServerError)
		return
	}

	s.logger.Infof("Account registered for user %s", c.User)
	w.WriteHeader(http.StatusCreated)
}

// checkPassword returns ErrUnauthorized for unknown users and wrong passwords alike.
func (s *Server) checkPassword(ctx context.Context, c credentials) error {
	account, err := s.accounts.Get(ctx, c.User)
	if errors.Is(err, ErrNotFound) {
		return ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if !argon2id.VerifyPassword([]byte(c.Password), account.Salt, account.Verifier) {
		return ErrUnauthorized
	}
	return nil
}
