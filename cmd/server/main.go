package main

import (
	"context"
	"flag"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"secure-room/configs"
	"secure-room/server"
)

var (
	logger = logrus.New()
)

// Main function to start the server
func main() {
	envFile := flag.String("env", ".env", "env file with configuration overrides")
	flag.Parse()

	cfg, err := configs.Load(*envFile)
	if err != nil {
		logger.Fatalf("Error loading config: %v", err)
	}
	logger = cfg.NewLogger()
	ctx := context.Background()

	var keys server.KeyDirectory = server.NewMemoryKeyDirectory()
	var accounts server.AccountStore = server.NewMemoryAccountStore()
	if cfg.RedisAddress != "" {
		if cfg.JWTSecret == configs.DefaultJWTSecret {
			logger.Fatal("JWT_SECRET must be set when accounts are persisted in redis")
		}
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatalf("Error connecting to redis at %s: %v", cfg.RedisAddress, err)
		}
		keys = server.NewRedisKeyDirectory(redisClient)
		accounts = server.NewRedisAccountStore(redisClient)
	} else {
		logger.Warn("REDIS_ADDRESS not set, keeping accounts and the key directory in memory")
	}

	var blobs server.BlobStore = server.NewMemoryBlobStore()
	if cfg.S3Bucket != "" {
		blobs, err = server.NewS3BlobStore(ctx, cfg)
		if err != nil {
			logger.Fatalf("Error configuring S3: %v", err)
		}
	} else {
		logger.Warn("S3_BUCKET not set, keeping uploads in memory")
	}

	s := server.NewServer(ctx, cfg, keys, accounts, blobs, logger)
	defer s.Close()

	logger.Infof("Relay running on %s", cfg.ListenAddress)
	if err := http.ListenAndServe(cfg.ListenAddress, s.Router()); err != nil {
		logger.Fatalf("Error starting server: %v", err)
	}

	logger.Info("Closing server...")
}
