package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"

	"secure-room/configs"
	"secure-room/protocol/keyagreement"
	"secure-room/store"
)

func main() {
	envFile := flag.String("env", ".env", "env file with configuration overrides")
	showPrivate := flag.Bool("private", false, "also print the private component")
	flag.Parse()

	cfg, err := configs.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	ctx := context.Background()

	keys, err := store.OpenSQLite(ctx, cfg.KeyStorePath)
	if err != nil {
		log.Fatalf("Failed to open key store: %v", err)
	}
	defer keys.Close()

	// Load the device keypair, generating it on first run
	pair, err := keyagreement.New(keys, nil, cfg.DeviceID, cfg.NewLogger()).EnsureIdentityKeyPair(ctx)
	if err != nil {
		log.Fatalf("Failed to create keypair: %v", err)
	}

	jwk := pair.PublicJWK()
	if *showPrivate {
		jwk = pair.PrivateJWK()
	}
	out, err := json.MarshalIndent(jwk, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode key: %v", err)
	}

	fmt.Printf("DEVICE: %s\n", cfg.DeviceID)
	fmt.Printf("JWK: %s\n", out)
}
