package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/p2pdesk/p2pdesk-api/internal/config"
	"github.com/p2pdesk/p2pdesk-api/internal/domain/user"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/database"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/jwt"
)

// issue-token mints an access token for a chat user id, optionally registering
// the user so identity lookups can resolve it.
func main() {
	userID := flag.Int64("user", 0, "chat user id")
	username := flag.String("username", "", "register the user with this handle")
	displayName := flag.String("name", "", "display name used with -username")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to JWT_ACCESS_TTL)")
	flag.Parse()

	if *userID == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()

	if *username != "" {
		if cfg.UsesMemoryStorage() {
			log.Fatalf("Cannot register users with STORAGE=%s", cfg.Storage)
		}
		db, err := database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.ClosePostgres(db)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		u, err := user.NewService(user.NewRepository(db)).Register(ctx, *userID, *username, *displayName)
		if err != nil {
			log.Fatalf("Failed to register user: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Registered %d as %s\n", u.ID, u.Name())
	}

	accessTTL := cfg.JWTAccessTTL
	if *ttl > 0 {
		accessTTL = *ttl
	}

	token, expiresAt, err := jwt.NewService(cfg.JWTSecret, accessTTL).GenerateAccessToken(*userID)
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}

	fmt.Fprintf(os.Stderr, "Expires at %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println(token)
}
