package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/park285/threeslide-arena/internal/identity"
)

func main() {
	baseURL := os.Getenv("IDENTITY_BASE_URL")
	token := os.Getenv("IDENTITY_TOKEN")
	userID := os.Getenv("IDENTITY_USER_ID")

	if baseURL == "" {
		log.Fatal("IDENTITY_BASE_URL is required")
	}

	client := identity.NewClient(baseURL, identity.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		log.Printf("ping error: %v", err)
	} else {
		log.Printf("ping ok: %s", baseURL)
	}

	if token != "" {
		u, err := client.Me(ctx, token)
		if err != nil {
			log.Printf("/users/me error: %v", err)
		} else {
			log.Printf("/users/me ok: id=%s pseudo=%s elo=%d", u.ID, u.Pseudo, u.Rating)
		}
	} else {
		log.Println("IDENTITY_TOKEN not set; skipping token check")
	}

	if userID == "" {
		return
	}
	u, err := client.User(ctx, userID)
	if err != nil {
		log.Printf("/users/%s error: %v", userID, err)
		return
	}
	log.Printf("/users/%s ok: pseudo=%s elo=%d", u.ID, u.Pseudo, u.Rating)
}
