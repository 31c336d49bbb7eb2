package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"cryptorafts/platform/internal/auth"
)

// token_gen prints a signed access token for local testing
func main() {
	userID := flag.String("user", "", "user id (token subject)")
	email := flag.String("email", "", "email claim")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	token, err := auth.IssueToken(secret, *userID, *email, *ttl)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}

	fmt.Println(token)
}
