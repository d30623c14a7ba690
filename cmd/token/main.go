// Package main mints development tokens for connecting to the relay.
//
// Usage:
//
//	token -user alice -name "Alice Liddell"
//
// The secret, issuer and lifetime come from the same AUTH_* variables the
// server reads.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/caarlos0/env/v11"

	"github.com/Tyrowin/roomrelay/internal/auth"
	"github.com/Tyrowin/roomrelay/internal/relay"
)

type config struct {
	Auth auth.JWTConfig `envPrefix:"AUTH_"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("parse env: %v", err)
	}

	user := flag.String("user", "", "user id to embed in the token (required)")
	name := flag.String("name", "", "display name; defaults to the user id")
	flag.DurationVar(&cfg.Auth.TokenTTL, "ttl", cfg.Auth.TokenTTL, "token lifetime")
	flag.Parse()

	if *user == "" {
		flag.Usage()
		os.Exit(2)
	}

	token, err := auth.NewJWTVerifier(cfg.Auth).Issue(relay.Identity{ID: *user, DisplayName: *name})
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(token)
}
