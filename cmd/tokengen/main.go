// Package main provides a CLI tool for issuing actor tokens for the warden
// admin API. The default key matches the development config and will NOT
// work in production.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"warden/internal/access/identity"
	"warden/internal/platform/config"
	id "warden/pkg/domain"
)

type tokenOutput struct {
	Token     string            `json:"token"`
	ActorID   string            `json:"actor_id"`
	ExpiresIn string            `json:"expires_in"`
	Usage     map[string]string `json:"usage"`
}

func main() {
	defaults := config.Default().Server

	actorID := flag.String("actor-id", "", "Actor ID (UUID). Generated if empty.")
	signingKey := flag.String("key", defaults.JWTSigningKey, "HS256 signing key")
	issuer := flag.String("issuer", defaults.JWTIssuer, "Token issuer")
	ttl := flag.Duration("ttl", time.Hour, "Token time-to-live")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	flag.Usage = printUsage
	flag.Parse()

	actor := parseOrGenerateActor(*actorID)
	svc := identity.NewTokenService(*signingKey, *issuer, *ttl)

	token, err := svc.Issue(context.Background(), actor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	if *jsonOutput {
		printJSON(tokenOutput{
			Token:     token,
			ActorID:   actor.String(),
			ExpiresIn: ttl.String(),
			Usage: map[string]string{
				"header": "Authorization: Bearer <token>",
			},
		})
		return
	}

	fmt.Println("Actor Token (JWT)")
	fmt.Println("=================")
	fmt.Printf("Actor ID:   %s\n", actor)
	fmt.Printf("Issuer:     %s\n", *issuer)
	fmt.Printf("Expires In: %s\n", *ttl)
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(token)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  curl -H \"Authorization: Bearer <token>\" http://localhost:8080/admin/...")
	fmt.Println()
	fmt.Println("The actor must exist. Set WARDEN_SERVER__BOOTSTRAP_ADMIN to the same id")
	fmt.Println("to create it as super_admin on startup.")
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `tokengen - Issue actor tokens for the warden admin API

WARNING: The default signing key is the development key and will NOT work
         in production.

Usage:
  tokengen [flags]

Examples:
  # Token for a new random actor id
  tokengen

  # Token for a known actor with a custom TTL
  tokengen -actor-id "550e8400-e29b-41d4-a716-446655440000" -ttl 15m

  # Output as JSON
  tokengen -json

Flags:`)
	flag.PrintDefaults()
}

func parseOrGenerateActor(input string) id.ActorID {
	if input == "" {
		return id.NewActorID()
	}
	parsed, err := id.ParseActorID(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid actor-id UUID: %s\n", input)
		os.Exit(1)
	}
	return parsed
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}
