// Command tokengen mints bearer tokens for local testing against ride-api.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/ride-companion/internal/auth"
)

func main() {
	_ = godotenv.Load()

	user := flag.String("user", "", "user id placed in the sub claim")
	role := flag.String("role", string(auth.RoleRider), "rider, driver or admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "usage: tokengen -user <id> [-role rider|driver|admin] [-ttl 24h]")
		os.Exit(2)
	}
	r := auth.Role(*role)
	if !r.Valid() {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	issuer, err := auth.NewIssuer(os.Getenv("JWT_SECRET"), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: %v\n", err)
		os.Exit(1)
	}
	tok, err := issuer.Issue(*user, r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
