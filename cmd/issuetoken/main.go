// Package main выпускает токен сотрудника для первого входа в бэк-офис.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/loan-backoffice/internal/middleware"
	"github.com/mmeshcher/loan-backoffice/internal/permission"
)

type options struct {
	AuthSecret string `env:"AUTH_SECRET"`
}

func main() {
	var opts options
	if err := env.Parse(&opts); err != nil {
		fmt.Fprintln(os.Stderr, "parse env:", err)
		os.Exit(2)
	}

	userID := flag.Int64("u", 1, "staff user id")
	role := flag.String("r", string(permission.RoleAdmin), "role: admin, officer, collector or viewer")
	ttl := flag.Duration("ttl", middleware.DefaultTokenTTL, "token lifetime")
	secret := flag.String("s", "", "secret for signing staff tokens")
	flag.Parse()

	if opts.AuthSecret != "" {
		*secret = opts.AuthSecret
	}
	if *secret == "" {
		fmt.Fprintln(os.Stderr, "AUTH_SECRET or -s is required")
		os.Exit(2)
	}

	token, err := middleware.NewAuthMiddleware(*secret).IssueToken(*userID, permission.Role(*role), *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("%s\nexpires at %s\n", token, time.Now().Add(*ttl).UTC().Format(time.RFC3339))
}
