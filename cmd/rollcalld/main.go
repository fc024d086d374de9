package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/attendance/app"
	"github.com/aussiebroadwan/rollcall/pkg/jwtx"
)

func main() {
	cfg := app.LoadConfig()

	if len(os.Args) > 1 && os.Args[1] == "mint-token" {
		os.Exit(mintToken(cfg, os.Args[2:]))
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

// mintToken prints an access token signed with the server key.
func mintToken(cfg app.Config, args []string) int {
	fs := flag.NewFlagSet("mint-token", flag.ContinueOnError)
	subject := fs.String("subject", "", "user id the token is issued to")
	role := fs.String("role", jwtx.RoleStudent, "teacher or student")
	name := fs.String("name", "", "display name")
	ttl := fs.Duration("ttl", cfg.TokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg.TokenTTL = *ttl
	tok, err := app.MintToken(cfg, *subject, *role, *name, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, "mint-token:", err)
		return 1
	}
	fmt.Println(tok)
	return 0
}
