package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/d9705996/statusbridge/internal/auth"
	"github.com/d9705996/statusbridge/internal/config"
)

// runToken prints a read-scoped admin token: statusbridge token [subject].
func runToken(out io.Writer, args []string) error {
	if len(args) > 1 {
		return errors.New("usage: statusbridge token [subject]")
	}
	subject := "admin"
	if len(args) == 1 && args[0] != "" {
		subject = args[0]
	}
	cfg, err := config.LoadJWT()
	if err != nil {
		return err
	}
	if cfg.Secret == "" {
		return errors.New("API_JWT_SECRET is not set")
	}
	tok, err := auth.IssueAccessToken(subject, []string{auth.ScopeRead}, cfg.Secret, cfg.TTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	_, err = fmt.Fprintln(out, tok)
	return err
}
