package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenCommandSignsWithConfiguredSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"server":{"jwt_secret":"cli-secret"}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cmd := tokenCMD()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"user-7", "--config", path, "--ttl", "1h"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	var claims jwt.RegisteredClaims
	tok, err := jwt.ParseWithClaims(strings.TrimSpace(out.String()), &claims, func(*jwt.Token) (interface{}, error) {
		return []byte("cli-secret"), nil
	})
	if err != nil || !tok.Valid || claims.Subject != "user-7" {
		t.Fatalf("unexpected token: %v %+v", err, claims)
	}
}

func TestTokenCommandRequiresSubject(t *testing.T) {
	cmd := tokenCMD()
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error without subject")
	}
}
