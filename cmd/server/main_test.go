package main

import (
	"testing"

	"velora/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := []config.Config{
		{AuthSecret: "short", AdminPassword: "v3lora-Str0ng-Gate"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", AdminPassword: "short"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", AdminPassword: "admin123"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", AdminPassword: "aaaaaaaa"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", AdminPassword: "abcdefgh"},
	}
	for _, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("expected weak security config to be rejected: %+v", cfg)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:    "0123456789abcdef0123456789abcdef",
		AdminPassword: "v3lora-Str0ng-Gate",
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
