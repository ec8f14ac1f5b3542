package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("ADMIN_PASSWORD", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.AdminPassword != "" {
		t.Fatalf("expected empty ADMIN_PASSWORD when unset, got %q", cfg.AdminPassword)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DEFAULT_BRANCH_ID", "")
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "not-a-number")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("port = %q want 8080", cfg.Port)
	}
	if cfg.BranchID != "main-branch" {
		t.Fatalf("branch = %q want main-branch", cfg.BranchID)
	}
	if cfg.ReportCacheTTLSeconds != 60 {
		t.Fatalf("ttl = %d want 60", cfg.ReportCacheTTLSeconds)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("address = %q", cfg.Address())
	}
}
