package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("DATA_DIR", "")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.HTTPAddr)
	}
	if cfg.DataDir != "./data" {
		t.Fatalf("expected default data dir, got %q", cfg.DataDir)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("MIRROR_BACKEND", "redis")
	t.Setenv("MIRROR_REDIS_ADDR", "localhost:6379")
	t.Setenv("MIRROR_REDIS_DB", "3")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.MirrorBackend != "redis" || cfg.RedisDB != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRulesFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := []byte(`
scoreTable:
  casino_verification: 20
  community_help: 3
branchAccess:
  - dashboard
  - beta_tracking
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rules, err := LoadRulesFromPath(path)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	if rules.ScoreTable["casino_verification"] != 20 {
		t.Fatalf("score table not loaded: %v", rules.ScoreTable)
	}
	if len(rules.BranchAccess) != 2 || rules.BranchAccess[0] != "dashboard" {
		t.Fatalf("branch access not loaded: %v", rules.BranchAccess)
	}
}

func TestLoadRulesRejectsNegativeScores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("scoreTable:\n  bad_kind: -5\n"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	if _, err := LoadRulesFromPath(path); err == nil {
		t.Fatalf("expected error for negative score")
	}
}

func TestLoadRulesMissingFile(t *testing.T) {
	if _, err := LoadRulesFromPath(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
