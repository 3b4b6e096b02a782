package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration, decoded from the environment.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR,default=:8080"`
	DataDir  string `env:"DATA_DIR,default=./data"`

	OwnerDiscordID string `env:"OWNER_DISCORD_ID"`
	AdminJWTSecret string `env:"ADMIN_JWT_SECRET"`

	// Mirror selects the optional external replica: "", "postgres", "redis".
	MirrorBackend string `env:"MIRROR_BACKEND"`
	PostgresDSN   string `env:"MIRROR_POSTGRES_DSN"`
	RedisAddr     string `env:"MIRROR_REDIS_ADDR"`
	RedisPassword string `env:"MIRROR_REDIS_PASSWORD"`
	RedisDB       int    `env:"MIRROR_REDIS_DB,default=0"`
}

// FromEnv decodes the configuration from the environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Rules tunes the ledger's scoring and the registry's branch grants.
type Rules struct {
	ScoreTable   map[string]int `yaml:"scoreTable"`
	BranchAccess []string       `yaml:"branchAccess"`
}

// LoadRules loads the rules file from config/trustlayer.yaml.
func LoadRules() (*Rules, error) {
	return LoadRulesFromPath(filepath.Join("config", "trustlayer.yaml"))
}

// LoadRulesFromPath loads the rules file from a specific path.
func LoadRulesFromPath(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules config: %w", err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules config: %w", err)
	}
	for kind, score := range rules.ScoreTable {
		if score < 0 {
			return nil, fmt.Errorf("score table entry %s: negative scores are not allowed", kind)
		}
	}
	return &rules, nil
}

// LoadRulesOrDefault loads the rules file or returns built-in defaults when
// the file is absent.
func LoadRulesOrDefault() *Rules {
	rules, err := LoadRules()
	if err != nil {
		return &Rules{}
	}
	return rules
}
