package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	yaml "go.yaml.in/yaml/v3"
)

// Parse reads and strictly decodes the config file at path. YAML is coerced
// to JSON so both formats go through the same DisallowUnknownFields decoder.
// Environment overrides (BOT_TOKEN, ADMIN_ID) are applied after decoding.
func Parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated documents)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Search.Limit <= 0 {
		cfg.Search.Limit = 5
	}
	if strings.TrimSpace(cfg.Resolver.Binary) == "" {
		cfg.Resolver.Binary = "yt-dlp"
	}
	if strings.TrimSpace(cfg.Artifact.Dir) == "" {
		cfg.Artifact.Dir = "./artifacts"
	}
	if strings.TrimSpace(cfg.Artifact.SweepSchedule) == "" {
		cfg.Artifact.SweepSchedule = "@every 1h"
	}
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Access.PromptCap <= 0 {
		cfg.Access.PromptCap = 10
	}
}

// Validate rejects configs the process cannot safely run with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required (or BOT_TOKEN)")
	}
	if cfg.Admin.UserID == 0 {
		return errors.New("admin.user_id is required (or ADMIN_ID)")
	}
	if strings.TrimSpace(cfg.Access.Channel) == "" {
		return errors.New("access.channel is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Access.FailPolicy)) {
	case "open", "closed":
	default:
		// A silent default would silently lock out or admit every user when
		// the directory is unreachable; force an explicit choice.
		return errors.New(`access.fail_policy must be "open" or "closed"`)
	}
	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"access.prompt_ttl", cfg.Access.PromptTTL},
		{"resolver.search_timeout", cfg.Resolver.SearchTimeout},
		{"resolver.download_timeout", cfg.Resolver.DownloadTimeout},
		{"artifact.orphan_max_age", cfg.Artifact.OrphanMaxAge},
		{"broadcast.send_delay", cfg.Broadcast.SendDelay},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	} {
		if _, err := parseDuration(f.path, f.raw); err != nil {
			return err
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite", "memory":
	default:
		return errors.New("unknown storage driver: " + cfg.Storage.Driver)
	}
	if strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) == "sqlite" && strings.TrimSpace(cfg.Storage.Path) == "" {
		return errors.New("storage.path is required for sqlite")
	}
	return nil
}

// coerceToJSONBytes converts YAML config to JSON bytes so we can re-use the
// strict JSON decoder (DisallowUnknownFields) for both formats.
func coerceToJSONBytes(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	v = normalizeYAML(v)
	j, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// normalizeYAML ensures all map keys are strings so the result can be JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
