package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
telegram:
  token: "123:abc"
admin:
  user_id: 42
access:
  channel: "@music"
  fail_policy: "closed"
storage:
  driver: "memory"
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseValid(t *testing.T) {
	cfg, err := Parse(writeConfig(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Admin.UserID != 42 || cfg.Access.Channel != "@music" {
		t.Fatalf("parsed config = %+v", cfg)
	}

	// Defaults fill the gaps.
	if cfg.Search.Limit != 5 {
		t.Fatalf("search.limit default = %d, want 5", cfg.Search.Limit)
	}
	if cfg.Resolver.Binary != "yt-dlp" {
		t.Fatalf("resolver.binary default = %q", cfg.Resolver.Binary)
	}
	if cfg.Artifact.SweepSchedule != "@every 1h" {
		t.Fatalf("artifact.sweep_schedule default = %q", cfg.Artifact.SweepSchedule)
	}
	if cfg.Access.PromptCap != 10 {
		t.Fatalf("access.prompt_cap default = %d, want 10", cfg.Access.PromptCap)
	}
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			"unknown field",
			validYAML + "bogus: 1\n",
			"bogus",
		},
		{
			"missing token",
			strings.Replace(validYAML, `token: "123:abc"`, `token: ""`, 1),
			"telegram.token",
		},
		{
			"missing admin",
			strings.Replace(validYAML, "user_id: 42", "user_id: 0", 1),
			"admin.user_id",
		},
		{
			"missing channel",
			strings.Replace(validYAML, `channel: "@music"`, `channel: ""`, 1),
			"access.channel",
		},
		{
			"missing fail policy",
			strings.Replace(validYAML, `fail_policy: "closed"`, `fail_policy: ""`, 1),
			"fail_policy",
		},
		{
			"bogus fail policy",
			strings.Replace(validYAML, `fail_policy: "closed"`, `fail_policy: "maybe"`, 1),
			"fail_policy",
		},
		{
			"bad duration",
			validYAML + "broadcast:\n  send_delay: \"fast\"\n",
			"send_delay",
		},
		{
			"unknown driver",
			strings.Replace(validYAML, `driver: "memory"`, `driver: "postgres"`, 1),
			"storage driver",
		},
		{
			"sqlite without path",
			strings.Replace(validYAML, `driver: "memory"`, `driver: "sqlite"`, 1),
			"storage.path",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(writeConfig(t, "config.yaml", tc.body))
			if err == nil {
				t.Fatal("Parse accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("ADMIN_ID", "777")

	cfg, err := Parse(writeConfig(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("telegram.token = %q, want the env override", cfg.Telegram.Token)
	}
	if cfg.Admin.UserID != 777 {
		t.Fatalf("admin.user_id = %d, want the env override", cfg.Admin.UserID)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	if d, err := parseDuration("x", "250ms"); err != nil || d != 250*time.Millisecond {
		t.Fatalf("parseDuration = (%v, %v)", d, err)
	}
	if d, err := parseDuration("x", ""); err != nil || d != 0 {
		t.Fatalf("empty field = (%v, %v), want (0, nil)", d, err)
	}
	if _, err := parseDuration("x", "soon"); err == nil {
		t.Fatal("malformed duration must error")
	}
	if _, err := parseDuration("x", "-1s"); err == nil {
		t.Fatal("negative duration must error")
	}
}

func TestDurationField(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		def  time.Duration
		want time.Duration
	}{
		{"", 3 * time.Second, 3 * time.Second},
		{"1m", 3 * time.Second, time.Minute},
		{"0s", time.Hour, time.Hour},
		{"", 0, 0},
	}
	for _, tc := range cases {
		if got := DurationField(tc.raw, tc.def); got != tc.want {
			t.Fatalf("DurationField(%q, %v) = %v, want %v", tc.raw, tc.def, got, tc.want)
		}
	}
}
