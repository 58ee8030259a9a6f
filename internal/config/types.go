package config

// Config is the process-wide configuration, loaded once at start and
// re-published on file change. All durations are Go duration strings
// (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Admin     AdminConfig     `json:"admin"`
	Access    AccessConfig    `json:"access"`
	Search    SearchConfig    `json:"search"`
	Resolver  ResolverConfig  `json:"resolver"`
	Artifact  ArtifactConfig  `json:"artifact"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token" env:"BOT_TOKEN"`
	// PollTimeout is a Go duration string.
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type AdminConfig struct {
	// UserID is the single administrator allowed to broadcast and read stats.
	UserID int64 `json:"user_id" env:"ADMIN_ID"`
}

// AccessConfig controls the membership gate.
//
// FailPolicy decides the outcome when the membership probe itself fails
// (directory unreachable, permission error). It must be set explicitly:
//   - "open":   admit on probe failure
//   - "closed": deny on probe failure
type AccessConfig struct {
	// Channel is the community resource whose membership gates usage,
	// as "@username" or a numeric chat id.
	Channel    string `json:"channel"`
	FailPolicy string `json:"fail_policy"`
	// PromptTTL expires stale denial prompts even without a later success.
	// "0s" disables expiry (prompts are only retracted on success).
	PromptTTL string `json:"prompt_ttl,omitempty"`
	// PromptCap bounds tracked denial prompts per session (oldest retracted
	// first). Default 10.
	PromptCap int `json:"prompt_cap,omitempty"`
}

type SearchConfig struct {
	// Limit is the top-K candidate count. Default 5.
	Limit int `json:"limit,omitempty"`
}

type ResolverConfig struct {
	// Binary is the yt-dlp executable. Default "yt-dlp".
	Binary          string `json:"binary,omitempty"`
	SearchTimeout   string `json:"search_timeout,omitempty"`
	DownloadTimeout string `json:"download_timeout,omitempty"`
}

type ArtifactConfig struct {
	// Dir holds transient downloaded files. Default "./artifacts".
	Dir string `json:"dir,omitempty"`
	// SweepSchedule is a cron spec for the orphan sweep. Default "@every 1h".
	SweepSchedule string `json:"sweep_schedule,omitempty"`
	// OrphanMaxAge is the age after which a leftover file is considered
	// orphaned. Default "2h".
	OrphanMaxAge string `json:"orphan_max_age,omitempty"`
}

type BroadcastConfig struct {
	// SendDelay is the fixed inter-send delay between recipients.
	// Default "200ms".
	SendDelay string `json:"send_delay,omitempty"`
}

// StorageConfig controls the user directory backend.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process only (dev/tests; loses records on restart)
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}
