package config

// Config is the root configuration. All durations are Go duration strings
// (e.g. "500ms", "15s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Gas      GasConfig      `json:"gas"`
	Profiles ProfilesConfig `json:"profiles"`
	Monitor  MonitorConfig  `json:"monitor"`
	Digest   DigestConfig   `json:"digest,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// GasConfig points at the gas price oracle.
type GasConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// ProfilesConfig points at the downstream profile provisioning API.
type ProfilesConfig struct {
	BaseURL  string `json:"base_url"`
	APIToken string `json:"api_token,omitempty"`
	Timeout  string `json:"timeout,omitempty"`

	// MaxCreateCount caps the "count" field of the create-profile dialogue.
	// Zero means the built-in default (10).
	MaxCreateCount int `json:"max_create_count,omitempty"`
}

// MonitorConfig controls the gas price notification loop.
//
// Defaults (when fields are omitted/zero):
//   - interval: "15s"
//   - error_backoff: "60s"
//   - rate_per_sec: 25
type MonitorConfig struct {
	Enabled      bool   `json:"enabled"`
	Interval     string `json:"interval,omitempty"`
	ErrorBackoff string `json:"error_backoff,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
}

// DigestConfig controls the daily gas summary broadcast.
// Schedule is a cron spec (e.g. "0 9 * * *").
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}
