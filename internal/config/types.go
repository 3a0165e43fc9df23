package config

// Config is the whole bot configuration. Files may be JSON or YAML; unknown
// keys are rejected.
type Config struct {
	Bot        BotConfig        `json:"bot"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Recovery   RecoveryConfig   `json:"recovery"`
	Commands   CommandsConfig   `json:"commands"`
	Audit      AuditConfig      `json:"audit"`
	Ops        OpsConfig        `json:"ops"`
}

type BotConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// LogChat is a chat id (e.g. "-100123...") that receives warnings.
	LogChat string `json:"log_chat,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout     string `json:"poll_timeout,omitempty"`
	AllowDMCommands bool   `json:"allow_dm_commands,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the record store.
//
//	"storage": { "driver": "sqlite", "path": "./data/mycelium.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://bot@localhost/mycelium" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxOpen     int    `json:"max_open,omitempty"`     // postgres
}

// SchedulerConfig controls deferred task triggering.
//
// Defaults:
//   - reconcile_schedule: "@every 1m" ("off" disables the sweep)
//   - fire_timeout: "30s"
type SchedulerConfig struct {
	ReconcileSchedule string `json:"reconcile_schedule,omitempty"`
	FireTimeout       string `json:"fire_timeout,omitempty"`
	Timezone          string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the worker pool that runs fires and
// housekeeping jobs. Durations are Go duration strings.
//
// Enabled is a pointer so an omitted key defaults to true.
type TaskEngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
}

type RecoveryConfig struct {
	Attempts int    `json:"attempts,omitempty"`
	Backoff  string `json:"backoff,omitempty"`
}

type CommandsConfig struct {
	Prefix           string   `json:"prefix,omitempty"`
	Disabled         []string `json:"disabled,omitempty"`
	PerUserPerMinute int      `json:"per_user_per_minute,omitempty"`
	Cooldown         string   `json:"cooldown,omitempty"`
	Timeout          string   `json:"timeout,omitempty"`
	LogCommands      bool     `json:"log_commands,omitempty"`
}

type AuditConfig struct {
	// Retention is a Go duration; "0s" keeps entries forever.
	Retention     string `json:"retention,omitempty"`
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

// OpsConfig controls the operator HTTP server (/healthz, /metrics, ...).
//
// Prefer a loopback Addr. A non-loopback Addr needs a token or an explicit
// allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9464"
	Token         string `json:"token,omitempty"` // bearer token; never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// TaskEngineEnabled resolves the optional enabled flag.
func (c *Config) TaskEngineEnabled() bool {
	if c == nil || c.TaskEngine.Enabled == nil {
		return true
	}
	return *c.TaskEngine.Enabled
}
