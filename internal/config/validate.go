package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the fields a running bot cannot do without. It is the
// default hot-reload validator as well.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Bot.Token) == "" {
		errs = append(errs, errors.New("bot.token is required"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case "postgres", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", cfg.Storage.Driver))
	}

	durations := map[string]string{
		"bot.poll_timeout":            cfg.Bot.PollTimeout,
		"storage.busy_timeout":        cfg.Storage.BusyTimeout,
		"scheduler.fire_timeout":      cfg.Scheduler.FireTimeout,
		"task_engine.default_timeout": cfg.TaskEngine.DefaultTimeout,
		"task_engine.retry_base":      cfg.TaskEngine.RetryBase,
		"task_engine.retry_max_delay": cfg.TaskEngine.RetryMaxDelay,
		"recovery.backoff":            cfg.Recovery.Backoff,
		"commands.cooldown":           cfg.Commands.Cooldown,
		"commands.timeout":            cfg.Commands.Timeout,
		"audit.retention":             cfg.Audit.Retention,
		"ops.read_timeout":            cfg.Ops.ReadTimeout,
		"ops.write_timeout":           cfg.Ops.WriteTimeout,
		"ops.idle_timeout":            cfg.Ops.IdleTimeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.TaskEngine.Workers < 0 || cfg.TaskEngine.QueueSize < 0 || cfg.TaskEngine.RetryMax < 0 {
		errs = append(errs, errors.New("task_engine: workers, queue_size and retry_max must be >= 0"))
	}
	if cfg.Commands.PerUserPerMinute < 0 {
		errs = append(errs, errors.New("commands.per_user_per_minute must be >= 0"))
	}
	return errors.Join(errs...)
}
