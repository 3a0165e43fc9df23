package app

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"mycelium/internal/config"
	"mycelium/internal/ops"
	"mycelium/internal/storage"
	"mycelium/internal/task/engine"
	"mycelium/internal/task/recovery"
	"mycelium/internal/task/scheduler"
	"mycelium/internal/transport/telegram/router"
	logx "mycelium/pkg/logx"
)

const (
	defaultReconcileSchedule = "@every 1m"
	defaultPruneSchedule     = "@daily"
	defaultAuditRetention    = 90 * 24 * time.Hour
	auditPruneJob            = "audit.prune"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			ThreadID:   cfg.Logging.Chat.ThreadID,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

// parseChatID reads bot.log_chat. Empty means no log chat.
func parseChatID(raw string) (int64, bool, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, errors.New("bot.log_chat: not a chat id: " + raw)
	}
	return id, true, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.TrimSpace(cfg.Storage.Driver),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		DSN:         strings.TrimSpace(cfg.Storage.DSN),
		BusyTimeout: busy,
		MaxOpen:     cfg.Storage.MaxOpen,
	}, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	tc := cfg.TaskEngine
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", tc.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	retryBase, err := config.ParseDurationField("task_engine.retry_base", tc.RetryBase)
	if err != nil {
		return engine.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("task_engine.retry_max_delay", tc.RetryMaxDelay)
	if err != nil {
		return engine.Config{}, err
	}
	retryMax := tc.RetryMax
	if retryMax == 0 {
		retryMax = 3
	}
	return engine.Config{
		Enabled:        cfg.TaskEngineEnabled(),
		Workers:        tc.Workers,
		QueueSize:      tc.QueueSize,
		DefaultTimeout: defTimeout,
		HistorySize:    tc.HistorySize,
		RetryMax:       retryMax,
		RetryBase:      retryBase,
		RetryMaxDelay:  retryMaxDelay,
	}, nil
}

// mapSchedulerConfig fills the reconcile default. "off" disables the sweep.
func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	fire, err := config.ParseDurationOrDefault("scheduler.fire_timeout", cfg.Scheduler.FireTimeout, 30*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	spec := strings.TrimSpace(cfg.Scheduler.ReconcileSchedule)
	switch strings.ToLower(spec) {
	case "":
		spec = defaultReconcileSchedule
	case "off", "none", "disabled":
		spec = ""
	}
	return scheduler.Config{
		ReconcileSchedule: spec,
		FireTimeout:       fire,
		Timezone:          strings.TrimSpace(cfg.Scheduler.Timezone),
	}, nil
}

func mapRecoveryConfig(cfg *config.Config) (recovery.Config, error) {
	backoff, err := config.ParseDurationOrDefault("recovery.backoff", cfg.Recovery.Backoff, time.Second)
	if err != nil {
		return recovery.Config{}, err
	}
	return recovery.Config{Attempts: cfg.Recovery.Attempts, Backoff: backoff}, nil
}

func mapCommandPolicy(cfg *config.Config) (router.Policy, error) {
	cooldown, err := config.ParseDurationField("commands.cooldown", cfg.Commands.Cooldown)
	if err != nil {
		return router.Policy{}, err
	}
	timeout, err := config.ParseDurationField("commands.timeout", cfg.Commands.Timeout)
	if err != nil {
		return router.Policy{}, err
	}
	disabled := make([]string, 0, len(cfg.Commands.Disabled))
	for _, d := range cfg.Commands.Disabled {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "/"))
		if d != "" {
			disabled = append(disabled, d)
		}
	}
	return router.Policy{
		Prefix:           strings.TrimSpace(cfg.Commands.Prefix),
		Disabled:         disabled,
		PerUserPerMinute: cfg.Commands.PerUserPerMinute,
		Cooldown:         cooldown,
		Timeout:          timeout,
		LogCommands:      cfg.Commands.LogCommands,
		AllowDM:          cfg.Bot.AllowDMCommands,
	}, nil
}

// auditPrune returns the retention and cron spec. Retention 0 disables
// pruning; an omitted retention keeps 90 days.
func auditPrune(cfg *config.Config) (time.Duration, string, error) {
	var retention time.Duration
	if strings.TrimSpace(cfg.Audit.Retention) == "" {
		retention = defaultAuditRetention
	} else {
		d, err := config.ParseDurationField("audit.retention", cfg.Audit.Retention)
		if err != nil {
			return 0, "", err
		}
		retention = d
	}
	spec := strings.TrimSpace(cfg.Audit.PruneSchedule)
	if spec == "" {
		spec = defaultPruneSchedule
	}
	return retention, spec, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	rt, err := config.ParseDurationField("ops.read_timeout", oc.ReadTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	wt, err := config.ParseDurationField("ops.write_timeout", oc.WriteTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	it, err := config.ParseDurationField("ops.idle_timeout", oc.IdleTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       oc.Enabled,
		Addr:          strings.TrimSpace(oc.Addr),
		Token:         oc.Token,
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}, nil
}
