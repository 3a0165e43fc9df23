package config

import (
	"hash/fnv"
	"reflect"
	"strings"

	logx "mycelium/pkg/logx"
)

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// SummarizeChange returns the changed top-level sections and safe log
// attributes for them. Tokens are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	ob, nb := oldCfg.Bot, newCfg.Bot
	if ob.Token != nb.Token ||
		!reflect.DeepEqual(ob.OwnerUserIDs, nb.OwnerUserIDs) ||
		strings.TrimSpace(ob.LogChat) != strings.TrimSpace(nb.LogChat) ||
		strings.TrimSpace(ob.PollTimeout) != strings.TrimSpace(nb.PollTimeout) ||
		ob.AllowDMCommands != nb.AllowDMCommands {
		changed = append(changed, "bot")
		attrs = append(attrs,
			logx.Int("bot.owner_count", len(nb.OwnerUserIDs)),
			logx.Bool("bot.log_chat_set", strings.TrimSpace(nb.LogChat) != ""),
			logx.Bool("bot.token_changed", ob.Token != nb.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.reconcile_schedule", newCfg.Scheduler.ReconcileSchedule),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}

	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Bool("task_engine.enabled", newCfg.TaskEngineEnabled()),
			logx.Int("task_engine.workers", newCfg.TaskEngine.Workers),
		)
	}

	if oldCfg.Recovery != newCfg.Recovery {
		changed = append(changed, "recovery")
	}

	if !reflect.DeepEqual(oldCfg.Commands, newCfg.Commands) {
		changed = append(changed, "commands")
		attrs = append(attrs,
			logx.Int("commands.disabled", len(newCfg.Commands.Disabled)),
			logx.Int("commands.per_user_per_minute", newCfg.Commands.PerUserPerMinute),
		)
	}

	if oldCfg.Audit != newCfg.Audit {
		changed = append(changed, "audit")
		attrs = append(attrs, logx.String("audit.retention", newCfg.Audit.Retention))
	}

	oo, no := oldCfg.Ops, newCfg.Ops
	oo.Token, no.Token = "", ""
	if oo != no || (oldCfg.Ops.Token != "") != (newCfg.Ops.Token != "") {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
		)
	}

	return changed, attrs
}
