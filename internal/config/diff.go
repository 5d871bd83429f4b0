package config

import (
	"reflect"
	"sort"
	"strings"

	logx "wablast/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (bot tokens) are reported only as
// set/unset booleans.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs, logx.String("server.addr", newCfg.Server.ResolvedAddr()))
	}

	if oldCfg.Session != newCfg.Session {
		changed = append(changed, "session")
		attrs = append(attrs,
			logx.Duration("session.reconnect_base", newCfg.Session.ResolvedReconnectBase()),
			logx.Duration("session.reconnect_cap", newCfg.Session.ResolvedReconnectCap()),
			logx.Int("session.max_attempts", newCfg.Session.ResolvedMaxAttempts()),
		)
	}

	if oldCfg.Message != newCfg.Message {
		changed = append(changed, "message")
		attrs = append(attrs,
			logx.Duration("message.delay", newCfg.Message.ResolvedDelay()),
			logx.Int("message.retry_attempts", newCfg.Message.ResolvedRetryAttempts()),
			logx.Bool("message.fallback_image_set", strings.TrimSpace(newCfg.Message.FallbackImagePath) != ""),
		)
	}

	if oldCfg.Uploads != newCfg.Uploads {
		changed = append(changed, "uploads")
		attrs = append(attrs, logx.Int("uploads.max_bytes", int(newCfg.Uploads.ResolvedMaxBytes())))
	}

	// Nil section means disabled; treat it as the zero value for the diff.
	oSch := derefSchedule(oldCfg.Schedule)
	nSch := derefSchedule(newCfg.Schedule)
	if oSch != nSch {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Bool("schedule.enabled", nSch.Enabled),
			logx.String("schedule.spec", strings.TrimSpace(nSch.Spec)),
			logx.String("schedule.timezone", strings.TrimSpace(nSch.Timezone)),
		)
	}

	// Logging (never log the alert token itself)
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.alerts_enabled", newCfg.Logging.Alerts.Enabled),
			logx.Bool("logx.alerts_token_set", strings.TrimSpace(newCfg.Logging.Alerts.Token) != ""),
		)
	}

	oSt := derefStorage(oldCfg.Storage)
	nSt := derefStorage(newCfg.Storage)
	if oSt != nSt || (oldCfg.Storage == nil) != (newCfg.Storage == nil) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.enabled", newCfg.Storage != nil),
			logx.Bool("storage.path_set", strings.TrimSpace(nSt.Path) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefSchedule(s *ScheduleConfig) ScheduleConfig {
	if s == nil {
		return ScheduleConfig{}
	}
	return *s
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
