package logger

import (
	"github.com/rollbar/rollbar-go"
	"go.uber.org/zap/zapcore"
)

// RollbarConfig configures error reporting to rollbar.
type RollbarConfig struct {
	Token       string
	Environment string
	CodeVersion string
	ServerHost  string
}

// RollbarHook configures the rollbar client and returns a hook that forwards
// entries at or above minLevel.
func RollbarHook(cfg RollbarConfig, minLevel zapcore.Level) Hook {
	rollbar.SetToken(cfg.Token)
	rollbar.SetEnvironment(cfg.Environment)
	rollbar.SetCodeVersion(cfg.CodeVersion)
	rollbar.SetServerHost(cfg.ServerHost)

	return func(entry Entry) {
		if entry.Level < minLevel {
			return
		}
		extras := map[string]interface{}{
			"logger": entry.LoggerName,
			"caller": entry.Caller,
		}
		switch {
		case entry.Level >= zapcore.DPanicLevel:
			rollbar.Critical(entry.Message, extras)
		case entry.Level >= zapcore.ErrorLevel:
			rollbar.Error(entry.Message, extras)
		default:
			rollbar.Warning(entry.Message, extras)
		}
	}
}

// CloseRollbar waits for queued rollbar items to be sent.
func CloseRollbar() {
	rollbar.Close()
}
