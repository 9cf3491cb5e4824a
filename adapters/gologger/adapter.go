package gologger

import (
	glog "github.com/goliatone/go-logger/glog"
	"github.com/robfig/cron/v3"
)

// cronLogger routes scheduler lifecycle logs into a glog logger. cron's Info
// stream is chatty, so it lands at debug level.
type cronLogger struct {
	logger glog.Logger
}

// ToCronLogger maps a glog logger to the cron scheduler logger contract.
func ToCronLogger(logger glog.Logger) cron.Logger {
	if logger == nil {
		return cron.DiscardLogger
	}
	return cronLogger{logger: logger}
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := make([]any, 0, len(keysAndValues)+2)
	args = append(args, "error", err)
	args = append(args, keysAndValues...)
	l.logger.Error(msg, args...)
}
