package bridge

import (
	"go.uber.org/zap"
)

// cronLogger adapts zap to cron.Logger. The skip message emitted by
// cron.SkipIfStillRunning is also reported through onSkip.
type cronLogger struct {
	logger *zap.Logger
	onSkip func()
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	if msg == "skip" {
		l.logger.Info("sync tick skipped, previous sync still running")
		if l.onSkip != nil {
			l.onSkip()
		}
		return
	}
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
