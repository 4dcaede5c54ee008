package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// ZapLogger adapts a *zap.SugaredLogger to the Logger interface, as an
// alternative to ClueLogger for a process with no Clue logger configured on
// its context. Neither cmd/server nor cmd/migrate constructs one; both log
// through Clue.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a production zap logger wrapped as a Logger. Falls
// back to a no-op logger if zap fails to build (e.g. invalid encoder config).
func NewZapLogger() Logger {
	z, err := zap.NewProduction()
	if err != nil {
		return NewNoopLogger()
	}
	return &ZapLogger{sugar: z.Sugar()}
}

func (l *ZapLogger) Debug(_ context.Context, msg string, keyvals ...any) {
	l.sugar.Debugw(msg, keyvals...)
}

func (l *ZapLogger) Info(_ context.Context, msg string, keyvals ...any) {
	l.sugar.Infow(msg, keyvals...)
}

func (l *ZapLogger) Warn(_ context.Context, msg string, keyvals ...any) {
	l.sugar.Warnw(msg, keyvals...)
}

func (l *ZapLogger) Error(_ context.Context, msg string, keyvals ...any) {
	l.sugar.Errorw(msg, keyvals...)
}
