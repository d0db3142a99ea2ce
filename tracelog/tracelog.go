// Package tracelog provides the pluggable logger interface used by the
// nettrace parser. Callers supply their own Logger through
// nettrace.Options.Logger; NewZap returns the default implementation.
package tracelog

import (
	"go.uber.org/zap"
)

// Logger is the minimal structured logging surface the parser depends on.
// A caller can plug in any backend that satisfies it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Helper wraps a Logger and is safe to embed on a zero value: a nil
// *Helper or one with a nil Logger silently discards log calls instead of
// panicking, so components can log through an unconfigured Options.Logger.
type Helper struct {
	log Logger
}

// NewHelper wraps l. A nil l yields a Helper that discards everything.
func NewHelper(l Logger) *Helper {
	return &Helper{log: l}
}

func (h *Helper) Debugf(format string, args ...interface{}) {
	if h == nil || h.log == nil {
		return
	}
	h.log.Debugf(format, args...)
}

func (h *Helper) Infof(format string, args ...interface{}) {
	if h == nil || h.log == nil {
		return
	}
	h.log.Infof(format, args...)
}

func (h *Helper) Warnf(format string, args ...interface{}) {
	if h == nil || h.log == nil {
		return
	}
	h.log.Warnf(format, args...)
}

func (h *Helper) Errorf(format string, args ...interface{}) {
	if h == nil || h.log == nil {
		return
	}
	h.log.Errorf(format, args...)
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZap returns a Logger backed by a production zap.Logger.
func NewZap() Logger {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	return &zapLogger{s: l.Sugar()}
}

// NewZapVerbose returns a Logger backed by a development zap.Logger,
// which logs at Debug level with human-readable output instead of
// NewZap's JSON-at-Info-and-above.
func NewZapVerbose() Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewNop()
	}
	return &zapLogger{s: l.Sugar()}
}

// NewZapFrom adapts an existing *zap.Logger.
func NewZapFrom(l *zap.Logger) Logger {
	return &zapLogger{s: l.Sugar()}
}

func (z *zapLogger) Debugf(format string, args ...interface{}) { z.s.Debugf(format, args...) }
func (z *zapLogger) Infof(format string, args ...interface{})  { z.s.Infof(format, args...) }
func (z *zapLogger) Warnf(format string, args ...interface{})  { z.s.Warnf(format, args...) }
func (z *zapLogger) Errorf(format string, args ...interface{}) { z.s.Errorf(format, args...) }
