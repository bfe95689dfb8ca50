package zerolog

import (
	"fmt"

	"github.com/raykavin/trailflow/core"

	"github.com/rs/zerolog"
)

// Adapter exposes a zerolog.Logger through the core.Logger interface.
// The zero value is not usable; build one with NewAdapter or New.
type Adapter struct {
	l *zerolog.Logger
}

func NewAdapter(logger *zerolog.Logger) *Adapter {
	return &Adapter{l: logger}
}

func (a *Adapter) derive(decorate func(zerolog.Context) zerolog.Context) core.Logger {
	child := decorate(a.l.With()).Logger()
	return &Adapter{l: &child}
}

func (a *Adapter) WithField(key string, value any) core.Logger {
	return a.derive(func(c zerolog.Context) zerolog.Context {
		return c.Interface(key, value)
	})
}

func (a *Adapter) WithFields(fields map[string]any) core.Logger {
	return a.derive(func(c zerolog.Context) zerolog.Context {
		return c.Fields(fields)
	})
}

func (a *Adapter) WithError(err error) core.Logger {
	return a.derive(func(c zerolog.Context) zerolog.Context {
		return c.Err(err)
	})
}

// event maps a core level onto the matching zerolog event constructor.
func (a *Adapter) event(level core.Level) *zerolog.Event {
	switch level {
	case core.TraceLevel:
		return a.l.Trace()
	case core.DebugLevel:
		return a.l.Debug()
	case core.WarnLevel:
		return a.l.Warn()
	case core.ErrorLevel:
		return a.l.Error()
	case core.FatalLevel:
		return a.l.Fatal()
	case core.PanicLevel:
		return a.l.Panic()
	default:
		return a.l.Info()
	}
}

func (a *Adapter) Print(args ...any) { a.l.Print(args...) }
func (a *Adapter) Trace(args ...any) { a.event(core.TraceLevel).Msg(fmt.Sprint(args...)) }
func (a *Adapter) Debug(args ...any) { a.event(core.DebugLevel).Msg(fmt.Sprint(args...)) }
func (a *Adapter) Info(args ...any)  { a.event(core.InfoLevel).Msg(fmt.Sprint(args...)) }
func (a *Adapter) Warn(args ...any)  { a.event(core.WarnLevel).Msg(fmt.Sprint(args...)) }
func (a *Adapter) Error(args ...any) { a.event(core.ErrorLevel).Msg(fmt.Sprint(args...)) }
func (a *Adapter) Fatal(args ...any) { a.event(core.FatalLevel).Msg(fmt.Sprint(args...)) }
func (a *Adapter) Panic(args ...any) { a.event(core.PanicLevel).Msg(fmt.Sprint(args...)) }

func (a *Adapter) Printf(format string, args ...any) { a.l.Printf(format, args...) }

func (a *Adapter) Tracef(format string, args ...any) {
	a.event(core.TraceLevel).Msgf(format, args...)
}

func (a *Adapter) Debugf(format string, args ...any) {
	a.event(core.DebugLevel).Msgf(format, args...)
}

func (a *Adapter) Infof(format string, args ...any) {
	a.event(core.InfoLevel).Msgf(format, args...)
}

func (a *Adapter) Warnf(format string, args ...any) {
	a.event(core.WarnLevel).Msgf(format, args...)
}

func (a *Adapter) Errorf(format string, args ...any) {
	a.event(core.ErrorLevel).Msgf(format, args...)
}

func (a *Adapter) Fatalf(format string, args ...any) {
	a.event(core.FatalLevel).Msgf(format, args...)
}

func (a *Adapter) Panicf(format string, args ...any) {
	a.event(core.PanicLevel).Msgf(format, args...)
}

func (a *Adapter) SetLevel(level core.Level) {
	zerolog.SetGlobalLevel(toZerologLevel(level))
}

func (a *Adapter) GetLevel() core.Level {
	return toCoreLevel(a.l.GetLevel())
}

func toCoreLevel(level zerolog.Level) core.Level {
	switch level {
	case zerolog.Disabled:
		return core.Disabled
	case zerolog.TraceLevel:
		return core.TraceLevel
	case zerolog.DebugLevel:
		return core.DebugLevel
	case zerolog.InfoLevel:
		return core.InfoLevel
	case zerolog.WarnLevel:
		return core.WarnLevel
	case zerolog.ErrorLevel:
		return core.ErrorLevel
	case zerolog.FatalLevel:
		return core.FatalLevel
	case zerolog.PanicLevel:
		return core.PanicLevel
	default:
		return core.NoLevel
	}
}

func toZerologLevel(level core.Level) zerolog.Level {
	switch level {
	case core.Disabled:
		return zerolog.Disabled
	case core.TraceLevel:
		return zerolog.TraceLevel
	case core.DebugLevel:
		return zerolog.DebugLevel
	case core.InfoLevel:
		return zerolog.InfoLevel
	case core.WarnLevel:
		return zerolog.WarnLevel
	case core.ErrorLevel:
		return zerolog.ErrorLevel
	case core.FatalLevel:
		return zerolog.FatalLevel
	case core.PanicLevel:
		return zerolog.PanicLevel
	default:
		return zerolog.NoLevel
	}
}
