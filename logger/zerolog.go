package logger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gorm-relativity/relativity/utils"
	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"
)

// ZerologLogger implements Interface using zerolog
type ZerologLogger struct {
	Logger                    zerolog.Logger
	LogLevel                  LogLevel
	SlowThreshold             time.Duration
	Parameterized             bool
	IgnoreRecordNotFoundError bool
}

// NewZerologLogger creates a new logger using zerolog
func NewZerologLogger(logger zerolog.Logger, config Config) Interface {
	return &ZerologLogger{
		Logger:                    logger,
		LogLevel:                  config.LogLevel,
		SlowThreshold:             config.SlowThreshold,
		Parameterized:             config.ParameterizedQueries,
		IgnoreRecordNotFoundError: config.IgnoreRecordNotFoundError,
	}
}

// NewConsoleLogger zerolog console logger on stdout
func NewConsoleLogger(config Config) Interface {
	consoleWriter := zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stdout
		w.TimeFormat = time.RFC3339
	})
	logger := zerolog.New(consoleWriter).Level(ZerologLevel(config.LogLevel)).With().Timestamp().Logger()
	return NewZerologLogger(logger, config)
}

// LogMode sets the log level
func (l *ZerologLogger) LogMode(level LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *ZerologLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Info {
		l.event(ctx, l.Logger.Info()).Interface("data", data).Msg(msg)
	}
}

func (l *ZerologLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Warn {
		l.event(ctx, l.Logger.Warn()).Interface("data", data).Msg(msg)
	}
}

func (l *ZerologLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Error {
		l.event(ctx, l.Logger.Error()).Interface("data", data).Msg(msg)
	}
}

// Trace logs SQL execution details
func (l *ZerologLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.LogLevel <= Silent {
		return
	}

	elapsed := time.Since(begin)

	var event *zerolog.Event
	switch {
	case err != nil && l.LogLevel >= Error && (!l.IgnoreRecordNotFoundError || !errors.Is(err, ErrRecordNotFound)):
		event = l.Logger.Error().Err(err)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold && l.LogLevel >= Warn:
		event = l.Logger.Warn().Str("slow_threshold", l.SlowThreshold.String())
	case l.LogLevel >= Info:
		event = l.Logger.Info()
	default:
		return
	}

	sql, rows := fc()
	event = l.event(ctx, event).
		Str("duration", fmt.Sprintf("%.3fms", float64(elapsed.Nanoseconds())/1e6)).
		Str("sql", sql)
	if rows != -1 {
		event = event.Int64("rows", rows)
	}
	event.Msg("SQL executed")
}

// Relation logs a relation event at info level
func (l *ZerologLogger) Relation(ctx context.Context, event Event) {
	if l.LogLevel >= Info {
		l.event(ctx, l.Logger.Info()).Fields(event.Fields()).Msg(event.Message())
	}
}

// ParamsFilter drops SQL parameters from logs when parameterized
func (l *ZerologLogger) ParamsFilter(ctx context.Context, sql string, params ...interface{}) (string, []interface{}) {
	if l.Parameterized {
		return sql, nil
	}
	return sql, params
}

func (l *ZerologLogger) event(ctx context.Context, event *zerolog.Event) *zerolog.Event {
	event = event.Str("file", utils.FileWithLineNum())
	if ctx != nil {
		event = event.Ctx(ctx)
	}
	return event
}

// ZerologLevel converts LogLevel to zerolog.Level
func ZerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case Silent:
		return zerolog.Disabled
	case Error:
		return zerolog.ErrorLevel
	case Warn:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}
