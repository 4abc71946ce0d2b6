package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorm-relativity/relativity/utils"
	"github.com/sirupsen/logrus"
	gormlogger "gorm.io/gorm/logger"
)

// LogrusLogger implements Interface using logrus
type LogrusLogger struct {
	Logger                    *logrus.Logger
	LogLevel                  LogLevel
	SlowThreshold             time.Duration
	Parameterized             bool
	IgnoreRecordNotFoundError bool
}

// NewLogrusLogger creates a new logger using logrus
func NewLogrusLogger(logger *logrus.Logger, config Config) Interface {
	return &LogrusLogger{
		Logger:                    logger,
		LogLevel:                  config.LogLevel,
		SlowThreshold:             config.SlowThreshold,
		Parameterized:             config.ParameterizedQueries,
		IgnoreRecordNotFoundError: config.IgnoreRecordNotFoundError,
	}
}

// LogMode sets the log level
func (l *LogrusLogger) LogMode(level LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *LogrusLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Info {
		l.entry(ctx, logrus.Fields{"data": data}).Info(msg)
	}
}

func (l *LogrusLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Warn {
		l.entry(ctx, logrus.Fields{"data": data}).Warn(msg)
	}
}

func (l *LogrusLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Error {
		l.entry(ctx, logrus.Fields{"data": data}).Error(msg)
	}
}

// Trace logs SQL execution details
func (l *LogrusLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.LogLevel <= Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := logrus.Fields{
		"duration": fmt.Sprintf("%.3fms", float64(elapsed.Nanoseconds())/1e6),
		"sql":      sql,
	}
	if rows != -1 {
		fields["rows"] = rows
	}

	switch {
	case err != nil && l.LogLevel >= Error && (!l.IgnoreRecordNotFoundError || !errors.Is(err, ErrRecordNotFound)):
		fields["error"] = err.Error()
		l.entry(ctx, fields).Error("SQL executed")
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold && l.LogLevel >= Warn:
		fields["slow_threshold"] = l.SlowThreshold.String()
		l.entry(ctx, fields).Warn("SLOW SQL executed")
	case l.LogLevel >= Info:
		l.entry(ctx, fields).Info("SQL executed")
	}
}

// Relation logs a relation event at info level
func (l *LogrusLogger) Relation(ctx context.Context, event Event) {
	if l.LogLevel >= Info {
		l.entry(ctx, event.Fields()).Info(event.Message())
	}
}

// ParamsFilter drops SQL parameters from logs when parameterized
func (l *LogrusLogger) ParamsFilter(ctx context.Context, sql string, params ...interface{}) (string, []interface{}) {
	if l.Parameterized {
		return sql, nil
	}
	return sql, params
}

func (l *LogrusLogger) entry(ctx context.Context, fields logrus.Fields) *logrus.Entry {
	fields["file"] = utils.FileWithLineNum()
	entry := logrus.NewEntry(l.Logger).WithFields(fields)
	if ctx != nil {
		entry = entry.WithContext(ctx)
	}
	return entry
}
