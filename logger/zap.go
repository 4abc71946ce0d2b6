package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorm-relativity/relativity/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// ZapLogger implements Interface using zap
type ZapLogger struct {
	Logger                    *zap.Logger
	LogLevel                  LogLevel
	SlowThreshold             time.Duration
	Parameterized             bool
	IgnoreRecordNotFoundError bool
}

// NewZapLogger creates a new logger using zap
func NewZapLogger(logger *zap.Logger, config Config) Interface {
	return &ZapLogger{
		Logger:                    logger,
		LogLevel:                  config.LogLevel,
		SlowThreshold:             config.SlowThreshold,
		Parameterized:             config.ParameterizedQueries,
		IgnoreRecordNotFoundError: config.IgnoreRecordNotFoundError,
	}
}

// NewZapLoggerWithConfig builds the zap logger from zapConfig, production config by default
func NewZapLoggerWithConfig(config Config, zapConfig ...zap.Config) (Interface, error) {
	zapCfg := zap.NewProductionConfig()
	if len(zapConfig) > 0 {
		zapCfg = zapConfig[0]
	} else {
		zapCfg.Level = zap.NewAtomicLevelAt(ZapLevel(config.LogLevel))
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(logger, config), nil
}

// LogMode sets the log level
func (l *ZapLogger) LogMode(level LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *ZapLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Info {
		l.Logger.Info(msg, zap.String("file", utils.FileWithLineNum()), zap.Any("data", data))
	}
}

func (l *ZapLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Warn {
		l.Logger.Warn(msg, zap.String("file", utils.FileWithLineNum()), zap.Any("data", data))
	}
}

func (l *ZapLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Error {
		l.Logger.Error(msg, zap.String("file", utils.FileWithLineNum()), zap.Any("data", data))
	}
}

// Trace logs SQL execution details
func (l *ZapLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.LogLevel <= Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.String("file", utils.FileWithLineNum()),
		zap.String("duration", fmt.Sprintf("%.3fms", float64(elapsed.Nanoseconds())/1e6)),
		zap.String("sql", sql),
	}
	if rows != -1 {
		fields = append(fields, zap.Int64("rows", rows))
	}

	switch {
	case err != nil && l.LogLevel >= Error && (!l.IgnoreRecordNotFoundError || !errors.Is(err, ErrRecordNotFound)):
		l.Logger.Error("SQL executed", append(fields, zap.Error(err))...)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold && l.LogLevel >= Warn:
		l.Logger.Warn("SLOW SQL executed", append(fields, zap.String("slow_threshold", l.SlowThreshold.String()))...)
	case l.LogLevel >= Info:
		l.Logger.Info("SQL executed", fields...)
	}
}

// Relation logs a relation event at info level
func (l *ZapLogger) Relation(ctx context.Context, event Event) {
	if l.LogLevel < Info {
		return
	}

	fields := []zap.Field{zap.String("file", utils.FileWithLineNum())}
	for key, value := range event.Fields() {
		fields = append(fields, zap.Any(key, value))
	}
	l.Logger.Info(event.Message(), fields...)
}

// ParamsFilter drops SQL parameters from logs when parameterized
func (l *ZapLogger) ParamsFilter(ctx context.Context, sql string, params ...interface{}) (string, []interface{}) {
	if l.Parameterized {
		return sql, nil
	}
	return sql, params
}

// ZapLevel converts LogLevel to zapcore.Level
func ZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case Silent:
		return zapcore.DPanicLevel
	case Error:
		return zapcore.ErrorLevel
	case Warn:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
