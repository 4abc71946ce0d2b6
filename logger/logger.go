package logger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	gormlogger "gorm.io/gorm/logger"
)

// LogLevel log level, shared with gorm
type LogLevel = gormlogger.LogLevel

const (
	Silent = gormlogger.Silent
	Error  = gormlogger.Error
	Warn   = gormlogger.Warn
	Info   = gormlogger.Info
)

// Config logger config, shared with gorm
type Config = gormlogger.Config

// ErrRecordNotFound record not found error
var ErrRecordNotFound = gormlogger.ErrRecordNotFound

// Interface a gorm logger that also receives relation events
type Interface interface {
	gormlogger.Interface
	Relation(ctx context.Context, event Event)
}

// EventKind kind of relation event
type EventKind string

const (
	EventRegister    EventKind = "register"
	EventRestriction EventKind = "restriction"
	EventFastPath    EventKind = "fast_path"
	EventSlowPath    EventKind = "slow_path"
	EventPrefetch    EventKind = "prefetch"
)

// Event something a relation did
type Event struct {
	Kind      EventKind
	Relation  string
	Model     string
	Target    string
	Direction string
	Alias     string
	SQL       string
	Instances int
	Rows      int
	Elapsed   time.Duration
}

// Fields the non zero attributes of the event
func (e Event) Fields() map[string]interface{} {
	fields := map[string]interface{}{"relation": e.Relation}
	for key, value := range map[string]string{
		"model": e.Model, "target": e.Target, "direction": e.Direction, "alias": e.Alias, "sql": e.SQL,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	if e.Instances > 0 {
		fields["instances"] = e.Instances
	}
	if e.Kind == EventPrefetch {
		fields["rows"] = e.Rows
	}
	if e.Elapsed > 0 {
		fields["duration"] = fmt.Sprintf("%.3fms", float64(e.Elapsed.Nanoseconds())/1e6)
	}
	return fields
}

// Message the log message of the event
func (e Event) Message() string {
	return "relation " + string(e.Kind)
}

func (e Event) String() string {
	fields := e.Fields()
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(e.Message())
	for _, key := range keys {
		fmt.Fprintf(&sb, " %s=%v", key, fields[key])
	}
	return sb.String()
}

type gormLogger struct {
	gormlogger.Interface
	LogLevel LogLevel
}

// New wraps a gorm logger, relation events are written through its Info method
func New(l gormlogger.Interface, level LogLevel) Interface {
	if wrapped, ok := l.(Interface); ok {
		return wrapped
	}
	return &gormLogger{Interface: l.LogMode(level), LogLevel: level}
}

var (
	// Default wraps gorm's default logger
	Default = New(gormlogger.Default, Warn)
	// Discard drops everything
	Discard = New(gormlogger.Discard, Silent)
)

func (l *gormLogger) LogMode(level LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.Interface = l.Interface.LogMode(level)
	newLogger.LogLevel = level
	return &newLogger
}

func (l *gormLogger) Relation(ctx context.Context, event Event) {
	if l.LogLevel >= Info {
		l.Interface.Info(ctx, "%s", event.String())
	}
}
