package redislog

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the package-wide logger used by the redisclient/redisstore
// packages. Prefer Component() over using Logger directly so log lines
// carry the emitting subsystem's name.
var Logger zerolog.Logger

func init() {
	logFile := os.Getenv("SPREDIS_LOG_FILE")
	levelStr := os.Getenv("SPREDIS_LOG_LEVEL")
	if levelStr == "" {
		levelStr = "warn"
	}

	level := parseLevel(levelStr)
	zerolog.SetGlobalLevel(level)

	var output interface {
		Write(p []byte) (n int, err error)
	}

	if logFile != "" {
		output = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // MB
			MaxBackups: 7,
			MaxAge:     30, // days
			Compress:   true,
		}
	} else {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "2006-01-02 15:04:05.000",
		}
	}

	Logger = zerolog.New(output).With().Timestamp().Logger()
	log.Logger = Logger
}

// Component returns a child logger tagged with the emitting subsystem, e.g.
// redislog.Component("cluster").
func Component(name string) *zerolog.Logger {
	l := Logger.With().Str("component", name).Logger()
	return &l
}

func parseLevel(levelStr string) zerolog.Level {
	levelStr = strings.ToUpper(strings.TrimSpace(levelStr))
	switch levelStr {
	case "DEBUG", "DBG":
		return zerolog.DebugLevel
	case "INFO", "INF":
		return zerolog.InfoLevel
	case "WARNING", "WARN":
		return zerolog.WarnLevel
	case "ERROR", "ERR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	case "PANIC":
		return zerolog.PanicLevel
	case "TRACE":
		return zerolog.TraceLevel
	default:
		return zerolog.WarnLevel
	}
}

// SetLevel sets the global log level.
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
	Logger = Logger.Level(level)
	log.Logger = Logger
}

// SetLevelFromString parses levelStr and sets the global log level.
func SetLevelFromString(levelStr string) {
	SetLevel(parseLevel(levelStr))
}

// GetLevel returns the current global log level.
func GetLevel() zerolog.Level {
	return zerolog.GlobalLevel()
}

// GetLevelString returns the current global log level as a string.
func GetLevelString() string {
	return zerolog.GlobalLevel().String()
}

// Debug logs at DEBUG level.
func Debug(format string, args ...interface{}) {
	Logger.Debug().Msgf(format, args...)
}

// Info logs at INFO level.
func Info(format string, args ...interface{}) {
	Logger.Info().Msgf(format, args...)
}

// Warning logs at WARN level.
func Warning(format string, args ...interface{}) {
	Logger.Warn().Msgf(format, args...)
}

// Error logs at ERROR level.
func Error(format string, args ...interface{}) {
	Logger.Error().Msgf(format, args...)
}

// Critical logs at ERROR level with a fatal=true field, standing in for the
// original plugin's distinct "critical" severity (zerolog has no such level).
func Critical(format string, args ...interface{}) {
	Logger.Error().Bool("fatal", true).Msgf(format, args...)
}

// DebugWith returns a DEBUG event carrying an extra field; nothing is written
// until the caller sends it (e.g. with Msg).
func DebugWith(key string, value interface{}) *zerolog.Event {
	return Logger.Debug().Interface(key, value)
}

// InfoWith returns an INFO event carrying an extra field; nothing is written
// until the caller sends it.
func InfoWith(key string, value interface{}) *zerolog.Event {
	return Logger.Info().Interface(key, value)
}

// WarningWith returns a WARN event carrying an extra field; nothing is
// written until the caller sends it.
func WarningWith(key string, value interface{}) *zerolog.Event {
	return Logger.Warn().Interface(key, value)
}

// ErrorWith returns an ERROR event carrying an extra field; nothing is
// written until the caller sends it.
func ErrorWith(key string, value interface{}) *zerolog.Event {
	return Logger.Error().Interface(key, value)
}
