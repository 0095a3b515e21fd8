package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelTrace LogLevel = "trace"
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
	LevelPanic LogLevel = "panic"
)

// Config holds logging configuration
type Config struct {
	Level      LogLevel `yaml:"level" json:"level"`
	Pretty     bool     `yaml:"pretty" json:"pretty"`
	TimeFormat string   `yaml:"time_format" json:"time_format"`

	// File output, rotated by lumberjack
	EnableFile  bool   `yaml:"enable_file" json:"enable_file"`
	LogDir      string `yaml:"log_dir" json:"log_dir"`
	LogFileName string `yaml:"log_file" json:"log_file"`
	MaxSizeMB   int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days" json:"max_age_days"`
}

// DefaultConfig returns a default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:       LevelInfo,
		Pretty:      true,
		TimeFormat:  time.RFC3339,
		EnableFile:  false,
		LogDir:      "logs",
		LogFileName: "backtester.log",
		MaxSizeMB:   50,
		MaxBackups:  5,
		MaxAgeDays:  30,
	}
}

// ParseLevel maps a LogLevel onto zerolog, defaulting to info
func ParseLevel(level LogLevel) zerolog.Level {
	switch level {
	case LevelTrace:
		return zerolog.TraceLevel
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	case LevelPanic:
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// Initialize sets up the global logger with the given configuration.
// The returned closer flushes and closes the log file, if any.
func Initialize(config Config) io.Closer {
	zerolog.SetGlobalLevel(ParseLevel(config.Level))

	// Configure time format
	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	}

	var console io.Writer = os.Stderr
	if config.Pretty {
		console = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
	}

	var closer io.Closer = nopCloser{}
	writer := console
	if config.EnableFile {
		file := &lumberjack.Logger{
			Filename:   filepath.Join(config.LogDir, config.LogFileName),
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
		}
		writer = zerolog.MultiLevelWriter(console, file)
		closer = file
	}

	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
	return closer
}

// GetLogger returns a logger with the specified component name
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// GetSubLogger returns a logger with additional context
func GetSubLogger(parent zerolog.Logger, subComponent string) zerolog.Logger {
	return parent.With().Str("subcomponent", subComponent).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
