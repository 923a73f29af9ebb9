package gologger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	log zerolog.Logger
	mu  sync.RWMutex
)

type LogLevel string

const (
	LogLevelDebug    LogLevel = "debug"
	LogLevelInfo     LogLevel = "info"
	LogLevelWarn     LogLevel = "warn"
	LogLevelError    LogLevel = "error"
	LogLevelDisabled LogLevel = "disabled"
)

type LogMode string

const (
	LogModeDebug  LogMode = "debug"
	LogModePretty LogMode = "pretty"
	LogModeInfo   LogMode = "info"
	LogModeProd   LogMode = "prod"
	LogModeTest   LogMode = "test"
)

type Config struct {
	Level         LogLevel
	Pretty        bool
	TimeFormat    string
	CallerEnabled bool
	NoColor       bool
}

func DefaultConfig() Config {
	return Config{
		Level:         LogLevelInfo,
		Pretty:        false,
		TimeFormat:    time.RFC3339,
		CallerEnabled: true,
		NoColor:       false,
	}
}

func ConfigForMode(mode LogMode) Config {
	switch mode {
	case LogModeDebug:
		return Config{
			Level:         LogLevelDebug,
			Pretty:        true,
			TimeFormat:    time.RFC3339,
			CallerEnabled: true,
		}
	case LogModePretty:
		return Config{
			Level:         LogLevelInfo,
			Pretty:        true,
			TimeFormat:    time.RFC3339,
			CallerEnabled: true,
		}
	case LogModeInfo:
		return Config{
			Level:         LogLevelInfo,
			TimeFormat:    time.RFC3339,
			CallerEnabled: true,
		}
	case LogModeProd:
		return Config{
			Level:      LogLevelInfo,
			TimeFormat: time.RFC3339Nano,
			NoColor:    true,
		}
	case LogModeTest:
		return Config{
			Level:      LogLevelError,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		}
	default:
		return DefaultConfig()
	}
}

func InitWithMode(mode LogMode) {
	Init(ConfigForMode(mode))
}

func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	if cfg.Level == LogLevelDisabled {
		zerolog.SetGlobalLevel(zerolog.Disabled)
		log = zerolog.New(io.Discard).With().Logger()
		zerolog.DefaultContextLogger = &log
		return
	}

	var output io.Writer = os.Stdout

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: cfg.TimeFormat,
			NoColor:    cfg.NoColor,
			FormatLevel: func(i interface{}) string {
				return colorizeLevel(fmt.Sprint(i))
			},
			FormatFieldValue: func(i interface{}) string {
				switch v := i.(type) {
				case string:
					return colorize(v, blue)
				case json.Number:
					return colorize(v.String(), magenta)
				case error:
					return colorize(v.Error(), red)
				case nil:
					return ""
				default:
					return colorize(fmt.Sprint(v), blue)
				}
			},
		}
	}

	switch cfg.Level {
	case LogLevelDebug:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case LogLevelInfo:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case LogLevelWarn:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case LogLevelError:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	zerolog.TimeFieldFormat = cfg.TimeFormat

	logCtx := zerolog.New(output).With().Timestamp()
	if cfg.CallerEnabled {
		logCtx = logCtx.Caller()
	}

	log = logCtx.Logger()
	zerolog.DefaultContextLogger = &log
}

const (
	blue    = "\x1b[34m"
	red     = "\x1b[31m"
	green   = "\x1b[32m"
	yellow  = "\x1b[33m"
	magenta = "\x1b[35m"
	bold    = "\x1b[1m"
	dim     = "\x1b[2m"
	reset   = "\x1b[0m"
)

func colorize(s, color string) string {
	return color + s + reset
}

func colorizeLevel(level string) string {
	switch level {
	case "debug":
		return colorize("DBG", dim+magenta)
	case "info":
		return colorize("INF", bold+green)
	case "warn":
		return colorize("WRN", bold+yellow)
	case "error":
		return colorize("ERR", bold+red)
	case "fatal":
		return colorize("FTL", bold+red+"\x1b[7m")
	default:
		return colorize(level, blue)
	}
}

func Get() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func WithComponent(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log.With().Str("component", component).Logger()
}
