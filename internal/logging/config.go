package logging

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "PVA_LOG_LEVEL"
	EnvLogTimestamp = "PVA_LOG_TIMESTAMP"
	EnvLogNoColor   = "PVA_LOG_NOCOLOR"
	EnvLogBypass    = "PVA_LOG_BYPASS"
)

// Profile selects the default logging posture for a process.
type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config controls the process-wide zerolog sink.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	Bypass    bool
}

var configureOnce sync.Once

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

// Configure wires the global zerolog logger exactly once per process.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)
		apply(cfg)
	})
}

func apply(cfg Config) {
	if cfg.Bypass {
		log.Logger = zerolog.Nop()
		return
	}

	out := os.Stderr
	var writer zerolog.ConsoleWriter
	if cfg.NoColor || !isatty.IsTerminal(out.Fd()) {
		writer = zerolog.ConsoleWriter{Out: out, NoColor: true}
	} else {
		writer = zerolog.ConsoleWriter{Out: colorable.NewColorable(out)}
	}
	if !cfg.Timestamp {
		writer.PartsOrder = []string{
			zerolog.LevelFieldName,
			zerolog.MessageFieldName,
		}
	}

	zerolog.SetGlobalLevel(cfg.Level)
	logger := zerolog.New(writer).With().Timestamp().Logger()
	if !cfg.Timestamp {
		logger = zerolog.New(writer)
	}
	log.Logger = logger
}

func defaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Timestamp: false}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogBypass)); ok {
		cfg.Bypass = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// For packages that want a named sub-logger without reaching for the global.
func Named(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
