// Package logging builds the process-wide zerolog root logger.
//
// Components receive derived zerolog.Logger values with a fixed "component"
// field. The level is enforced through zerolog's global level so a config
// reload takes effect on every derived logger immediately.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the file sink (if any) and the live log level.
type Service struct {
	root zerolog.Logger
	file *os.File
}

// New builds the root logger. With Console set, output is the human console
// writer; otherwise plain JSON on stdout. A file sink is appended when
// enabled, always as JSON.
func New(cfg Config) (*Service, error) {
	zerolog.TimeFieldFormat = consoleTimeFormat
	zerolog.ErrorFieldName = "err"
	zerolog.SetGlobalLevel(parseLevel(cfg.Level, zerolog.InfoLevel))

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: consoleTimeFormat})
	} else {
		sinks = append(sinks, os.Stdout)
	}

	s := &Service{}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			return nil, fmt.Errorf("logging.file.path is required when the file sink is enabled")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		s.file = f
		sinks = append(sinks, f)
	}

	s.root = zerolog.New(zerolog.MultiLevelWriter(sinks...)).With().Timestamp().Logger()
	return s, nil
}

// Logger returns the root logger.
func (s *Service) Logger() zerolog.Logger { return s.root }

// SetLevel re-applies the level live (used on config reload). Unknown level
// strings are ignored.
func (s *Service) SetLevel(level string) {
	l := parseLevel(level, zerolog.NoLevel)
	if l == zerolog.NoLevel {
		s.root.Warn().Str("level", level).Msg("ignoring unknown log level")
		return
	}
	zerolog.SetGlobalLevel(l)
}

func (s *Service) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	return s.file.Close()
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return def
	}
}
