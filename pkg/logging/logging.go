// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	WithCaller bool
	Level      string
	// LogFormat is "text", "json" or "" to pick text on a terminal.
	LogFormat string
	LogFile   string
}

// Writer builds the log output for config. out is the primary stream,
// usually stderr.
func Writer(config *Config, out *os.File) io.Writer {
	format := config.LogFormat
	if format == "" {
		format = "json"
		if out != nil && isatty.IsTerminal(out.Fd()) {
			format = "text"
		}
	}

	var logWriter io.Writer = out
	if format == "text" {
		logWriter = zerolog.ConsoleWriter{Out: out}
	}

	if config.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   config.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, //days
				},
			})
	}
	return logWriter
}

func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "fatal":
		return zerolog.FatalLevel, nil
	}
	return zerolog.NoLevel, errors.Errorf("unknown log level %q", s)
}

func InitLogger(config *Config) error {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return err
	}

	logger := zerolog.New(Writer(config, os.Stderr)).With().Timestamp()
	if config.WithCaller {
		logger = logger.Caller()
	}
	log.Logger = logger.Logger()
	zerolog.SetGlobalLevel(level)

	return nil
}
