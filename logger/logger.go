package logger

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	LevelTrace slog.Level = slog.LevelDebug - 4
	levelNone  slog.Level = math.MaxInt32
)

/*
LogConfiguration is the logger configuration, usually loaded from YAML file
and then overridden by command line flags.
*/
type LogConfiguration struct {
	// DEBUG, INFO, WARN, ERROR, TRACE or NONE. Offsets are supported, ie "info-2".
	Level string `yaml:"defaultLevel"`
	// text, json, ecs or console
	Format string `yaml:"format"`
	// file name or one of the special values: stdout, stderr, discard
	OutputPath string `yaml:"outputPath"`
	// Go time layout, "none" to omit the time
	TimeFormat string `yaml:"timeFormat"`
	// console format only
	NoColor bool `yaml:"noColor"`
}

/*
New creates logger based on the configuration. Unknown format is an error,
unknown level is treated as INFO.
*/
func New(cfg *LogConfiguration) (*slog.Logger, error) {
	out, err := cfg.output()
	if err != nil {
		return nil, fmt.Errorf("opening log output: %w", err)
	}
	return NewWithWriter(cfg, out)
}

// NewWithWriter is like New but the log is written into "out", OutputPath of the configuration is ignored.
func NewWithWriter(cfg *LogConfiguration, out io.Writer) (*slog.Logger, error) {
	h, err := cfg.handler(out)
	if err != nil {
		return nil, err
	}
	return slog.New(h), nil
}

// NOP returns logger which discards everything.
func NOP() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: levelNone}))
}

func (cfg *LogConfiguration) handler(out io.Writer) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: cfg.logLevel()}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		opts.ReplaceAttr = composeAttrFmt(formatTimeAttr(cfg.TimeFormat), formatDataAttrAsJSON)
		return slog.NewTextHandler(out, opts), nil
	case "json":
		opts.ReplaceAttr = formatTimeAttr(cfg.TimeFormat)
		return slog.NewJSONHandler(out, opts), nil
	case "ecs":
		opts.AddSource = true
		opts.ReplaceAttr = formatAttrECS
		return slog.NewJSONHandler(out, opts), nil
	case "console":
		timeFmt := cfg.TimeFormat
		if timeFmt == "" {
			timeFmt = "15:04:05.0000"
		}
		cw := zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    cfg.NoColor,
			TimeFormat: timeFmt,
			PartsOrder: []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName},
		}
		if timeFmt == "none" {
			cw.PartsExclude = []string{zerolog.TimestampFieldName}
		}
		opts.ReplaceAttr = composeAttrFmt(formatAttrConsole, formatConsoleTime)
		return slog.NewJSONHandler(cw, opts), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

/*
formatConsoleTime formats time in the layout zerolog console writer parses,
the console writer itself reformats it according to the TimeFormat.
*/
func formatConsoleTime(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && len(groups) == 0 {
		if t := a.Value.Time(); !t.IsZero() {
			a.Value = slog.StringValue(t.Format(time.RFC3339Nano))
		}
	}
	return a
}

func (cfg *LogConfiguration) logLevel() slog.Level {
	if cfg.OutputPath == "discard" || cfg.OutputPath == os.DevNull {
		return levelNone
	}

	switch strings.ToUpper(cfg.Level) {
	case "":
		return slog.LevelInfo
	case "TRACE":
		return LevelTrace
	case "NONE":
		return levelNone
	case "WARNING":
		return slog.LevelWarn
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func (cfg *LogConfiguration) output() (io.Writer, error) {
	switch cfg.OutputPath {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	case "discard", os.DevNull:
		return io.Discard, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0700); err != nil {
		return nil, fmt.Errorf("creating directory for log file: %w", err)
	}
	f, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // -rw-------
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}
