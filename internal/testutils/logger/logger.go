package logger

import (
	"log/slog"
	"os"
	"strconv"
	"testing"

	"github.com/alphabill-org/linmem/logger"
)

/*
New returns logger for test "t" on debug level. The output is written
using t.Log so it is shown only when the test fails (or -v flag is used).

Set environment variable LINMEM_TEST_LOG_NO_COLORS=true to disable colors.
*/
func New(t testing.TB) *slog.Logger {
	return NewLvl(t, slog.LevelDebug)
}

// NewLvl returns logger for test "t" on given level.
func NewLvl(t testing.TB, level slog.Level) *slog.Logger {
	cfg := &logger.LogConfiguration{
		Level:      level.String(),
		Format:     "console",
		TimeFormat: "15:04:05.0000",
		NoColor:    noColors(),
	}
	log, err := logger.NewWithWriter(cfg, testLogWriter{t: t})
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}
	return log
}

func noColors() bool {
	v, _ := strconv.ParseBool(os.Getenv("LINMEM_TEST_LOG_NO_COLORS"))
	return v
}

type testLogWriter struct {
	t testing.TB
}

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	n := len(p)
	// console writer adds newline, t.Log adds it's own
	if n > 0 && p[n-1] == '\n' {
		p = p[:n-1]
	}
	w.t.Log(string(p))
	return n, nil
}
