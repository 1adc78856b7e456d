package log

import (
	"io"
	"log/slog"
)

func newTestSlogger(w io.Writer) *slog.Logger {
	return slog.New(newTerminalHandler(w))
}
