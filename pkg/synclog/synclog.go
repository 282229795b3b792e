// Package synclog is the engine's structured logger plus colorized
// operator-facing changeset summaries, adapting the teacher's pkg/cprint
// mutex/DisableOutput idiom to log/slog.
package synclog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/fatih/color"
)

// Logger is the logging surface every engine component depends on. It
// wraps slog.Logger so callers get leveled, structured output, plus a set
// of colorized summary helpers for human-facing changeset reports.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// ChangeSummary prints a colorized per-table insert/update/delete
	// report, the equivalent of _print_changes_summary.
	ChangeSummary(title string, rows []ChangeRow)
}

// ChangeRow is one line of a changeset summary report.
type ChangeRow struct {
	Table  string
	Insert int
	Update int
	Delete int
}

// slogLogger is the real Logger, backed by log/slog plus fatih/color for
// the ChangeSummary report.
type slogLogger struct {
	mu            sync.Mutex
	log           *slog.Logger
	out           io.Writer
	disableOutput bool

	insertColor *color.Color
	updateColor *color.Color
	deleteColor *color.Color
}

// Level is the engine's configured log verbosity, matching the
// --log-verbosity flag / config.py log_levels mapping.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a Logger writing to w (or a file handler set up by the caller
// for --log-file) at the given verbosity.
func New(w io.Writer, level Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.slogLevel()})
	return &slogLogger{
		log:         slog.New(handler),
		out:         w,
		insertColor: color.New(color.FgGreen),
		updateColor: color.New(color.FgYellow),
		deleteColor: color.New(color.FgRed),
	}
}

// SetDisableOutput silences ChangeSummary output (not structured logging),
// for tests the way cprint.DisableOutput silences the teacher's colorized
// printers.
func SetDisableOutput(l Logger, v bool) {
	if sl, ok := l.(*slogLogger); ok {
		sl.mu.Lock()
		defer sl.mu.Unlock()
		sl.disableOutput = v
	}
}

func (l *slogLogger) Debug(msg string, args ...any) { l.log.Log(context.Background(), slog.LevelDebug, msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.log.Log(context.Background(), slog.LevelInfo, msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.log.Log(context.Background(), slog.LevelWarn, msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.log.Log(context.Background(), slog.LevelError, msg, args...) }

func (l *slogLogger) ChangeSummary(title string, rows []ChangeRow) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disableOutput {
		return
	}
	if title != "" {
		fmt.Fprintln(l.out, title)
	}
	for _, r := range rows {
		if r.Insert > 0 {
			l.insertColor.Fprintf(l.out, "  %s: %d inserted\n", r.Table, r.Insert)
		}
		if r.Update > 0 {
			l.updateColor.Fprintf(l.out, "  %s: %d updated\n", r.Table, r.Update)
		}
		if r.Delete > 0 {
			l.deleteColor.Fprintf(l.out, "  %s: %d deleted\n", r.Table, r.Delete)
		}
	}
}

var _ Logger = (*slogLogger)(nil)
