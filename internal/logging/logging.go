// Package logging builds the process slog handler.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// Options selects the handler outputs.
type Options struct {
	Level   string
	Journal bool
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a JSON logger on w, fanned out to the systemd journal when
// requested. The returned LevelVar changes the level at runtime.
func New(w io.Writer, opts Options) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(opts.Level))

	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	handlers := []slog.Handler{jsonHandler}

	if opts.Journal {
		journalHandler, err := slogjournal.NewHandler(&slogjournal.Options{
			Level:        level,
			ReplaceGroup: toJournalKey,
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			record := slog.NewRecord(time.Now(), slog.LevelWarn, "Systemd journal unavailable, logging to stdout only", 0)
			record.Add("error", err)
			_ = jsonHandler.Handle(context.Background(), record)
		} else {
			handlers = append(handlers, journalHandler)
		}
	}

	return slog.New(slogmulti.Fanout(handlers...)), level
}

// WatchLevel sets level from lookup each time sig fires, until ctx is done.
func WatchLevel(ctx context.Context, level *slog.LevelVar, sig <-chan os.Signal, lookup func() string, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			next := ParseLevel(lookup())
			if next == level.Level() {
				continue
			}
			level.Set(next)
			logger.Info("Log level changed", "level", next.String())
		}
	}
}

func toJournalKey(str string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, strings.ToUpper(str))
}
