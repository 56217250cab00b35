// ABOUTME: Logger setup for assistant-manager
// ABOUTME: Colorized text output for terminals, JSON for log shippers, optional log file

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/assistant-manager/internal/config"
)

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger builds the process logger. The returned func closes the log
// file, if one was opened.
func setupLogger(cfg config.LoggingConfig) (*slog.Logger, func(), error) {
	var out io.Writer = os.Stdout
	closeFn := func() {}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}

	return slog.New(newHandler(cfg, out)), closeFn, nil
}

func newHandler(cfg config.LoggingConfig, out io.Writer) slog.Handler {
	level := parseLevel(cfg.Level)
	if cfg.Format == "json" {
		return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}

	// Files get plain text; escape codes only belong on a terminal.
	_, isFile := out.(*os.File)
	plain := isFile && out != os.Stdout && out != os.Stderr
	return &colorHandler{
		out:   out,
		mu:    &sync.Mutex{},
		level: level,
		plain: plain,
	}
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	level  slog.Level
	plain  bool
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) paint(fn func(string, ...interface{}) string, s string) string {
	if h.plain {
		return s
	}
	return fn("%s", s)
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(h.paint(color.HiBlackString, r.Time.Format("15:04:05")+" "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(h.paint(color.MagentaString, "DBG "))
	case slog.LevelInfo:
		buf.WriteString(h.paint(color.CyanString, "INF "))
	case slog.LevelWarn:
		buf.WriteString(h.paint(color.YellowString, "WRN "))
	case slog.LevelError:
		buf.WriteString(h.paint(color.New(color.FgRed, color.Bold).Sprintf, "ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	writeAttr := func(a slog.Attr) {
		buf.WriteString(h.paint(color.HiBlackString, " "+prefix+a.Key+"="))
		buf.WriteString(a.Value.String())
	}

	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	clone := *h
	clone.attrs = newAttrs
	return &clone
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	clone := *h
	clone.groups = newGroups
	return &clone
}
