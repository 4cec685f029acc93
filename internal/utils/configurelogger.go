package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// Attribute naming the pipeline component a logger belongs to.
const ComponentKey = "component"

var ErrUnexpectedLogLevel = errors.New("unexpected log level")

var logLevels = map[string]slog.Level{
	"error": slog.LevelError,
	"warn":  slog.LevelWarn,
	"info":  slog.LevelInfo,
	"debug": slog.LevelDebug,
}

// Configure the slog logger with a specific log level and potential output file.
//
// Valid log levels are "none", "error", "warn", "info", "debug". Any other value returns an error.
// componentLevels overrides the level for loggers created by ComponentLogger, keyed by component
// name (e.g. "reassembler": "debug"), and may be nil.
// logFile may either specify a file path (an error is returned if the path cannot be opened) or none,
// in which case the logger points to stdout.
//
// Returns the os.File pointer that slog writes to, so it may be gracefully shut:
// ```
// logFilePointer, err := utils.ConfigureDefaultLogger(level, file, nil, slog.HandlerOptions{})
//
//	if logFilePointer != nil{
//		defer logFilePointer.Close()
//	}
//
// ```
func ConfigureDefaultLogger(
	logLevel string,
	logFile string,
	componentLevels map[string]string,
	loggerOptions slog.HandlerOptions,
) (*os.File, error) {
	if logLevel == "none" {
		// No logging is required, disable the logger and return
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil, nil
	}

	level, ok := logLevels[logLevel]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedLogLevel, logLevel)
	}
	overrides := make(map[string]slog.Level, len(componentLevels))
	lowest := level
	for component, name := range componentLevels {
		l, ok := logLevels[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q for component %s", ErrUnexpectedLogLevel, name, component)
		}
		overrides[component] = l
		lowest = min(lowest, l)
	}
	// The output handler lets everything through that any component may log.
	loggerOptions.Level = lowest

	// --------------------------------------------------------------------------------

	var logFilePointer *os.File
	var slogHandler slog.Handler
	if logFile == "" {
		slogHandler = slog.NewTextHandler(os.Stdout, &loggerOptions)
	} else {
		var err error
		logFilePointer, err = os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, err
		}
		slogHandler = slog.NewJSONHandler(logFilePointer, &loggerOptions)
	}

	// --------------------------------------------------------------------------------

	slog.SetDefault(slog.New(&componentLevelHandler{
		handler:   slogHandler,
		level:     level,
		overrides: overrides,
	}))
	return logFilePointer, nil
}

// A child of the default logger for one instance of a pipeline component,
// tagged with the component name and the instance's uuid.
func ComponentLogger(component string, id uuid.UUID, args ...any) *slog.Logger {
	return slog.Default().With(
		append([]any{
			ComponentKey, component,
			component + " uuid", id,
		}, args...)...,
	)
}

// Applies the level of the component a logger was tagged with.
type componentLevelHandler struct {
	handler   slog.Handler
	level     slog.Level
	overrides map[string]slog.Level
}

func (h *componentLevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level && h.handler.Enabled(ctx, level)
}

func (h *componentLevelHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.handler.Handle(ctx, record)
}

func (h *componentLevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	level := h.level
	for _, attr := range attrs {
		if attr.Key != ComponentKey {
			continue
		}
		if l, ok := h.overrides[attr.Value.String()]; ok {
			level = l
		}
	}
	return &componentLevelHandler{
		handler:   h.handler.WithAttrs(attrs),
		level:     level,
		overrides: h.overrides,
	}
}

func (h *componentLevelHandler) WithGroup(name string) slog.Handler {
	return &componentLevelHandler{
		handler:   h.handler.WithGroup(name),
		level:     h.level,
		overrides: h.overrides,
	}
}
