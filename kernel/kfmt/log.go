package kfmt

import (
	"io"
	"os"
	"strings"

	"github.com/phuslu/log"
)

// LogOptions configures the structured kernel logger.
type LogOptions struct {
	// Level is one of trace, debug, info, warn, error or fatal.
	Level string

	// Format selects the console layout: "auto" (colorized console),
	// "logfmt" or "json".
	Format string

	// Color enables ANSI colors for the "auto" format.
	Color bool

	// Async routes entries through a buffered channel.
	Async bool

	// Writer receives the encoded entries. Defaults to os.Stderr.
	Writer io.Writer
}

// asyncWriter tracks the active async writer so it can be flushed at shutdown.
var asyncWriter *log.AsyncWriter

func parseLogLevel(levelStr string) log.Level {
	switch strings.ToLower(levelStr) {
	case "trace":
		return log.TraceLevel
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// ConfigureLogging installs the global structured logger. Module loggers
// obtained through Logger after this call inherit its settings.
func ConfigureLogging(opts LogOptions) {
	base := opts.Writer
	if base == nil {
		base = os.Stderr
	}

	var writer log.Writer
	switch opts.Format {
	case "json":
		writer = &log.IOWriter{Writer: base}
	case "logfmt":
		writer = &log.ConsoleWriter{
			QuoteString:    true,
			EndWithMessage: true,
			Writer:         base,
			Formatter:      log.LogfmtFormatter{TimeField: "time"}.Formatter,
		}
	default:
		writer = &log.ConsoleWriter{
			ColorOutput:    opts.Color,
			QuoteString:    true,
			EndWithMessage: true,
			Writer:         base,
		}
	}

	CloseLogging()
	if opts.Async {
		asyncWriter = &log.AsyncWriter{
			ChannelSize: 4096,
			Writer:      writer,
		}
		writer = asyncWriter
	}

	log.DefaultLogger = log.Logger{
		Level:     parseLogLevel(opts.Level),
		TimeField: "time",
		Writer:    writer,
	}
}

// CloseLogging flushes any buffered log entries.
func CloseLogging() {
	if asyncWriter != nil {
		_ = asyncWriter.Close()
		asyncWriter = nil
	}
}

// Logger returns a logger for the named kernel module. The returned logger
// copies the global logger configuration and tags every entry with a module
// field.
func Logger(module string) *log.Logger {
	bl := &log.DefaultLogger
	return &log.Logger{
		Level:        bl.Level,
		TimeField:    bl.TimeField,
		TimeFormat:   bl.TimeFormat,
		TimeLocation: bl.TimeLocation,
		Writer:       bl.Writer,
		Context:      log.NewContext(nil).Str("module", module).Value(),
	}
}
