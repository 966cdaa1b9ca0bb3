package utils

import (
	"fmt"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLogFile is where the stress log is appended when no file is configured.
const DefaultLogFile = "stress.log"

const timestampLayout = "2006-01-02 15:04:05"

// LogOptions controls where log lines go.
type LogOptions struct {
	Debug bool
	// File is appended to; empty means DefaultLogFile, "-" disables the file.
	File string
}

// Logger owns the zap logger and the log file behind it.
type Logger struct {
	*zap.Logger
	file *os.File
}

// NewLogger builds a logger writing "timestamp | message" lines to the log file
// and to the console. Debug lines only reach the file, and only when Debug is set.
func NewLogger(opts LogOptions) (*Logger, error) {
	encCfg := zapcore.EncoderConfig{
		TimeKey:          "ts",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout(timestampLayout),
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " | ",
	}
	enc := zapcore.NewConsoleEncoder(encCfg)

	fileLevel := zapcore.InfoLevel
	if opts.Debug {
		fileLevel = zapcore.DebugLevel
	}

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), zapcore.InfoLevel),
	}

	var file *os.File
	path := opts.File
	if path == "" {
		path = DefaultLogFile
	}
	if path != "-" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		file = f
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(f), fileLevel))
	}

	return &Logger{Logger: zap.New(zapcore.NewTee(cores...)), file: file}, nil
}

// Close flushes the logger and closes the log file.
func (l *Logger) Close() error {
	// Sync on a terminal stdout reports EINVAL on Linux; only the file matters.
	_ = l.Logger.Sync()
	if l.file == nil {
		return nil
	}
	return multierr.Combine(l.file.Sync(), l.file.Close())
}

// LogSink receives human-readable progress and diagnostic lines.
type LogSink interface {
	Emit(message string)
}

// NopSink drops everything.
type NopSink struct{}

func (NopSink) Emit(string) {}

// SinkFunc adapts a function to LogSink.
type SinkFunc func(message string)

func (f SinkFunc) Emit(message string) { f(message) }

// ZapSink forwards sink lines to a zap logger at info level.
type ZapSink struct {
	l *zap.Logger
}

func NewZapSink(l *zap.Logger) ZapSink {
	return ZapSink{l: l}
}

func (s ZapSink) Emit(message string) {
	s.l.Info(message)
}

// SinkOr returns s, or NopSink when s is nil.
func SinkOr(s LogSink) LogSink {
	if s == nil {
		return NopSink{}
	}
	return s
}

// Emitf formats and emits one line.
func Emitf(s LogSink, format string, args ...any) {
	s.Emit(fmt.Sprintf(format, args...))
}
