// Package log provides structured logging for the loader using zap.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with loader-specific helpers.
type Logger struct {
	*zap.Logger
	onTrace func(pc uint64, category, name, detail string) // trace callback for lifecycle events
}

var (
	// L is the global logger instance.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger with the given configuration.
// Safe to call multiple times; only the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a new Logger instance.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	// Shorter timestamps in development
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fallback to no-op if config fails
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// SetOnTrace sets the trace callback for lifecycle events.
func (l *Logger) SetOnTrace(fn func(pc uint64, category, name, detail string)) {
	l.onTrace = fn
}

// trace logs a lifecycle event and calls the trace callback if set. This is
// the funnel every lifecycle helper below goes through.
func (l *Logger) trace(pc uint64, category, name, detail string) {
	if l.onTrace != nil {
		l.onTrace(pc, category, name, detail)
	}
	l.Debug(category,
		zap.String("fn", name),
		zap.String("detail", detail),
		Addr(pc),
	)
}

// Segment logs a PT_LOAD being copied and mapped.
func (l *Logger) Segment(index int, vaddr uint64, memsz uint64, access string) {
	l.trace(vaddr, "segment", access, "")
	l.Debug("segment",
		zap.Int("index", index),
		Addr(vaddr),
		Size(memsz),
		zap.String("access", access),
	)
}

// Dynamic logs a DT_NEEDED dependency resolution attempt.
func (l *Logger) Dynamic(name string, satisfied bool) {
	l.trace(0, "dynamic", name, "")
	l.Debug("needed",
		zap.String("name", name),
		zap.Bool("satisfied", satisfied),
	)
}

// Relocate logs a single relocation store.
func (l *Logger) Relocate(kind string, p uint64, value uint64) {
	l.trace(p, "relocate", kind, "")
	l.Debug("relocate",
		zap.String("type", kind),
		Ptr("P", p),
		Ptr("value", value),
	)
}

// Resolve logs a symbol resolution outcome.
func (l *Logger) Resolve(name string, addr uint64, source string) {
	l.trace(addr, "resolve", name, source)
	l.Debug("resolve",
		zap.String("fn", name),
		Addr(addr),
		zap.String("src", source),
	)
}

// Init logs an initializer invocation (DT_INIT, an init-array entry, or the
// ELF entry point).
func (l *Logger) Init(kind string, addr uint64) {
	l.trace(addr, "init", kind, "")
	l.Info("init",
		zap.String("kind", kind),
		Addr(addr),
	)
}

// Fini logs a finalizer invocation (DT_FINI or a fini-array entry).
func (l *Logger) Fini(kind string, addr uint64) {
	l.trace(addr, "fini", kind, "")
	l.Info("fini",
		zap.String("kind", kind),
		Addr(addr),
	)
}

// WithCategory returns a logger with the category field preset.
func (l *Logger) WithCategory(category string) *Logger {
	return &Logger{
		Logger:  l.Logger.With(zap.String("cat", category)),
		onTrace: l.onTrace,
	}
}

// Hex formats a uint64 as hex string for logging.
func Hex(addr uint64) string {
	return "0x" + hexString(addr)
}

func hexString(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	buf := make([]byte, 16)
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

// Field helpers for common patterns.

// Addr creates an address field.
func Addr(addr uint64) zap.Field {
	return zap.String("addr", Hex(addr))
}

// Size creates a size field.
func Size(size uint64) zap.Field {
	return zap.Uint64("size", size)
}

// Ptr creates a pointer field.
func Ptr(name string, ptr uint64) zap.Field {
	return zap.String(name, Hex(ptr))
}

// Fn creates a function name field.
func Fn(name string) zap.Field {
	return zap.String("fn", name)
}
