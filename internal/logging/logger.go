// Package logging provides structured logging using go.uber.org/zap.
package logging

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Context keys for extracting values from context.
type contextKey string

const (
	SessionIDKey contextKey = "session_id"
	TurnIDKey    contextKey = "turn_id"
)

// Config holds the configuration for the logger, sourced from the bridge's
// environment-variable configuration (see internal/config).
type Config struct {
	Level   string // debug, info, warn, error
	Format  string // json, console
	LogFile string // optional path; logs are duplicated here when set
}

// Logger wraps zap.Logger to provide structured logging with helper methods.
// All bridge diagnostics are written to stderr; stdout is reserved exclusively
// for the JSON-RPC wire protocol.
type Logger struct {
	zap   *zap.Logger
	sugar *zap.SugaredLogger
}

var (
	defaultLogger     *Logger
	defaultLoggerOnce sync.Once
)

// Default returns the global default logger, initialized lazily with
// info-level console logging to stderr.
func Default() *Logger {
	defaultLoggerOnce.Do(func() {
		var err error
		defaultLogger, err = New(Config{Level: "info", Format: "console"})
		if err != nil {
			zapLogger, _ := zap.NewProduction()
			defaultLogger = &Logger{zap: zapLogger, sugar: zapLogger.Sugar()}
		}
	})
	return defaultLogger
}

// SetDefault sets the global default logger.
func SetDefault(l *Logger) {
	defaultLogger = l
}

// New creates a new Logger with the given configuration. Diagnostics always
// go to stderr; if cfg.LogFile is set, entries are duplicated to a buffered
// file sink per the LOG_FILE option (flush every 5s or 50 entries, drop
// oldest beyond 200 buffered entries on write failure).
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" || cfg.Format == "text" || cfg.Format == "" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level),
	}

	if cfg.LogFile != "" {
		fileSink, err := newBufferedFileSink(cfg.LogFile)
		if err != nil {
			return nil, err
		}
		jsonEncoderConfig := zap.NewProductionEncoderConfig()
		jsonEncoderConfig.TimeKey = "timestamp"
		jsonEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(jsonEncoderConfig), fileSink, level))
	}

	core := zapcore.NewTee(cores...)
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return &Logger{zap: zapLogger, sugar: zapLogger.Sugar()}, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	err := l.UnmarshalText([]byte(level))
	return l, err
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// WithFields returns a new Logger with the given fields added.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	z := l.zap.With(fields...)
	return &Logger{zap: z, sugar: z.Sugar()}
}

// WithContext returns a new Logger with session/turn identifiers from ctx added.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var fields []zap.Field
	if sid, ok := ctx.Value(SessionIDKey).(string); ok && sid != "" {
		fields = append(fields, zap.String("session_id", sid))
	}
	if tid, ok := ctx.Value(TurnIDKey).(string); ok && tid != "" {
		fields = append(fields, zap.String("turn_id", tid))
	}
	if len(fields) == 0 {
		return l
	}
	return l.WithFields(fields...)
}

// WithError returns a new Logger with the error field added.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields(zap.Error(err))
}

// WithSession returns a new Logger with the session_id field added.
func (l *Logger) WithSession(sessionID string) *Logger {
	return l.WithFields(zap.String("session_id", sessionID))
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.zap.Fatal(msg, fields...) }

// Zap returns the underlying zap.Logger for advanced use cases.
func (l *Logger) Zap() *zap.Logger { return l.zap }

// bufferedFileSink is a zapcore.WriteSyncer that buffers writes to a log
// file, flushing periodically, and drops the oldest buffered entries rather
// than blocking or losing the newest ones when the file becomes unwritable.
type bufferedFileSink struct {
	mu      sync.Mutex
	file    *os.File
	buf     [][]byte
	maxBuf  int
	flushAt int
	lastErr error
}

const (
	bufferedSinkMaxEntries   = 200
	bufferedSinkFlushEntries = 50
	bufferedSinkFlushPeriod  = 5 * time.Second
)

func newBufferedFileSink(path string) (*bufferedFileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	s := &bufferedFileSink{file: f, maxBuf: bufferedSinkMaxEntries, flushAt: bufferedSinkFlushEntries}
	go s.flushLoop()
	return s, nil
}

func (s *bufferedFileSink) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	s.mu.Lock()
	s.buf = append(s.buf, cp)
	if len(s.buf) > s.maxBuf {
		s.buf = s.buf[len(s.buf)-s.maxBuf:]
	}
	shouldFlush := len(s.buf) >= s.flushAt
	s.mu.Unlock()

	if shouldFlush {
		_ = s.flush()
	}
	return len(p), nil
}

func (s *bufferedFileSink) Sync() error {
	return s.flush()
}

func (s *bufferedFileSink) flush() error {
	s.mu.Lock()
	pending := s.buf
	s.buf = nil
	s.mu.Unlock()

	for i, entry := range pending {
		if _, err := s.file.Write(entry); err != nil {
			s.mu.Lock()
			s.lastErr = err
			s.buf = append(append([][]byte(nil), pending[i:]...), s.buf...)
			if len(s.buf) > s.maxBuf {
				s.buf = s.buf[len(s.buf)-s.maxBuf:]
			}
			s.mu.Unlock()
			return err
		}
	}
	return s.file.Sync()
}

func (s *bufferedFileSink) flushLoop() {
	ticker := time.NewTicker(bufferedSinkFlushPeriod)
	defer ticker.Stop()
	for range ticker.C {
		_ = s.flush()
	}
}
