// Package errors provides structured logging utilities for error handling.
package errors

import (
	"errors"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// StructuredLogger wraps zap logger with board-aware helpers
type StructuredLogger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// NewStructuredLogger creates a logger for the given environment. The level
// string accepts zap level names; an empty string picks the environment default.
func NewStructuredLogger(environment, level string) (*StructuredLogger, error) {
	var config zap.Config

	if environment == "production" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		config.Sampling = &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		}
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		// Colors only make sense on an interactive terminal
		if term.IsTerminal(int(os.Stderr.Fd())) {
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			config.Encoding = "json"
			config.EncoderConfig = zap.NewProductionEncoderConfig()
		}
	}

	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		config.Level.SetLevel(parsed)
	}

	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}

	return &StructuredLogger{Logger: logger, level: config.Level}, nil
}

// NewNopLogger returns a logger that discards everything, for tests and embedding.
func NewNopLogger() *StructuredLogger {
	return &StructuredLogger{Logger: zap.NewNop(), level: zap.NewAtomicLevel()}
}

// SetLevel changes the level at runtime; used by the config watcher.
func (l *StructuredLogger) SetLevel(level string) error {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(parsed)
	return nil
}

// WithBoard creates a logger carrying board context
func (l *StructuredLogger) WithBoard(boardID, actor string) *StructuredLogger {
	return &StructuredLogger{
		Logger: l.Logger.With(
			zap.String("board_id", boardID),
			zap.String("actor", actor),
		),
		level: l.level,
	}
}

// LogError logs an error with a level derived from its severity
func (l *StructuredLogger) LogError(err error, message string, fields ...zap.Field) {
	if err == nil {
		return
	}

	fields = append(fields, ErrorFields(err)...)

	switch GetSeverity(err) {
	case SeverityLow:
		l.Info(message, fields...)
	case SeverityMedium:
		l.Warn(message, fields...)
	default:
		l.Error(message, fields...)
	}
}

// ErrorFields extracts zap fields from an error
func ErrorFields(err error) []zap.Field {
	fields := []zap.Field{zap.Error(err)}

	var unifiedErr *UnifiedError
	if errors.As(err, &unifiedErr) {
		fields = append(fields,
			zap.String("error_type", string(unifiedErr.Type)),
			zap.String("error_code", unifiedErr.Code),
			zap.Bool("retryable", unifiedErr.Retryable),
		)
		if unifiedErr.Operation != "" {
			fields = append(fields, zap.String("operation", unifiedErr.Operation))
		}
		if unifiedErr.Resource != "" {
			fields = append(fields, zap.String("resource", unifiedErr.Resource))
		}
	}

	return fields
}
