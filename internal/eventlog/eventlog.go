package eventlog

import (
	"fmt"
	"os"
	"path"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sdaf-automation/sdaf-wizard/internal/orchestrator"
)

// Log appends one JSON line per step outcome to a session's audit log. Only
// references and statuses are written; secret values never reach an event.
type Log struct {
	logger *zap.Logger
	file   *os.File
}

func Open(logPath string) (*Log, error) {
	if err := os.MkdirAll(path.Dir(logPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(file), zap.InfoLevel)

	return &Log{logger: zap.New(core), file: file}, nil
}

// New wraps an existing logger, e.g. one built by zaptest.
func New(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) StepFinished(e orchestrator.Event) {
	fields := []zap.Field{
		zap.String("session", e.SessionID),
		zap.String("step", e.StepID),
		zap.String("statusBefore", string(e.StatusBefore)),
		zap.String("statusAfter", string(e.StatusAfter)),
		zap.Int("attempts", e.Attempts),
		zap.Duration("duration", e.Duration),
		zap.Bool("reused", e.Reused),
	}
	if e.ExternalRef != "" {
		fields = append(fields, zap.String("externalRef", e.ExternalRef))
	}
	if e.Err != nil {
		fields = append(fields, zap.String("error", e.Err.Error()))
		l.logger.Warn("step finished", fields...)
		return
	}
	l.logger.Info("step finished", fields...)
}

func (l *Log) Close() error {
	_ = l.logger.Sync()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
