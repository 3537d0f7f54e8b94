package notify

import (
	"context"

	"go.uber.org/zap"
)

// ConsoleAdapter logs deliveries instead of sending them anywhere. Useful
// for development and as a last-resort channel.
type ConsoleAdapter struct {
	logger *zap.Logger
}

// NewConsoleAdapter creates a console adapter
func NewConsoleAdapter(logger *zap.Logger) *ConsoleAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleAdapter{logger: logger}
}

// Type identifies the adapter implementation
func (a *ConsoleAdapter) Type() string { return "console" }

// Deliver logs the message at a level matching its severity
func (a *ConsoleAdapter) Deliver(ctx context.Context, msg Message) error {
	fields := []zap.Field{
		zap.String("title", msg.Title),
		zap.String("severity", string(msg.Severity)),
		zap.String("body", msg.Body),
	}
	switch msg.Severity {
	case "critical", "high":
		a.logger.Error("alert", fields...)
	case "medium":
		a.logger.Warn("alert", fields...)
	default:
		a.logger.Info("alert", fields...)
	}
	return nil
}
