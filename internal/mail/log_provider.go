package mail

import (
	"context"

	"go.uber.org/zap"
)

// LogProvider writes messages to the log instead of sending them. It backs
// local development when no provider URL is configured.
type LogProvider struct {
	logger *zap.Logger
}

// NewLogProvider returns a provider that only logs.
func NewLogProvider(logger *zap.Logger) *LogProvider {
	return &LogProvider{logger: logger}
}

// Send implements Provider.
func (p *LogProvider) Send(_ context.Context, msg Message) error {
	p.logger.Info("email (log provider)",
		zap.String("to", msg.To),
		zap.String("template", msg.Template),
		zap.String("subject", msg.Subject),
	)
	return nil
}
