// Package notify delivers crawl run lifecycle notifications.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier announces run lifecycle events to an operator.
type Notifier interface {
	Started(ctx context.Context, runID string, seeds []string) error
	Completed(ctx context.Context, runID string) error
	Failed(ctx context.Context, runID string, cause error) error
}

// LogNotifier writes notifications to the structured log. It stands in for
// an outbound channel (mail, chat) when none is configured.
type LogNotifier struct {
	logger    *zap.Logger
	recipient string
}

// NewLogNotifier builds a LogNotifier. The recipient is recorded on every
// event so log-based alerting can route on it.
func NewLogNotifier(logger *zap.Logger, recipient string) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger, recipient: recipient}
}

func (n *LogNotifier) fields(runID string) []zap.Field {
	return []zap.Field{
		zap.String("run_id", runID),
		zap.String("recipient", n.recipient),
	}
}

// Started announces that a crawl run began.
func (n *LogNotifier) Started(_ context.Context, runID string, seeds []string) error {
	n.logger.Info("crawl run started", append(n.fields(runID), zap.Strings("seeds", seeds))...)
	return nil
}

// Completed announces that the frontier drained and the run finished.
func (n *LogNotifier) Completed(_ context.Context, runID string) error {
	n.logger.Info("crawl run completed", n.fields(runID)...)
	return nil
}

// Failed announces that the run aborted.
func (n *LogNotifier) Failed(_ context.Context, runID string, cause error) error {
	n.logger.Error("crawl run failed", append(n.fields(runID), zap.Error(cause))...)
	return nil
}
