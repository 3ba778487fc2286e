package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/registration-service/internal/events"
)

// ReviewEventMetrics counts committed review transitions.
type ReviewEventMetrics interface {
	RecordReviewEvent(eventType string)
}

// SubscribeReviewEvents attaches an audit logger and a metrics counter to every
// review event type.
func SubscribeReviewEvents(dispatcher events.Dispatcher, metrics ReviewEventMetrics, logger *zap.Logger) {
	if dispatcher == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("review_events")

	handle := func(_ context.Context, event events.Event) error {
		fields := []zap.Field{
			zap.String("event_type", string(event.Type)),
			zap.String("registration_id", event.RegistrationID),
			zap.String("status", string(event.Status)),
		}
		if event.Dimension != "" {
			fields = append(fields, zap.String("dimension", string(event.Dimension)))
		}
		if event.Actor.SubjectID != "" {
			fields = append(fields, zap.String("actor", event.Actor.SubjectID))
		}
		if event.Payload != nil {
			fields = append(fields, zap.Any("payload", event.Payload))
		}
		logger.Info("review event", fields...)
		if metrics != nil {
			metrics.RecordReviewEvent(string(event.Type))
		}
		return nil
	}

	for _, eventType := range events.AllEventTypes {
		dispatcher.Subscribe(eventType, handle)
	}
}
