package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketplace-chat-service/internal/mocks"
	"marketplace-chat-service/internal/telemetry"
)

func TestEmitPublishesEnvelope(t *testing.T) {
	publisher := new(mocks.AuditPublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "audit.chat", "marketplace-chat-service", "test")

	userID := "1"
	publisher.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(event any) bool {
		envelope, ok := event.(telemetry.AuditEnvelope)
		return ok &&
			envelope.Service == "marketplace-chat-service" &&
			envelope.Environment == "test" &&
			envelope.RequestID == "req-1" &&
			envelope.UserID != nil && *envelope.UserID == "1" &&
			envelope.Payload.Level == "INFO" &&
			envelope.Payload.Text == "room 9 opened"
	})).Return(nil).Once()

	emitter.Emit(context.Background(), "INFO", "room 9 opened", "req-1", &userID)
	publisher.AssertExpectations(t)
}

func TestEmitNilEmitterIsNoop(t *testing.T) {
	var emitter *telemetry.AuditEmitter
	require.NotPanics(t, func() {
		emitter.Emit(context.Background(), "INFO", "ignored", "", nil)
	})
}

func TestEmitPublishErrorIsSwallowed(t *testing.T) {
	publisher := new(mocks.AuditPublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "audit.chat", "svc", "test")

	publisher.On("Publish", mock.Anything, "audit.chat", mock.Anything).Return(context.DeadlineExceeded).Once()

	require.NotPanics(t, func() {
		emitter.Emit(context.Background(), "WARN", "boom", "req-2", nil)
	})
	publisher.AssertExpectations(t)
}
