package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"

	"pet-society-chat/internal/mocks"
)

func TestEmitPublishesEnvelope(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(publisher, "audit.chat", "pet-society-chat", "test")

	userID := int64(7)
	publisher.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(event any) bool {
		envelope, ok := event.(AuditEnvelope)
		return ok &&
			envelope.SchemaVersion == 1 &&
			envelope.EventType == "audit_log" &&
			envelope.Service == "pet-society-chat" &&
			envelope.Environment == "test" &&
			envelope.RequestID == "req-1" &&
			envelope.UserID != nil && *envelope.UserID == 7 &&
			envelope.Payload.Level == "INFO" &&
			envelope.Payload.Text == "Chat group created"
	}), mock.Anything).Return(nil).Once()

	emitter.Emit(context.Background(), "INFO", "Chat group created", "req-1", &userID)
	publisher.AssertExpectations(t)
}

func TestEmitSwallowsPublishFailure(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(publisher, "audit.chat", "pet-society-chat", "test")

	publisher.On("Publish", mock.Anything, "audit.chat", mock.Anything, mock.Anything).
		Return(errors.New("broker down")).Once()

	emitter.Emit(context.Background(), "ERROR", "internal error", "req-2", nil)
	publisher.AssertExpectations(t)
}

func TestEmitWithoutPublisherIsNoop(t *testing.T) {
	var emitter *AuditEmitter
	emitter.Emit(context.Background(), "INFO", "ignored", "", nil)

	NewAuditEmitter(nil, "audit.chat", "pet-society-chat", "test").
		Emit(context.Background(), "INFO", "ignored", "", nil)
}
