package ports

import (
	"context"

	"cryptoSentinelBot/internal/domain"
)

// EventPublisher is the publish side of the event bus.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload map[string]string, key string) domain.PublishResult
}
