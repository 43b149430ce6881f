package interfaces

import "context"

// EventPublisher delivers domain events. Key orders events within a topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}
