// Package realtime fans out row change notifications to live subscribers.
package realtime

import (
	"context"
	"time"
)

// Change types carried by an Event.
const (
	TypeInsert = "INSERT"
	TypeUpdate = "UPDATE"
	TypeDelete = "DELETE"
)

// Event describes a change to one row.
type Event struct {
	Table     string    `json:"table" doc:"Table the changed row belongs to"`
	Type      string    `json:"type" doc:"INSERT, UPDATE or DELETE"`
	Record    any       `json:"record" doc:"Row after the change"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers events to the subscribers of a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
}

// Subscriber registers interest in a topic. The returned cancel func releases
// the subscription and closes the channel. A subscriber that falls a full
// buffer behind has its channel closed so it can resubscribe and reload.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error)
}

// Broker is both ends of a topic bus.
type Broker interface {
	Publisher
	Subscriber
}

// RulesTopic names the topic carrying rule changes for one game.
func RulesTopic(gameID string) string {
	return "rules:" + gameID
}

const defaultBuffer = 16
