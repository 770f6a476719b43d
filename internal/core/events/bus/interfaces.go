package bus

import "time"

// EventBus is a thread-safe, in-process pub/sub bus.
//
// Handlers subscribe by Event.Type() within a topic; the default topic is "".
// Delivery is synchronous in the publisher's goroutine and follows
// subscription order, so a single-threaded publisher observes a deterministic
// handler sequence. Handler errors are joined and returned from Publish.
// Subscribing to Wildcard receives every event of the topic.
type EventBus interface {
	Publish(event Event) error
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels the given Subscription. Nil is a no-op.
	Unsubscribe(Subscription) error

	// PublishWithFilters drops the event silently if any filter rejects it.
	PublishWithFilters(event Event, filters ...EventFilter) error
	// PublishBatch publishes sequentially and joins errors across events.
	PublishBatch(events ...Event) error

	SubscribeTopic(topic, eventType string, handler EventHandler) (Subscription, error)
	PublishToTopic(topic string, event Event) error

	// Topics returns a snapshot of known topics with their subscriber counts.
	Topics() []TopicInfo
}

// Wildcard subscribes a handler to every event type of a topic.
const Wildcard = "*"

// Event is an immutable message transported by the EventBus.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
	Metadata() map[string]any
}

type (
	// EventHandler is invoked per delivered event.
	EventHandler func(event Event) error
	// EventFilter decides whether an event should be delivered.
	EventFilter func(event Event) bool
)

// Subscription represents a registered handler bound to an event type.
type Subscription interface {
	ID() string
	Topic() string
	EventType() string
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel() error
}

// TopicInfo provides a minimal snapshot about a topic.
type TopicInfo struct {
	Name       string
	EventTypes int
	Subs       int
}
