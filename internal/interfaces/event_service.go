package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventLog               EventType = "log"
	EventStatus            EventType = "status"
	EventProgress          EventType = "progress"
	EventDepartmentsLoaded EventType = "departments_loaded"
	EventDepartmentDone    EventType = "department_done"
	EventPortalCompleted   EventType = "portal_completed"
	EventError             EventType = "error"
	EventCompleted         EventType = "completed"
	EventWatchTriggered    EventType = "watch_triggered"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Portal  string
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages the pub/sub event bus. Shells (CLI, tests) subscribe
// instead of passing callbacks into the scheduler.
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	Close() error
}
