package domain

type EventType string

const (
	EventSessionStarted EventType = "session_started"
	EventSessionLoaded  EventType = "session_loaded"
	EventSessionClosed  EventType = "session_closed"
	EventSessionDeleted EventType = "session_deleted"
)

type EventSession struct {
	Name string `json:"name"`
}

// Event is the lifecycle notification pushed to real-time subscribers.
type Event struct {
	Type    EventType    `json:"type"`
	Session EventSession `json:"session"`
}

func NewEvent(eventType EventType, session string) Event {
	return Event{Type: eventType, Session: EventSession{Name: session}}
}

// Announcer delivers lifecycle events. Implementations must not block the
// caller on delivery and must never report delivery failures back to it.
type Announcer interface {
	Announce(event Event)
}
