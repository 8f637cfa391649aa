package session

// EventType identifies what a session Event describes.
type EventType int

const (
	// EventStatusChanged fires on every state transition.
	EventStatusChanged EventType = iota
	// EventRedirectToLogin tells the presentation layer the session has
	// ended and the user must re-authenticate.
	EventRedirectToLogin
)

// Event is a session notification delivered to the presentation layer.
type Event struct {
	Type   EventType
	Status Status
}
