package statesync

// InstancePathItem is one step from the root to an event target. Components
// inside repeaters exist once per repetition, told apart by InstanceNumber.
type InstancePathItem struct {
	ComponentID    string `json:"componentId" msgpack:"componentId"`
	InstanceNumber int    `json:"instanceNumber" msgpack:"instanceNumber"`
}

// InstancePath locates a rendered component instance, root first.
type InstancePath []InstancePathItem

// Target returns the ID of the last component in the path, or "".
func (p InstancePath) Target() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1].ComponentID
}

// Event is a user interaction reported by the frontend. Types of built-in
// events start with "ss-".
type Event struct {
	Type         string       `json:"type" msgpack:"type"`
	InstancePath InstancePath `json:"instancePath" msgpack:"instancePath"`
	Payload      any          `json:"payload" msgpack:"payload"`
}

// EventResult is returned to the frontend for every event.
type EventResult struct {
	OK     bool `json:"ok" msgpack:"ok"`
	Result any  `json:"result" msgpack:"result"`
}

// Payload is the type handlers declare to receive the sanitised event
// payload.
type Payload interface{}

// EventContext holds the repeater variables in scope of the event target.
type EventContext map[string]any

// SessionInfo describes the session an event belongs to.
type SessionInfo struct {
	ID      string            `json:"id"`
	Cookies map[string]string `json:"cookies"`
	Headers map[string]string `json:"headers"`
}
