package bus

import "time"

// Event is a change notification published on the bus. Kind is a dotted
// name whose first segment is the publishing component ("cache.", "bridge.").
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Namespace returns the Kind prefix up to and including the first dot.
func (e Event) Namespace() string {
	for i := 0; i < len(e.Kind); i++ {
		if e.Kind[i] == '.' {
			return e.Kind[:i+1]
		}
	}
	return e.Kind
}
