// Package relay implements the per-instance event pipeline: admission of
// client events, canonical ordering, the past-horizon advancer, and fan-out
// to subscribed controllers.
package relay

import "sort"

// EventKind tags an event variant. The declaration order is the canonical
// order of kinds within a frame: Connect < Command < Frame < Disconnect.
type EventKind int

const (
	KindConnect EventKind = iota
	KindCommand
	KindFrame
	KindDisconnect
)

func (k EventKind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindCommand:
		return "command"
	case KindFrame:
		return "frame"
	case KindDisconnect:
		return "disconnect"
	}
	return "unknown"
}

// Event is one admitted occurrence in an instance's stream. Only the fields
// of the tagged variant are meaningful: Username and Profile for Connect,
// Serial/Verb/Arg for Command, Input for Frame.
type Event struct {
	Kind       EventKind
	Frame      int64
	Controller int64

	Username string
	Profile  string

	Serial int64
	Verb   string
	Arg    string

	Input string
}

// Less reports the canonical total order of two events stamped at the same
// frame: kind first, controller second, serial third (Command only). Event
// order within a frame therefore depends only on payloads, never on ingress
// order.
func (e Event) Less(o Event) bool {
	if e.Kind != o.Kind {
		return e.Kind < o.Kind
	}
	if e.Controller != o.Controller {
		return e.Controller < o.Controller
	}
	if e.Kind == KindCommand {
		return e.Serial < o.Serial
	}
	return false
}

// SortEvents orders a single frame's bucket canonically, in place.
func SortEvents(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Less(events[j])
	})
}
