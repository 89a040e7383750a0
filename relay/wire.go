package relay

// Server-to-client message shapes. Single-letter keys are wire protocol
// shared with the client predictor.

// WaitNotice ("W") confirms a login was accepted and carries the initial
// timing pong. The snapshot follows once the controller goes live.
type WaitNotice struct {
	K string `json:"k"`
	T int64  `json:"t"`
}

// StatusWire is one roster entry inside a SnapshotNotice.
type StatusWire struct {
	U string `json:"u"`
	I string `json:"i"`
}

// SnapshotNotice ("S") is the initial state dump sent when a controller
// goes live: playset name, own controller id, roster as of the horizon,
// serialized horizon state, horizon frame, pending events (unsorted),
// frame rate, chat message cap, and chat tokens.
type SnapshotNotice struct {
	K string                `json:"k"`
	P string                `json:"p"`
	C int64                 `json:"c"`
	X map[string]StatusWire `json:"x"`
	G string                `json:"g"`
	F int64                 `json:"f"`
	E []any                 `json:"e"`
	R int                   `json:"r"`
	L int                   `json:"l"`
	M int                   `json:"m"`
}

// FrameNotice ("F") announces the past horizon reached frame F, with the
// structural hash of the horizon state on hash-sync frames.
type FrameNotice struct {
	K string `json:"k"`
	F int64  `json:"f"`
	H *int64 `json:"h,omitempty"`
}

// ChatRelay ("g") relays one global chat message.
type ChatRelay struct {
	K string `json:"k"`
	C int64  `json:"c"`
	U string `json:"u"`
	M string `json:"m"`
}

// ChatTokenNotice ("G") grants the recipient one replenished chat token.
type ChatTokenNotice struct {
	K string `json:"k"`
}

// ErrorNotice ("E") reports a fatal protocol error; the server closes the
// connection right after sending it.
type ErrorNotice struct {
	K string `json:"k"`
	E string `json:"e"`
}

// DoneNotice ("D") reports success of a one-shot API call; the server
// closes the connection right after sending it.
type DoneNotice struct {
	K string `json:"k"`
	D string `json:"d"`
}

// Relayed event shapes, kinds "c", "o", "f", "d".

type connectNotice struct {
	K string `json:"k"`
	F int64  `json:"f"`
	C int64  `json:"c"`
	U string `json:"u"`
	P string `json:"p,omitempty"`
}

type commandNotice struct {
	K string `json:"k"`
	F int64  `json:"f"`
	C int64  `json:"c"`
	S int64  `json:"s"`
	O string `json:"o"`
	A string `json:"a,omitempty"`
}

type frameNotice struct {
	K string `json:"k"`
	F int64  `json:"f"`
	C int64  `json:"c"`
	I string `json:"i"`
	T int64  `json:"t,omitempty"`
}

type disconnectNotice struct {
	K string `json:"k"`
	F int64  `json:"f"`
	C int64  `json:"c"`
}

// Notice renders the event's wire form. A non-zero pong is attached only to
// Frame events; it is the sender's own echo augmentation.
func (e Event) Notice(pong int64) any {
	switch e.Kind {
	case KindConnect:
		return connectNotice{K: "c", F: e.Frame, C: e.Controller, U: e.Username, P: e.Profile}
	case KindCommand:
		return commandNotice{K: "o", F: e.Frame, C: e.Controller, S: e.Serial, O: e.Verb, A: e.Arg}
	case KindFrame:
		return frameNotice{K: "f", F: e.Frame, C: e.Controller, I: e.Input, T: pong}
	default:
		return disconnectNotice{K: "d", F: e.Frame, C: e.Controller}
	}
}
