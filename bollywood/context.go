package bollywood

// Context provides information and capabilities to an Actor during message
// processing.
type Context interface {
	// Engine returns the Actor Engine managing this actor.
	Engine() *Engine
	// Self returns the PID of the actor processing the message.
	Self() *PID
	// Sender returns the PID of the actor that sent the message, if available.
	Sender() *PID
	// Message returns the actual message being processed.
	Message() interface{}
	// Reply answers an Ask request. It is a no-op when the message was
	// delivered with plain Send.
	Reply(v interface{})
	// IsAsk reports whether the current message expects a Reply.
	IsAsk() bool
}

type context struct {
	engine  *Engine
	self    *PID
	sender  *PID
	message interface{}
	replyTo chan interface{}
}

func (c *context) Engine() *Engine      { return c.engine }
func (c *context) Self() *PID           { return c.self }
func (c *context) Sender() *PID         { return c.sender }
func (c *context) Message() interface{} { return c.message }
func (c *context) IsAsk() bool          { return c.replyTo != nil }

func (c *context) Reply(v interface{}) {
	if c.replyTo == nil {
		return
	}
	// Buffered with capacity 1 by Ask; never blocks, second Reply is dropped.
	select {
	case c.replyTo <- v:
	default:
	}
}
