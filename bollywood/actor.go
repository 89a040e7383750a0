package bollywood

// Actor is the interface that defines actor behavior.
// Actors process messages sequentially received from their mailbox; a
// Receive invocation runs to completion before the next message is
// dequeued, so actor state never needs locking against its own handlers.
type Actor interface {
	Receive(ctx Context)
}
