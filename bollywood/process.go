package bollywood

import (
	"log/slog"
	"runtime/debug"
	"sync/atomic"
)

const defaultMailboxSize = 1024

// process represents the running instance of an actor, including its state
// and mailbox.
type process struct {
	engine  *Engine
	pid     *PID
	actor   Actor
	mailbox chan *messageEnvelope
	props   *Props
	stopCh  chan struct{} // Signal to stop the run loop
	stopped atomic.Bool
}

func newProcess(engine *Engine, pid *PID, props *Props) *process {
	return &process{
		engine:  engine,
		pid:     pid,
		props:   props,
		mailbox: make(chan *messageEnvelope, defaultMailboxSize),
		stopCh:  make(chan struct{}),
	}
}

// sendMessage enqueues an envelope without blocking; messages to a full
// mailbox are dropped and logged.
func (p *process) sendMessage(envelope *messageEnvelope) {
	_, isStopping := envelope.Message.(Stopping)
	_, isStopped := envelope.Message.(Stopped)
	if p.stopped.Load() && !isStopping && !isStopped {
		return
	}

	select {
	case p.mailbox <- envelope:
	default:
		p.engine.log.Warn("actor mailbox full, dropping message",
			slog.String("actor", p.pid.ID))
	}
}

// run is the main loop for the actor process.
func (p *process) run() {
	defer func() {
		p.stopped.Store(true)
		if p.actor != nil {
			p.invokeReceive(&messageEnvelope{Message: Stopped{}})
		}
		p.engine.remove(p.pid)
	}()

	defer func() {
		if r := recover(); r != nil {
			p.engine.log.Error("actor panicked",
				slog.String("actor", p.pid.ID),
				slog.Any("reason", r),
				slog.String("stack", string(debug.Stack())))
			p.stopped.Store(true)
			select {
			case <-p.stopCh:
			default:
				close(p.stopCh)
			}
		}
	}()

	p.actor = p.props.Produce()
	if p.actor == nil {
		panic("bollywood: producer returned nil actor for " + p.pid.ID)
	}

	for {
		select {
		case <-p.stopCh:
			if p.stopped.CompareAndSwap(false, true) {
				p.invokeReceive(&messageEnvelope{Message: Stopping{}})
			}
			return

		case envelope := <-p.mailbox:
			_, isStopping := envelope.Message.(Stopping)
			_, isStoppedMsg := envelope.Message.(Stopped)
			if p.stopped.Load() && !isStopping && !isStoppedMsg {
				continue
			}

			switch envelope.Message.(type) {
			case Stopping:
				if p.stopped.CompareAndSwap(false, true) {
					p.invokeReceive(envelope)
					select {
					case <-p.stopCh:
					default:
						close(p.stopCh)
					}
				}
				return
			default:
				p.invokeReceive(envelope)
			}
		}
	}
}

// invokeReceive calls the actor's Receive method within a protected context.
func (p *process) invokeReceive(envelope *messageEnvelope) {
	ctx := &context{
		engine:  p.engine,
		self:    p.pid,
		sender:  envelope.Sender,
		message: envelope.Message,
		replyTo: envelope.ReplyTo,
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				p.engine.log.Error("actor panicked during receive",
					slog.String("actor", p.pid.ID),
					slog.Any("reason", r),
					slog.String("stack", string(debug.Stack())))
			}
		}()
		p.actor.Receive(ctx)
	}()
}
