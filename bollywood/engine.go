package bollywood

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAskTimeout is returned by Ask when the target actor does not reply in
// time.
var ErrAskTimeout = errors.New("bollywood: ask timed out")

// ErrActorNotFound is returned by Ask when the PID is unknown to the engine.
var ErrActorNotFound = errors.New("bollywood: actor not found")

// Engine manages the lifecycle and message dispatching for actors.
type Engine struct {
	pidCounter uint64
	actors     map[string]*process
	mu         sync.RWMutex // Protects the actors map
	stopping   atomic.Bool  // Indicates if the engine is shutting down
	log        *slog.Logger
}

// NewEngine creates a new actor engine.
func NewEngine(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		actors: make(map[string]*process),
		log:    log,
	}
}

func (e *Engine) nextPID() *PID {
	id := atomic.AddUint64(&e.pidCounter, 1)
	return &PID{ID: fmt.Sprintf("actor-%d", id)}
}

// Spawn creates and starts a new actor based on the provided Props.
// It returns the PID of the newly created actor, or nil when the engine is
// already shutting down.
func (e *Engine) Spawn(props *Props) *PID {
	if e.stopping.Load() {
		e.log.Warn("engine is stopping, cannot spawn new actors")
		return nil
	}

	pid := e.nextPID()
	proc := newProcess(e, pid, props)

	e.mu.Lock()
	e.actors[pid.ID] = proc
	e.mu.Unlock()

	go proc.run()

	e.Send(pid, Started{}, nil)

	return pid
}

// Send delivers a message to the actor identified by the PID.
func (e *Engine) Send(pid *PID, message interface{}, sender *PID) {
	if pid == nil {
		return
	}
	// Allow system messages during shutdown for cleanup.
	_, isStopping := message.(Stopping)
	_, isStopped := message.(Stopped)
	isSystemMsg := isStopping || isStopped || (message == Started{})

	if e.stopping.Load() && !isSystemMsg {
		return
	}

	e.mu.RLock()
	proc, ok := e.actors[pid.ID]
	e.mu.RUnlock()

	if ok {
		proc.sendMessage(&messageEnvelope{Sender: sender, Message: message})
	}
}

// SendLater posts the message to the PID after the delay, from a timer
// goroutine. The returned timer may be stopped to cancel delivery.
func (e *Engine) SendLater(d time.Duration, pid *PID, message interface{}) *time.Timer {
	return time.AfterFunc(d, func() {
		e.Send(pid, message, nil)
	})
}

// Ask delivers the message and blocks until the actor calls Reply, the
// timeout elapses, or the actor is unknown. Must not be called from the
// target actor's own goroutine.
func (e *Engine) Ask(pid *PID, message interface{}, timeout time.Duration) (interface{}, error) {
	if pid == nil {
		return nil, ErrActorNotFound
	}
	e.mu.RLock()
	proc, ok := e.actors[pid.ID]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrActorNotFound
	}

	replyCh := make(chan interface{}, 1)
	proc.sendMessage(&messageEnvelope{Message: message, ReplyTo: replyCh})

	select {
	case v := <-replyCh:
		if err, isErr := v.(error); isErr {
			return nil, err
		}
		return v, nil
	case <-time.After(timeout):
		return nil, ErrAskTimeout
	}
}

// Stop requests an actor to stop processing messages and shut down.
// It sends the Stopping message and also directly signals the actor's stop
// channel so termination happens even with a full mailbox.
func (e *Engine) Stop(pid *PID) {
	if pid == nil {
		return
	}
	e.mu.RLock()
	proc, ok := e.actors[pid.ID]
	e.mu.RUnlock()

	if ok {
		e.Send(pid, Stopping{}, nil)
		select {
		case <-proc.stopCh: // Already closed
		default:
			close(proc.stopCh)
		}
	}
}

// remove removes an actor process from the engine's tracking.
func (e *Engine) remove(pid *PID) {
	e.mu.Lock()
	delete(e.actors, pid.ID)
	e.mu.Unlock()
}

// Shutdown stops all actors and waits for them to terminate gracefully.
func (e *Engine) Shutdown(timeout time.Duration) {
	if !e.stopping.CompareAndSwap(false, true) {
		return
	}
	e.log.Info("engine shutdown initiated")

	e.mu.RLock()
	pidsToStop := make([]*PID, 0, len(e.actors))
	for _, proc := range e.actors {
		pidsToStop = append(pidsToStop, proc.pid)
	}
	e.mu.RUnlock()

	for _, pid := range pidsToStop {
		e.Stop(pid)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		e.mu.RLock()
		remaining := len(e.actors)
		e.mu.RUnlock()
		if remaining == 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	e.mu.Lock()
	if n := len(e.actors); n > 0 {
		e.log.Warn("engine shutdown timeout, actors did not stop", slog.Int("remaining", n))
		e.actors = make(map[string]*process)
	}
	e.mu.Unlock()

	e.log.Info("engine shutdown complete")
}
