package relay

import (
	"sort"
	"strconv"
	"time"

	"github.com/lguibr/lockstep/playset"
)

// formatID renders a controller ID the way JSON object keys carry it.
func formatID(id int64) string { return strconv.FormatInt(id, 10) }

// ControllerStatus is one roster entry: who is connected as of the past
// horizon, and the last frame-input string folded into the horizon state.
type ControllerStatus struct {
	Username  string
	LastInput string
}

// Instance is a named game world: the past-horizon state, the pending event
// buckets ahead of it, and the roster the playset sees.
type Instance struct {
	Name   string
	Module *playset.Module

	State any
	Clock Clock

	// Status maps controller ID to its roster entry as of the horizon frame.
	Status map[int64]*ControllerStatus

	// Events buckets pending events by frame number. Every bucketed frame
	// is >= Clock.HorizonFrame.
	Events map[int64][]Event

	// Suspended means the advancer is dormant and Clock.HorizonTime may be
	// stale until the next Rebase.
	Suspended bool
}

// NewInstance builds an instance positioned PastHorizonFrames in the past,
// suspended, with a Disconnect synthesised at frame 1 for every controller
// in the stored roster (they are not actually connected yet).
func NewInstance(name string, module *playset.Module, state any, status map[int64]*ControllerStatus, now time.Time) *Instance {
	inst := &Instance{
		Name:      name,
		Module:    module,
		State:     state,
		Clock:     NewClock(now),
		Status:    status,
		Events:    make(map[int64][]Event),
		Suspended: true,
	}
	if inst.Status == nil {
		inst.Status = make(map[int64]*ControllerStatus)
	}
	for id := range inst.Status {
		inst.AddEvent(Event{Kind: KindDisconnect, Frame: 1, Controller: id})
	}
	return inst
}

// AddEvent buckets an admitted event under its frame.
func (i *Instance) AddEvent(e Event) {
	i.Events[e.Frame] = append(i.Events[e.Frame], e)
}

// TakeBucket removes and returns the event bucket for the frame, nil if
// none.
func (i *Instance) TakeBucket(frame int64) []Event {
	bucket := i.Events[frame]
	delete(i.Events, frame)
	return bucket
}

// HasEvents reports whether any frame bucket is pending.
func (i *Instance) HasEvents() bool {
	return len(i.Events) > 0
}

// PendingEvents flattens every bucket, unsorted, for the initial snapshot.
func (i *Instance) PendingEvents() []Event {
	var all []Event
	for _, bucket := range i.Events {
		all = append(all, bucket...)
	}
	return all
}

// Inputs builds the playset inputs argument by iterating the roster in
// ascending controller order. The ordering is mandatory for determinism.
func (i *Instance) Inputs() []playset.Input {
	ids := make([]int64, 0, len(i.Status))
	for id := range i.Status {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	inputs := make([]playset.Input, 0, len(ids))
	for _, id := range ids {
		inputs = append(inputs, playset.Input{Controller: id, Input: i.Status[id].LastInput})
	}
	return inputs
}
