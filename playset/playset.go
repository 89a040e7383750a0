// Package playset defines the contract between the relay core and the
// deterministic game-logic modules it drives. The core never inspects a
// playset's state; it only moves it through the operations declared here.
package playset

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Connect tells a playset that a controller joined at the frame being
// advanced.
type Connect struct {
	Controller int64
	Username   string
	Profile    string
}

// Command is a one-shot verb issued by a controller.
type Command struct {
	Controller int64
	Serial     int64
	Verb       string
	Arg        string
}

// Input is a controller's held input string for the frame being advanced.
// The slice passed to Advance is ordered by ascending controller ID.
type Input struct {
	Controller int64
	Input      string
}

// Disconnect tells a playset that a controller left at the frame being
// advanced.
type Disconnect struct {
	Controller int64
}

// Playset is the required capability set of a game module. Advance must be
// deterministic and synchronous: the same state and arguments always produce
// the same resulting state. It may mutate state in place; the returned value
// becomes the authoritative state either way.
type Playset interface {
	Name() string
	Advance(state any, connects []Connect, commands []Command, inputs []Input, disconnects []Disconnect) any
}

// Serializer is an optional capability overriding the structural JSON codec.
type Serializer interface {
	Serialize(state any) (string, error)
	Deserialize(data string) (any, error)
}

// Copier is an optional capability overriding the serialize round-trip copy.
type Copier interface {
	Copy(state any) (any, error)
}

// Hasher is an optional capability overriding the default structural hash.
type Hasher interface {
	Hash(state any) (int64, error)
}

// CommandPolicy is an optional capability declaring accepted verbs. Without
// it a playset accepts no commands at all.
type CommandPolicy interface {
	// CommandLimits maps each accepted verb to its per-window rate cap.
	CommandLimits() map[string]int
	// MaxArgBytes caps a command's argument length.
	MaxArgBytes() int
}

// InputPolicy is an optional capability overriding the default input cap.
type InputPolicy interface {
	MaxInputBytes() int
}

const (
	defaultMaxArgBytes   = 1000
	defaultMaxInputBytes = 256
)

// Module is a registered playset with every optional capability resolved to
// either the playset's own implementation or the package default.
type Module struct {
	ps            Playset
	commandLimits map[string]int
	maxArgBytes   int
	maxInputBytes int
}

// Name returns the playset's unique registration name.
func (m *Module) Name() string { return m.ps.Name() }

// Advance runs one deterministic step.
func (m *Module) Advance(state any, connects []Connect, commands []Command, inputs []Input, disconnects []Disconnect) any {
	return m.ps.Advance(state, connects, commands, inputs, disconnects)
}

// Serialize renders the state to its wire/persistence form.
func (m *Module) Serialize(state any) (string, error) {
	if s, ok := m.ps.(Serializer); ok {
		return s.Serialize(state)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("serializing %s state: %w", m.Name(), err)
	}
	return string(data), nil
}

// Deserialize loads a state from its serialized form.
func (m *Module) Deserialize(data string) (any, error) {
	if s, ok := m.ps.(Serializer); ok {
		return s.Deserialize(data)
	}
	var state any
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("deserializing %s state: %w", m.Name(), err)
	}
	return state, nil
}

// Copy produces an independent state value.
func (m *Module) Copy(state any) (any, error) {
	if c, ok := m.ps.(Copier); ok {
		return c.Copy(state)
	}
	data, err := m.Serialize(state)
	if err != nil {
		return nil, err
	}
	return m.Deserialize(data)
}

// Hash computes the divergence-detection hash of the state. The default is
// the structural hash over the serializable form, which clients reproduce.
func (m *Module) Hash(state any) (int64, error) {
	if h, ok := m.ps.(Hasher); ok {
		return h.Hash(state)
	}
	data, err := m.Serialize(state)
	if err != nil {
		return 0, err
	}
	var shaped any
	if err := json.Unmarshal([]byte(data), &shaped); err != nil {
		return 0, fmt.Errorf("hashing %s state: %w", m.Name(), err)
	}
	return StructuralHash(shaped), nil
}

// CommandLimit returns the per-window cap for the verb and whether the verb
// is accepted at all.
func (m *Module) CommandLimit(verb string) (int, bool) {
	limit, ok := m.commandLimits[verb]
	return limit, ok
}

// MaxArgBytes caps a command argument's length.
func (m *Module) MaxArgBytes() int { return m.maxArgBytes }

// MaxInputBytes caps a frame input string's length.
func (m *Module) MaxInputBytes() int { return m.maxInputBytes }

// Registry holds the playsets available to a server. Registration happens at
// process startup; the registry is read-only afterwards and safe for
// concurrent lookups.
type Registry struct {
	modules map[string]*Module
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]*Module)}
}

// Register resolves the playset's optional capabilities and adds it under
// its name. Duplicate names are rejected.
func (r *Registry) Register(ps Playset) error {
	name := ps.Name()
	if name == "" {
		return fmt.Errorf("playset has empty name")
	}
	if _, exists := r.modules[name]; exists {
		return fmt.Errorf("playset %q already registered", name)
	}

	m := &Module{
		ps:            ps,
		maxArgBytes:   defaultMaxArgBytes,
		maxInputBytes: defaultMaxInputBytes,
	}
	if cp, ok := ps.(CommandPolicy); ok {
		m.commandLimits = cp.CommandLimits()
		if max := cp.MaxArgBytes(); max > 0 {
			m.maxArgBytes = max
		}
	}
	if ip, ok := ps.(InputPolicy); ok {
		if max := ip.MaxInputBytes(); max > 0 {
			m.maxInputBytes = max
		}
	}

	r.modules[name] = m
	return nil
}

// Get looks up a registered module by name.
func (r *Registry) Get(name string) (*Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// Names returns the registered playset names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
