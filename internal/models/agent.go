package models

// AgentLifecycle is the lifecycle state of an agent within its session.
type AgentLifecycle string

const (
	// AgentLoaded has been registered but has not acted yet.
	AgentLoaded AgentLifecycle = "loaded"
	// AgentActive has taken at least one turn.
	AgentActive AgentLifecycle = "active"
	// AgentRetired belongs to an ended session. Retired agents are kept
	// (not deleted) so earlier checkpoints stay restorable.
	AgentRetired AgentLifecycle = "retired"
)

// PersonaTemplate is the immutable description an agent is instantiated
// from. The behavior engine renders it into the system portion of each
// act prompt.
type PersonaTemplate struct {
	Ref         string `json:"ref" yaml:"ref"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Persona is free-text personality/background material.
	Persona string `json:"persona,omitempty" yaml:"persona,omitempty"`
}

// MemoryEventKind classifies one entry in an agent's interaction log.
type MemoryEventKind string

const (
	// EventStimulus is something broadcast to the agent.
	EventStimulus MemoryEventKind = "stimulus"
	// EventAction is the agent's own utterance or action.
	EventAction MemoryEventKind = "action"
	// EventFailure records a turn whose act call exhausted retries.
	EventFailure MemoryEventKind = "failure"
)

// MemoryEvent is one entry in an agent's append-only interaction log.
// Events are ordered by (Round, Seq) and deliberately carry no wall-clock
// time: replaying a round against a warm cache must reproduce the log
// byte for byte.
type MemoryEvent struct {
	Round   int             `json:"round"`
	Seq     int             `json:"seq"`
	Kind    MemoryEventKind `json:"kind"`
	Content string          `json:"content"`
}

// AgentInstance is a named participant owned by exactly one session.
// Name is unique within the session: the registry derives it from the
// template name plus a session-scoped suffix.
type AgentInstance struct {
	Name      string          `json:"name"`
	Template  PersonaTemplate `json:"template"`
	Lifecycle AgentLifecycle  `json:"lifecycle"`
	Memory    []MemoryEvent   `json:"memory"`
}

// Clone returns a deep copy. Snapshots and introspection hand out clones
// so callers can never alias live session state.
func (a AgentInstance) Clone() AgentInstance {
	cp := a
	cp.Memory = make([]MemoryEvent, len(a.Memory))
	copy(cp.Memory, a.Memory)
	return cp
}
