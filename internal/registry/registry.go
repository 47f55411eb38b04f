// Package registry maintains the per-session table of agent instances.
// Each session owns its own registry, so the same persona template can
// be loaded into two concurrent sessions without a name clash: effective
// names carry a session-scoped disambiguation suffix.
//
// All public methods are safe for concurrent use.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/troupe-sim/troupe/internal/models"
)

var (
	// ErrNameConflict reports that two agents would collide even after
	// suffixing. This is a defensive invariant; it should not occur
	// under correct suffixing.
	ErrNameConflict = errors.New("agent name conflict")

	// ErrAgentNotFound reports a lookup for an unregistered agent.
	ErrAgentNotFound = errors.New("agent not found")
)

// suffixLen is how many characters of the session id go into the
// disambiguation suffix.
const suffixLen = 8

// Registry is the per-session agent table.
type Registry struct {
	mu     sync.RWMutex
	suffix string
	agents map[string]*models.AgentInstance
	order  []string // registration order, for stable participant listing
	// perTemplate counts loads of each template ref within this session,
	// so repeat loads get an ordinal rather than a conflict.
	perTemplate map[string]int
}

// New creates a registry for the given session. The disambiguation
// suffix is derived from the session id.
func New(sessionID string) *Registry {
	suffix := sessionID
	if len(suffix) > suffixLen {
		suffix = suffix[:suffixLen]
	}
	return &Registry{
		suffix:      suffix,
		agents:      make(map[string]*models.AgentInstance),
		perTemplate: make(map[string]int),
	}
}

// Load registers a new agent instance for the template and returns a
// copy of it. The effective name is "<template name>#<suffix>" for the
// first load of a template and "<template name>#<suffix>-<n>" for
// repeats, so a template can be loaded several times into one session.
func (r *Registry) Load(tmpl models.PersonaTemplate) (models.AgentInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.perTemplate[tmpl.Ref]++
	name := fmt.Sprintf("%s#%s", tmpl.Name, r.suffix)
	if n := r.perTemplate[tmpl.Ref]; n > 1 {
		name = fmt.Sprintf("%s-%d", name, n)
	}

	if _, exists := r.agents[name]; exists {
		return models.AgentInstance{}, fmt.Errorf("%w: %q", ErrNameConflict, name)
	}

	agent := &models.AgentInstance{
		Name:      name,
		Template:  tmpl,
		Lifecycle: models.AgentLoaded,
	}
	r.agents[name] = agent
	r.order = append(r.order, name)
	return agent.Clone(), nil
}

// Get returns a copy of the named agent.
func (r *Registry) Get(name string) (models.AgentInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[name]
	if !ok {
		return models.AgentInstance{}, fmt.Errorf("%w: %q", ErrAgentNotFound, name)
	}
	return agent.Clone(), nil
}

// Memory returns a copy of the named agent's interaction log.
func (r *Registry) Memory(name string) ([]models.MemoryEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAgentNotFound, name)
	}
	cp := make([]models.MemoryEvent, len(agent.Memory))
	copy(cp, agent.Memory)
	return cp, nil
}

// Append adds events to the named agent's interaction log and marks the
// agent active. The log is append-only: events are never rewritten.
func (r *Registry) Append(name string, events ...models.MemoryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrAgentNotFound, name)
	}
	agent.Memory = append(agent.Memory, events...)
	if agent.Lifecycle == models.AgentLoaded {
		agent.Lifecycle = models.AgentActive
	}
	return nil
}

// Names returns agent names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp := make([]string, len(r.order))
	copy(cp, r.order)
	return cp
}

// Subset returns the requested agent names in registration order, so a
// round over a subset applies results in the same order a full round
// would. Unknown names are an error.
func (r *Registry) Subset(names []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := r.agents[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrAgentNotFound, name)
		}
		want[name] = true
	}

	subset := make([]string, 0, len(want))
	for _, name := range r.order {
		if want[name] {
			subset = append(subset, name)
		}
	}
	return subset, nil
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.agents)
}

// All returns copies of every agent in registration order. Snapshots
// rely on this: restoring one must reproduce the original order, or a
// replayed round would apply turns in a different sequence.
func (r *Registry) All() []models.AgentInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]models.AgentInstance, 0, len(r.order))
	for _, name := range r.order {
		agents = append(agents, r.agents[name].Clone())
	}
	return agents
}

// Replace swaps the registry contents for the agents in a restored
// snapshot, discarding anything registered since. Registration order
// follows the snapshot's agent order.
func (r *Registry) Replace(agents []models.AgentInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.agents = make(map[string]*models.AgentInstance, len(agents))
	r.order = r.order[:0]
	r.perTemplate = make(map[string]int)
	for _, a := range agents {
		cp := a.Clone()
		r.agents[cp.Name] = &cp
		r.order = append(r.order, cp.Name)
		r.perTemplate[cp.Template.Ref]++
	}
}

// RetireAll marks every agent retired. Called at session end; retired
// agents are kept so earlier checkpoints stay restorable.
func (r *Registry) RetireAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.agents {
		a.Lifecycle = models.AgentRetired
	}
}
