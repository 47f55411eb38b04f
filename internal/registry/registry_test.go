package registry

import (
	"errors"
	"strings"
	"testing"

	"github.com/troupe-sim/troupe/internal/models"
)

func tmpl(ref, name string) models.PersonaTemplate {
	return models.PersonaTemplate{Ref: ref, Name: name}
}

func TestLoadDerivesSuffixedName(t *testing.T) {
	r := New("0123456789abcdef")

	agent, err := r.Load(tmpl("t-alice", "Alice"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if agent.Name != "Alice#01234567" {
		t.Errorf("name = %q, want %q", agent.Name, "Alice#01234567")
	}
	if agent.Lifecycle != models.AgentLoaded {
		t.Errorf("lifecycle = %q, want loaded", agent.Lifecycle)
	}
}

func TestLoadSameTemplateTwiceGetsOrdinal(t *testing.T) {
	r := New("0123456789abcdef")

	first, _ := r.Load(tmpl("t-alice", "Alice"))
	second, err := r.Load(tmpl("t-alice", "Alice"))
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if first.Name == second.Name {
		t.Fatalf("repeat load produced the same name %q", first.Name)
	}
	if !strings.HasSuffix(second.Name, "-2") {
		t.Errorf("second name = %q, want ordinal suffix", second.Name)
	}
}

func TestDifferentSessionsNoCollision(t *testing.T) {
	a := New("aaaaaaaa-session")
	b := New("bbbbbbbb-session")

	agentA, _ := a.Load(tmpl("t-alice", "Alice"))
	agentB, _ := b.Load(tmpl("t-alice", "Alice"))
	if agentA.Name == agentB.Name {
		t.Errorf("same template in two sessions produced identical names %q", agentA.Name)
	}
}

func TestGetUnknownAgent(t *testing.T) {
	r := New("session-1")

	_, err := r.Get("nobody")
	if !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("err = %v, want ErrAgentNotFound", err)
	}
}

func TestAppendActivatesAndAccumulates(t *testing.T) {
	r := New("session-1")
	agent, _ := r.Load(tmpl("t-alice", "Alice"))

	events := []models.MemoryEvent{
		{Round: 1, Seq: 0, Kind: models.EventStimulus, Content: "hello"},
		{Round: 1, Seq: 1, Kind: models.EventAction, Content: "hi there"},
	}
	if err := r.Append(agent.Name, events...); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := r.Get(agent.Name)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Lifecycle != models.AgentActive {
		t.Errorf("lifecycle = %q, want active", got.Lifecycle)
	}

	memory, _ := r.Memory(agent.Name)
	if len(memory) != 2 {
		t.Fatalf("len(memory) = %d, want 2", len(memory))
	}
	if memory[0].Kind != models.EventStimulus || memory[1].Kind != models.EventAction {
		t.Errorf("memory order = [%s, %s]", memory[0].Kind, memory[1].Kind)
	}
}

func TestMemoryReturnsCopy(t *testing.T) {
	r := New("session-1")
	agent, _ := r.Load(tmpl("t-alice", "Alice"))
	r.Append(agent.Name, models.MemoryEvent{Round: 1, Kind: models.EventAction, Content: "original"})

	memory, _ := r.Memory(agent.Name)
	memory[0].Content = "mutated"

	again, _ := r.Memory(agent.Name)
	if again[0].Content != "original" {
		t.Error("Memory must return a copy, not the live slice")
	}
}

func TestNamesInRegistrationOrder(t *testing.T) {
	r := New("session-1")
	a, _ := r.Load(tmpl("t-zoe", "Zoe"))
	b, _ := r.Load(tmpl("t-alice", "Alice"))

	names := r.Names()
	if len(names) != 2 || names[0] != a.Name || names[1] != b.Name {
		t.Errorf("Names = %v, want registration order [%s %s]", names, a.Name, b.Name)
	}
}

func TestSubsetKeepsRegistrationOrder(t *testing.T) {
	r := New("session-1")
	a, _ := r.Load(tmpl("t-a", "Ada"))
	b, _ := r.Load(tmpl("t-b", "Ben"))
	c, _ := r.Load(tmpl("t-c", "Cam"))

	subset, err := r.Subset([]string{c.Name, a.Name})
	if err != nil {
		t.Fatalf("Subset failed: %v", err)
	}
	if len(subset) != 2 || subset[0] != a.Name || subset[1] != c.Name {
		t.Errorf("Subset = %v, want [%s %s]", subset, a.Name, c.Name)
	}

	if _, err := r.Subset([]string{b.Name, "Ghost#0000"}); err == nil {
		t.Error("expected error for unknown name")
	}
}

func TestReplaceRestoresAgentSet(t *testing.T) {
	r := New("session-1")
	alice, _ := r.Load(tmpl("t-alice", "Alice"))
	r.Append(alice.Name, models.MemoryEvent{Round: 1, Kind: models.EventAction, Content: "kept"})
	snapshot := r.All()

	// Mutate past the snapshot point.
	r.Append(alice.Name, models.MemoryEvent{Round: 2, Kind: models.EventAction, Content: "discarded"})
	r.Load(tmpl("t-bob", "Bob"))

	r.Replace(snapshot)

	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	memory, err := r.Memory(alice.Name)
	if err != nil {
		t.Fatalf("Memory failed: %v", err)
	}
	if len(memory) != 1 || memory[0].Content != "kept" {
		t.Errorf("memory = %+v, want the single pre-snapshot event", memory)
	}

	// Template bookkeeping is rebuilt: a fresh load of the same template
	// gets an ordinal, not a conflict.
	if _, err := r.Load(tmpl("t-alice", "Alice")); err != nil {
		t.Errorf("Load after Replace failed: %v", err)
	}
}

func TestSnapshotRoundTripKeepsRegistrationOrder(t *testing.T) {
	r := New("session-1")
	zoe, _ := r.Load(tmpl("t-zoe", "Zoe"))
	alice, _ := r.Load(tmpl("t-alice", "Alice"))

	snap := models.NewSnapshot(3, r.All())
	data, err := snap.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := models.DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}
	r.Replace(decoded.Agents)

	names := r.Names()
	if len(names) != 2 || names[0] != zoe.Name || names[1] != alice.Name {
		t.Errorf("Names after restore = %v, want registration order [%s %s]",
			names, zoe.Name, alice.Name)
	}
}

func TestRetireAll(t *testing.T) {
	r := New("session-1")
	r.Load(tmpl("t-alice", "Alice"))
	r.Load(tmpl("t-bob", "Bob"))

	r.RetireAll()

	for _, a := range r.All() {
		if a.Lifecycle != models.AgentRetired {
			t.Errorf("agent %s lifecycle = %q, want retired", a.Name, a.Lifecycle)
		}
	}
}
