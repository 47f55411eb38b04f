package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/troupe-sim/troupe/internal/models"
)

// fakeController records the scenario runner's calls.
type fakeController struct {
	loaded      []models.PersonaTemplate
	rounds      []string
	roundScopes [][]string
	checkpoints []string
	extracted   []models.ExtractionJob
	ended       bool

	roundErr error
}

func (f *fakeController) BeginSession(_ context.Context, cfg models.SessionConfig) (models.SessionInfo, error) {
	return models.SessionInfo{ID: "sess-1", Name: cfg.Name, State: models.SessionActive}, nil
}

func (f *fakeController) LoadAgent(_ context.Context, _ string, tmpl models.PersonaTemplate) (models.AgentInstance, error) {
	f.loaded = append(f.loaded, tmpl)
	return models.AgentInstance{Name: tmpl.Name, Template: tmpl}, nil
}

func (f *fakeController) RunRound(_ context.Context, _ string, stimulus string, participants ...string) (models.RoundResult, error) {
	if f.roundErr != nil {
		return models.RoundResult{}, f.roundErr
	}
	f.rounds = append(f.rounds, stimulus)
	f.roundScopes = append(f.roundScopes, participants)
	return models.RoundResult{Round: len(f.rounds), Stimulus: stimulus}, nil
}

func (f *fakeController) Checkpoint(_ context.Context, _ string, label string) (models.CheckpointMeta, error) {
	f.checkpoints = append(f.checkpoints, label)
	return models.CheckpointMeta{ID: "cp-1", Seq: len(f.checkpoints), Label: label}, nil
}

func (f *fakeController) Extract(_ context.Context, _ string, job models.ExtractionJob) (models.ExtractionResult, error) {
	f.extracted = append(f.extracted, job)
	return models.ExtractionResult{Objective: job.Objective}, nil
}

func (f *fakeController) EndSession(_ context.Context, _ string) (models.SessionInfo, error) {
	f.ended = true
	return models.SessionInfo{ID: "sess-1", State: models.SessionEnded}, nil
}

func (f *fakeController) GetSession(_ context.Context, _ string) (models.SessionInfo, error) {
	return models.SessionInfo{ID: "sess-1", AgentCount: len(f.loaded)}, nil
}

func sampleScenario() *scenario {
	return &scenario{
		Name: "coffee-study",
		Templates: []models.PersonaTemplate{
			{Ref: "enthusiast", Name: "Alex", Persona: "Loves coffee."},
		},
		Agents: []scenarioAgent{{Template: "enthusiast", Count: 3}},
		Rounds: []scenarioRound{
			{Stimulus: "A new cafe opened. Thoughts?", Checkpoint: "first-impressions"},
			{Stimulus: "It sells only decaf."},
		},
		Extract: &models.ExtractionJob{
			Objective: "Gauge interest",
			Fields:    []models.FieldSpec{{Name: "interest", Type: models.FieldNumber}},
		},
	}
}

func TestValidateScenario(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*scenario)
		wantErr string
	}{
		{"valid", func(sc *scenario) {}, ""},
		{"no templates", func(sc *scenario) { sc.Templates = nil }, "no templates"},
		{"no agents", func(sc *scenario) { sc.Agents = nil }, "no agents"},
		{
			"template missing ref",
			func(sc *scenario) { sc.Templates[0].Ref = "" },
			"ref and name",
		},
		{
			"unknown template reference",
			func(sc *scenario) { sc.Agents[0].Template = "ghost" },
			"unknown template",
		},
		{
			"empty stimulus",
			func(sc *scenario) { sc.Rounds[1].Stimulus = "" },
			"no stimulus",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := sampleScenario()
			tt.mutate(sc)
			err := validateScenario(sc)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestRunScenarioDrivesFullLifecycle(t *testing.T) {
	fake := &fakeController{}

	if err := runScenario(context.Background(), fake, sampleScenario(), true); err != nil {
		t.Fatalf("runScenario failed: %v", err)
	}

	if len(fake.loaded) != 3 {
		t.Errorf("loaded %d agents, want 3 (count expansion)", len(fake.loaded))
	}
	if len(fake.rounds) != 2 {
		t.Errorf("ran %d rounds, want 2", len(fake.rounds))
	}
	if fake.rounds[0] != "A new cafe opened. Thoughts?" {
		t.Errorf("first stimulus = %q", fake.rounds[0])
	}
	if len(fake.checkpoints) != 1 || fake.checkpoints[0] != "first-impressions" {
		t.Errorf("checkpoints = %v, want the labeled one", fake.checkpoints)
	}
	if len(fake.extracted) != 1 || fake.extracted[0].Objective != "Gauge interest" {
		t.Errorf("extractions = %+v", fake.extracted)
	}
	if !fake.ended {
		t.Error("session must be ended after the run")
	}
}

func TestRunScenarioEndsSessionOnFailure(t *testing.T) {
	fake := &fakeController{roundErr: errors.New("engine down")}

	err := runScenario(context.Background(), fake, sampleScenario(), true)
	if err == nil {
		t.Fatal("expected round failure to propagate")
	}
	if !fake.ended {
		t.Error("session must be ended even when the run fails")
	}
}

func TestRunScenarioExpandsParticipantPersonas(t *testing.T) {
	sc := sampleScenario()
	sc.Templates = append(sc.Templates, models.PersonaTemplate{Ref: "skeptic", Name: "Sam"})
	sc.Agents = append(sc.Agents, scenarioAgent{Template: "skeptic", Count: 1})
	sc.Rounds = []scenarioRound{
		{Stimulus: "everyone weighs in"},
		{Stimulus: "skeptics only", Participants: []string{"Sam"}},
	}
	fake := &fakeController{}

	if err := runScenario(context.Background(), fake, sc, true); err != nil {
		t.Fatalf("runScenario failed: %v", err)
	}

	if len(fake.roundScopes[0]) != 0 {
		t.Errorf("round 1 scope = %v, want full broadcast", fake.roundScopes[0])
	}
	if len(fake.roundScopes[1]) != 1 || fake.roundScopes[1][0] != "Sam" {
		t.Errorf("round 2 scope = %v, want [Sam]", fake.roundScopes[1])
	}
}

func TestRunScenarioRejectsUnknownParticipant(t *testing.T) {
	sc := sampleScenario()
	sc.Rounds[0].Participants = []string{"Nobody"}
	fake := &fakeController{}

	if err := runScenario(context.Background(), fake, sc, true); err == nil {
		t.Fatal("expected error for unknown participant persona")
	}
	if !fake.ended {
		t.Error("session must be ended even when the run fails")
	}
}

func TestRunScenarioDefaultsAgentCount(t *testing.T) {
	sc := sampleScenario()
	sc.Agents[0].Count = 0
	fake := &fakeController{}

	if err := runScenario(context.Background(), fake, sc, true); err != nil {
		t.Fatalf("runScenario failed: %v", err)
	}
	if len(fake.loaded) != 1 {
		t.Errorf("loaded %d agents, want 1 (zero count defaults to 1)", len(fake.loaded))
	}
}
