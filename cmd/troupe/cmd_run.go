package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/troupe-sim/troupe/internal/models"
)

// scenario is the YAML description of a complete simulation run: the
// persona templates, the population drawn from them, the stimulus
// schedule, and an optional extraction job over the final state.
type scenario struct {
	Name      string                   `yaml:"name"`
	Templates []models.PersonaTemplate `yaml:"templates"`
	Agents    []scenarioAgent          `yaml:"agents"`
	Rounds    []scenarioRound          `yaml:"rounds"`
	Extract   *models.ExtractionJob    `yaml:"extract,omitempty"`
}

type scenarioAgent struct {
	Template string `yaml:"template"`
	Count    int    `yaml:"count,omitempty"`
}

type scenarioRound struct {
	Stimulus string `yaml:"stimulus"`
	// Participants restricts the broadcast to the named agents; empty
	// means every agent.
	Participants []string `yaml:"participants,omitempty"`
	// Checkpoint, when set, writes a labeled checkpoint after the round.
	Checkpoint string `yaml:"checkpoint,omitempty"`
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario: session, rounds, and extraction in one shot",
		Long: `Run a complete simulation scenario from a YAML file.

The scenario declares persona templates, the agent population, a
stimulus schedule with optional checkpoints, and an optional extraction
job. The session is always ended when the run finishes, successfully or
not.

Example scenario:

  name: coffee-study
  templates:
    - ref: enthusiast
      name: Alex
      persona: A coffee enthusiast who frequents specialty cafes.
  agents:
    - template: enthusiast
      count: 3
  rounds:
    - stimulus: "A new cafe opened nearby. What do you think?"
      checkpoint: first-impressions
    - stimulus: "How does it compare to your usual spot?"
      participants: [Alex]
  extract:
    objective: Gauge interest in the new cafe
    fields:
      - name: interest
        type: number
        hint: Interest level from 0 to 10
        required: true`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading scenario: %w", err)
			}
			var sc scenario
			if err := yaml.Unmarshal(data, &sc); err != nil {
				return fmt.Errorf("parsing scenario: %w", err)
			}
			if err := validateScenario(&sc); err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			controller, cleanup, err := buildController(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			return runScenario(cmd.Context(), controller, &sc, jsonOut)
		},
	}
}

func validateScenario(sc *scenario) error {
	if len(sc.Templates) == 0 {
		return fmt.Errorf("scenario declares no templates")
	}
	if len(sc.Agents) == 0 {
		return fmt.Errorf("scenario declares no agents")
	}
	byRef := make(map[string]bool, len(sc.Templates))
	for _, t := range sc.Templates {
		if t.Ref == "" || t.Name == "" {
			return fmt.Errorf("template needs both ref and name")
		}
		byRef[t.Ref] = true
	}
	for _, a := range sc.Agents {
		if !byRef[a.Template] {
			return fmt.Errorf("agent references unknown template %q", a.Template)
		}
	}
	for i, r := range sc.Rounds {
		if r.Stimulus == "" {
			return fmt.Errorf("round %d has no stimulus", i+1)
		}
	}
	return nil
}

type runReport struct {
	Session     models.SessionInfo       `json:"session"`
	Rounds      []models.RoundResult     `json:"rounds"`
	Checkpoints []models.CheckpointMeta  `json:"checkpoints,omitempty"`
	Extraction  *models.ExtractionResult `json:"extraction,omitempty"`
}

func runScenario(ctx context.Context, controller scenarioController, sc *scenario, jsonOut bool) error {
	info, err := controller.BeginSession(ctx, models.SessionConfig{Name: sc.Name})
	if err != nil {
		return err
	}
	// The session is ended no matter how the run goes; checkpoints and
	// cache entries survive for later inspection.
	defer controller.EndSession(context.Background(), info.ID)

	templates := make(map[string]models.PersonaTemplate, len(sc.Templates))
	for _, t := range sc.Templates {
		templates[t.Ref] = t
	}
	// Effective agent names carry a session suffix, so scenario rounds
	// address participants by persona name and the runner expands them.
	byPersona := make(map[string][]string)
	for _, a := range sc.Agents {
		count := a.Count
		if count < 1 {
			count = 1
		}
		tmpl := templates[a.Template]
		for i := 0; i < count; i++ {
			agent, err := controller.LoadAgent(ctx, info.ID, tmpl)
			if err != nil {
				return fmt.Errorf("loading agent from %q: %w", a.Template, err)
			}
			byPersona[tmpl.Name] = append(byPersona[tmpl.Name], agent.Name)
		}
	}

	report := runReport{}
	for _, r := range sc.Rounds {
		var participants []string
		for _, persona := range r.Participants {
			names, ok := byPersona[persona]
			if !ok {
				return fmt.Errorf("round participant %q matches no loaded persona", persona)
			}
			participants = append(participants, names...)
		}

		result, err := controller.RunRound(ctx, info.ID, r.Stimulus, participants...)
		if err != nil {
			return fmt.Errorf("round %d: %w", result.Round, err)
		}
		report.Rounds = append(report.Rounds, result)

		if r.Checkpoint != "" {
			meta, err := controller.Checkpoint(ctx, info.ID, r.Checkpoint)
			if err != nil {
				return fmt.Errorf("checkpoint %q: %w", r.Checkpoint, err)
			}
			report.Checkpoints = append(report.Checkpoints, meta)
		}
	}

	if sc.Extract != nil {
		result, err := controller.Extract(ctx, info.ID, *sc.Extract)
		if err != nil {
			return fmt.Errorf("extraction: %w", err)
		}
		report.Extraction = &result
	}

	report.Session, err = controller.GetSession(ctx, info.ID)
	if err != nil {
		report.Session = info
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(report)
	}
	printReport(&report)
	return nil
}

func printReport(report *runReport) {
	fmt.Printf("Session %s", report.Session.ID)
	if report.Session.Name != "" {
		fmt.Printf(" (%s)", report.Session.Name)
	}
	fmt.Printf(": %d agents, %d rounds\n\n", report.Session.AgentCount, len(report.Rounds))

	for _, r := range report.Rounds {
		fmt.Printf("Round %d: %s\n", r.Round, r.Stimulus)
		for _, t := range r.Turns {
			if t.Status == models.TurnOK {
				fmt.Printf("  %s: %s\n", t.Agent, t.Action)
			} else {
				fmt.Printf("  %s: FAILED after %d attempts (%s)\n", t.Agent, t.Attempts, t.Error)
			}
		}
		fmt.Println()
	}

	if len(report.Checkpoints) > 0 {
		fmt.Printf("Checkpoints (%d):\n", len(report.Checkpoints))
		for _, m := range report.Checkpoints {
			fmt.Printf("  %d. %s [%s]\n", m.Seq, m.ID, m.Label)
		}
		fmt.Println()
	}

	if report.Extraction != nil {
		ex := report.Extraction
		fmt.Printf("Extraction: %s\n", ex.Objective)
		fmt.Printf("  Valid records: %d of %d", ex.Aggregates.ValidCount, ex.Aggregates.Population)
		if ex.InvalidCount > 0 {
			fmt.Printf(" (%d invalid)", ex.InvalidCount)
		}
		fmt.Println()
		for name, st := range ex.Aggregates.Numeric {
			fmt.Printf("  %s: mean %.2f, stddev %.2f", name, st.Mean, st.StdDev)
			if st.CI95 != nil {
				fmt.Printf(", 95%% CI [%.2f, %.2f]", st.CI95.Low, st.CI95.High)
			}
			fmt.Println()
		}
		for name, st := range ex.Aggregates.Categories {
			fmt.Printf("  %s: %v\n", name, st.Counts)
		}
	}
}

// scenarioController is the slice of the controller the scenario runner
// needs, split out so the runner can be tested against a fake.
type scenarioController interface {
	BeginSession(ctx context.Context, cfg models.SessionConfig) (models.SessionInfo, error)
	LoadAgent(ctx context.Context, sessionID string, tmpl models.PersonaTemplate) (models.AgentInstance, error)
	RunRound(ctx context.Context, sessionID, stimulus string, participants ...string) (models.RoundResult, error)
	Checkpoint(ctx context.Context, sessionID, label string) (models.CheckpointMeta, error)
	Extract(ctx context.Context, sessionID string, job models.ExtractionJob) (models.ExtractionResult, error)
	EndSession(ctx context.Context, sessionID string) (models.SessionInfo, error)
	GetSession(ctx context.Context, sessionID string) (models.SessionInfo, error)
}
