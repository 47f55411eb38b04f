// Package extraction turns finished simulation state into structured
// records and population statistics. Each agent's interaction history is
// run through the behavior engine against a declared field schema;
// malformed results are counted and excluded rather than coerced.
package extraction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/troupe-sim/troupe/internal/engine"
	"github.com/troupe-sim/troupe/internal/models"
)

// ExtractionError wraps a pipeline-level failure (as opposed to a
// per-agent invalid record, which is part of the normal result).
type ExtractionError struct {
	Objective string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction %q: %v", e.Objective, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Pipeline runs extraction jobs against a population of agents.
type Pipeline struct {
	engine engine.Engine
	log    *slog.Logger
}

// NewPipeline creates an extraction pipeline on the given engine.
func NewPipeline(eng engine.Engine, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{engine: eng, log: log}
}

// Run extracts the job's fields from every agent and aggregates the
// valid records. An agent whose engine call fails, or whose record does
// not validate against the schema, lands in the invalid partition;
// len(Records) + InvalidCount always equals the population size.
// Aggregates are computed over valid records only.
func (p *Pipeline) Run(ctx context.Context, job models.ExtractionJob, sessionID string, agents []models.AgentInstance) (models.ExtractionResult, error) {
	if len(job.Fields) == 0 {
		return models.ExtractionResult{}, &ExtractionError{
			Objective: job.Objective, Err: fmt.Errorf("no fields declared"),
		}
	}

	result := models.ExtractionResult{Objective: job.Objective}

	for _, agent := range agents {
		if err := ctx.Err(); err != nil {
			return result, &ExtractionError{Objective: job.Objective, Err: err}
		}

		fields, err := p.engine.ExtractFields(ctx, engine.ExtractRequest{
			SessionID: sessionID,
			Agent:     agent.Name,
			Template:  agent.Template,
			Memory:    agent.Memory,
			Objective: job.Objective,
			Fields:    job.Fields,
		})
		if err != nil {
			p.log.Warn("extraction failed for agent",
				"session", sessionID, "agent", agent.Name, "error", err)
			result.Invalid = append(result.Invalid, models.InvalidRecord{
				Agent: agent.Name, Reason: err.Error(),
			})
			continue
		}

		if reason := validateRecord(job.Fields, fields); reason != "" {
			result.Invalid = append(result.Invalid, models.InvalidRecord{
				Agent: agent.Name, Reason: reason,
			})
			continue
		}

		result.Records = append(result.Records, models.AgentRecord{
			Agent: agent.Name, Fields: pruneUndeclared(job.Fields, fields),
		})
	}

	result.InvalidCount = len(result.Invalid)
	result.Aggregates = Aggregate(job, len(agents), result.Records)
	return result, nil
}

// validateRecord checks a raw field map against the schema. It returns
// an empty string for a valid record, or the first violation found.
func validateRecord(specs []models.FieldSpec, fields map[string]any) string {
	for _, spec := range specs {
		v, ok := fields[spec.Name]
		if !ok || v == nil {
			if spec.Required {
				return fmt.Sprintf("missing required field %q", spec.Name)
			}
			continue
		}

		switch spec.Type {
		case models.FieldNumber:
			if _, ok := asNumber(v); !ok {
				return fmt.Sprintf("field %q: expected number, got %T", spec.Name, v)
			}
		case models.FieldCategory:
			if _, ok := v.(string); !ok {
				return fmt.Sprintf("field %q: expected category string, got %T", spec.Name, v)
			}
		default:
			return fmt.Sprintf("field %q: unknown type %q", spec.Name, spec.Type)
		}
	}
	return ""
}

// pruneUndeclared drops fields the engine volunteered beyond the schema.
func pruneUndeclared(specs []models.FieldSpec, fields map[string]any) map[string]any {
	kept := make(map[string]any, len(specs))
	for _, spec := range specs {
		if v, ok := fields[spec.Name]; ok && v != nil {
			kept[spec.Name] = v
		}
	}
	return kept
}
