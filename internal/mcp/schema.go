// Package mcp provides an MCP (Model Context Protocol) server for troupe.
package mcp

import (
	"time"

	"github.com/troupe-sim/troupe/internal/models"
)

// SessionSummary is the tool-facing view of a session.
type SessionSummary struct {
	ID              string    `json:"id"`
	Name            string    `json:"name,omitempty"`
	State           string    `json:"state"`
	CreatedAt       time.Time `json:"created_at"`
	RoundCounter    int       `json:"round_counter"`
	AgentCount      int       `json:"agent_count"`
	CheckpointCount int       `json:"checkpoint_count,omitempty"`
	CacheEntries    int       `json:"cache_entries,omitempty"`
}

func toSessionSummary(info models.SessionInfo) SessionSummary {
	return SessionSummary{
		ID:              info.ID,
		Name:            info.Name,
		State:           string(info.State),
		CreatedAt:       info.CreatedAt,
		RoundCounter:    info.RoundCounter,
		AgentCount:      info.AgentCount,
		CheckpointCount: info.CheckpointCount,
		CacheEntries:    info.CacheEntries,
	}
}

// BeginSessionInput defines the input for the troupe_begin_session tool.
type BeginSessionInput struct {
	Name string `json:"name,omitempty" jsonschema:"description=Optional human-readable session name (must be unique among live sessions)"`
}

// BeginSessionOutput defines the output for the troupe_begin_session tool.
type BeginSessionOutput struct {
	Session SessionSummary `json:"session" jsonschema:"description=The newly created session"`
}

// LoadAgentInput defines the input for the troupe_load_agent tool.
type LoadAgentInput struct {
	SessionID   string `json:"session_id" jsonschema:"description=Target session id,required"`
	Ref         string `json:"ref" jsonschema:"description=Stable identifier for the persona template,required"`
	Name        string `json:"name" jsonschema:"description=Persona display name,required"`
	Description string `json:"description,omitempty" jsonschema:"description=Short persona description"`
	Persona     string `json:"persona,omitempty" jsonschema:"description=Free-text personality and background material"`
}

// LoadAgentOutput defines the output for the troupe_load_agent tool.
type LoadAgentOutput struct {
	Agent     string `json:"agent" jsonschema:"description=Effective agent name (unique within the session)"`
	Lifecycle string `json:"lifecycle" jsonschema:"description=Agent lifecycle state"`
}

// RunRoundInput defines the input for the troupe_run_round tool.
type RunRoundInput struct {
	SessionID    string   `json:"session_id" jsonschema:"description=Target session id,required"`
	Stimulus     string   `json:"stimulus" jsonschema:"description=Stimulus broadcast this round,required"`
	Participants []string `json:"participants,omitempty" jsonschema:"description=Restrict the broadcast to these agent names; omit to address every agent"`
}

// TurnSummary is the tool-facing view of one agent's turn.
type TurnSummary struct {
	Agent    string `json:"agent"`
	Status   string `json:"status"`
	Action   string `json:"action,omitempty"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts"`
}

// RunRoundOutput defines the output for the troupe_run_round tool.
type RunRoundOutput struct {
	Round       int           `json:"round" jsonschema:"description=Round number within the session"`
	Turns       []TurnSummary `json:"turns" jsonschema:"description=Per-agent results in participant order"`
	FailedTurns int           `json:"failed_turns" jsonschema:"description=Number of turns that exhausted their retries"`
}

// CheckpointInput defines the input for the troupe_checkpoint tool.
type CheckpointInput struct {
	SessionID string `json:"session_id" jsonschema:"description=Target session id,required"`
	Label     string `json:"label,omitempty" jsonschema:"description=Optional checkpoint label"`
}

// CheckpointOutput defines the output for the troupe_checkpoint tool.
type CheckpointOutput struct {
	CheckpointID string    `json:"checkpoint_id" jsonschema:"description=ID of the new checkpoint"`
	Seq          int       `json:"seq" jsonschema:"description=Sequence number within the session"`
	Label        string    `json:"label,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RestoreInput defines the input for the troupe_restore tool.
type RestoreInput struct {
	SessionID    string `json:"session_id" jsonschema:"description=Target session id,required"`
	CheckpointID string `json:"checkpoint_id" jsonschema:"description=Checkpoint to restore from,required"`
}

// RestoreOutput defines the output for the troupe_restore tool.
type RestoreOutput struct {
	Session SessionSummary `json:"session" jsonschema:"description=Session state after the restore"`
}

// EndSessionInput defines the input for the troupe_end_session tool.
type EndSessionInput struct {
	SessionID string `json:"session_id" jsonschema:"description=Target session id,required"`
}

// EndSessionOutput defines the output for the troupe_end_session tool.
type EndSessionOutput struct {
	Session SessionSummary `json:"session" jsonschema:"description=Final session state"`
}

// ExtractFieldInput declares one field slot for extraction.
type ExtractFieldInput struct {
	Name     string `json:"name" jsonschema:"description=Field name,required"`
	Type     string `json:"type" jsonschema:"description=Field type: 'number' or 'category',required"`
	Hint     string `json:"hint,omitempty" jsonschema:"description=Guidance for how to extract this field"`
	Required bool   `json:"required,omitempty" jsonschema:"description=Whether a record missing this field is invalid"`
}

// ExtractInput defines the input for the troupe_extract tool.
type ExtractInput struct {
	SessionID    string              `json:"session_id" jsonschema:"description=Target session id,required"`
	CheckpointID string              `json:"checkpoint_id,omitempty" jsonschema:"description=Extract from this checkpoint instead of live session state"`
	Objective    string              `json:"objective" jsonschema:"description=What the extraction is measuring,required"`
	Fields       []ExtractFieldInput `json:"fields" jsonschema:"description=Field slots to extract per agent,required"`
}

// ExtractOutput defines the output for the troupe_extract tool.
type ExtractOutput struct {
	Result models.ExtractionResult `json:"result" jsonschema:"description=Records plus aggregate statistics over the valid population"`
}

// SessionsInput defines the input for the troupe_sessions tool.
type SessionsInput struct{}

// SessionsOutput defines the output for the troupe_sessions tool.
type SessionsOutput struct {
	Sessions []SessionSummary `json:"sessions" jsonschema:"description=All known sessions in creation order"`
	Count    int              `json:"count" jsonschema:"description=Number of sessions"`
}

// CheckpointsInput defines the input for the troupe_checkpoints tool.
type CheckpointsInput struct {
	SessionID string `json:"session_id" jsonschema:"description=Target session id,required"`
}

// CheckpointsOutput defines the output for the troupe_checkpoints tool.
type CheckpointsOutput struct {
	Checkpoints []CheckpointOutput `json:"checkpoints" jsonschema:"description=Checkpoints in sequence order"`
	Count       int                `json:"count" jsonschema:"description=Number of checkpoints"`
}
