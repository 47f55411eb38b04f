package mcp

import (
	"context"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/troupe-sim/troupe/internal/models"
	"github.com/troupe-sim/troupe/internal/ratelimit"
)

// registerTools registers all troupe MCP tools with the server.
func (s *Server) registerTools() error {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "troupe_begin_session",
		Description: "Start a new isolated simulation session",
	}, s.handleBeginSession)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "troupe_load_agent",
		Description: "Instantiate a persona template as an agent in a session",
	}, s.handleLoadAgent)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "troupe_run_round",
		Description: "Broadcast a stimulus to a session's agents (optionally a named subset) and collect their actions",
	}, s.handleRunRound)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "troupe_checkpoint",
		Description: "Quiesce a session and persist a restorable snapshot of its state",
	}, s.handleCheckpoint)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "troupe_restore",
		Description: "Replace a session's live state with a previously written checkpoint",
	}, s.handleRestore)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "troupe_end_session",
		Description: "Terminate a session, draining in-flight work within the grace period",
	}, s.handleEndSession)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "troupe_extract",
		Description: "Extract declared fields from each agent and aggregate population statistics",
	}, s.handleExtract)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "troupe_sessions",
		Description: "List all known sessions",
	}, s.handleSessions)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "troupe_checkpoints",
		Description: "List a session's checkpoints in sequence order",
	}, s.handleCheckpoints)

	return nil
}

func (s *Server) handleBeginSession(ctx context.Context, req *sdk.CallToolRequest, args BeginSessionInput) (*sdk.CallToolResult, BeginSessionOutput, error) {
	if err := ratelimit.CheckLimit(s.toolLimiters, "troupe_begin_session"); err != nil {
		return nil, BeginSessionOutput{}, err
	}

	info, err := s.controller.BeginSession(ctx, models.SessionConfig{Name: args.Name})
	if err != nil {
		return nil, BeginSessionOutput{}, err
	}
	return nil, BeginSessionOutput{Session: toSessionSummary(info)}, nil
}

func (s *Server) handleLoadAgent(ctx context.Context, req *sdk.CallToolRequest, args LoadAgentInput) (*sdk.CallToolResult, LoadAgentOutput, error) {
	if err := ratelimit.CheckLimit(s.toolLimiters, "troupe_load_agent"); err != nil {
		return nil, LoadAgentOutput{}, err
	}
	if args.SessionID == "" {
		return nil, LoadAgentOutput{}, fmt.Errorf("'session_id' parameter is required")
	}
	if args.Ref == "" || args.Name == "" {
		return nil, LoadAgentOutput{}, fmt.Errorf("'ref' and 'name' parameters are required")
	}

	agent, err := s.controller.LoadAgent(ctx, args.SessionID, models.PersonaTemplate{
		Ref:         args.Ref,
		Name:        args.Name,
		Description: args.Description,
		Persona:     args.Persona,
	})
	if err != nil {
		return nil, LoadAgentOutput{}, err
	}
	return nil, LoadAgentOutput{Agent: agent.Name, Lifecycle: string(agent.Lifecycle)}, nil
}

func (s *Server) handleRunRound(ctx context.Context, req *sdk.CallToolRequest, args RunRoundInput) (*sdk.CallToolResult, RunRoundOutput, error) {
	if err := ratelimit.CheckLimit(s.toolLimiters, "troupe_run_round"); err != nil {
		return nil, RunRoundOutput{}, err
	}
	if args.SessionID == "" {
		return nil, RunRoundOutput{}, fmt.Errorf("'session_id' parameter is required")
	}
	if args.Stimulus == "" {
		return nil, RunRoundOutput{}, fmt.Errorf("'stimulus' parameter is required")
	}

	result, err := s.controller.RunRound(ctx, args.SessionID, args.Stimulus, args.Participants...)
	if err != nil {
		return nil, RunRoundOutput{}, err
	}

	out := RunRoundOutput{Round: result.Round, FailedTurns: result.FailedTurns()}
	for _, turn := range result.Turns {
		out.Turns = append(out.Turns, TurnSummary{
			Agent:    turn.Agent,
			Status:   string(turn.Status),
			Action:   turn.Action,
			Error:    turn.Error,
			Attempts: turn.Attempts,
		})
	}
	return nil, out, nil
}

func (s *Server) handleCheckpoint(ctx context.Context, req *sdk.CallToolRequest, args CheckpointInput) (*sdk.CallToolResult, CheckpointOutput, error) {
	if err := ratelimit.CheckLimit(s.toolLimiters, "troupe_checkpoint"); err != nil {
		return nil, CheckpointOutput{}, err
	}
	if args.SessionID == "" {
		return nil, CheckpointOutput{}, fmt.Errorf("'session_id' parameter is required")
	}

	meta, err := s.controller.Checkpoint(ctx, args.SessionID, args.Label)
	if err != nil {
		return nil, CheckpointOutput{}, err
	}
	return nil, CheckpointOutput{
		CheckpointID: meta.ID,
		Seq:          meta.Seq,
		Label:        meta.Label,
		CreatedAt:    meta.CreatedAt,
	}, nil
}

func (s *Server) handleRestore(ctx context.Context, req *sdk.CallToolRequest, args RestoreInput) (*sdk.CallToolResult, RestoreOutput, error) {
	if err := ratelimit.CheckLimit(s.toolLimiters, "troupe_restore"); err != nil {
		return nil, RestoreOutput{}, err
	}
	if args.SessionID == "" || args.CheckpointID == "" {
		return nil, RestoreOutput{}, fmt.Errorf("'session_id' and 'checkpoint_id' parameters are required")
	}

	info, err := s.controller.Restore(ctx, args.SessionID, args.CheckpointID)
	if err != nil {
		return nil, RestoreOutput{}, err
	}
	return nil, RestoreOutput{Session: toSessionSummary(info)}, nil
}

func (s *Server) handleEndSession(ctx context.Context, req *sdk.CallToolRequest, args EndSessionInput) (*sdk.CallToolResult, EndSessionOutput, error) {
	if err := ratelimit.CheckLimit(s.toolLimiters, "troupe_end_session"); err != nil {
		return nil, EndSessionOutput{}, err
	}
	if args.SessionID == "" {
		return nil, EndSessionOutput{}, fmt.Errorf("'session_id' parameter is required")
	}

	info, err := s.controller.EndSession(ctx, args.SessionID)
	if err != nil {
		return nil, EndSessionOutput{}, err
	}
	return nil, EndSessionOutput{Session: toSessionSummary(info)}, nil
}

func (s *Server) handleExtract(ctx context.Context, req *sdk.CallToolRequest, args ExtractInput) (*sdk.CallToolResult, ExtractOutput, error) {
	if err := ratelimit.CheckLimit(s.toolLimiters, "troupe_extract"); err != nil {
		return nil, ExtractOutput{}, err
	}
	if args.SessionID == "" {
		return nil, ExtractOutput{}, fmt.Errorf("'session_id' parameter is required")
	}
	if args.Objective == "" {
		return nil, ExtractOutput{}, fmt.Errorf("'objective' parameter is required")
	}
	if len(args.Fields) == 0 {
		return nil, ExtractOutput{}, fmt.Errorf("at least one field is required")
	}

	job := models.ExtractionJob{Objective: args.Objective}
	for _, f := range args.Fields {
		job.Fields = append(job.Fields, models.FieldSpec{
			Name:     f.Name,
			Type:     models.FieldType(f.Type),
			Hint:     f.Hint,
			Required: f.Required,
		})
	}

	var (
		result models.ExtractionResult
		err    error
	)
	if args.CheckpointID != "" {
		result, err = s.controller.ExtractCheckpoint(ctx, args.SessionID, args.CheckpointID, job)
	} else {
		result, err = s.controller.Extract(ctx, args.SessionID, job)
	}
	if err != nil {
		return nil, ExtractOutput{}, err
	}
	return nil, ExtractOutput{Result: result}, nil
}

func (s *Server) handleSessions(ctx context.Context, req *sdk.CallToolRequest, args SessionsInput) (*sdk.CallToolResult, SessionsOutput, error) {
	if err := ratelimit.CheckLimit(s.toolLimiters, "troupe_sessions"); err != nil {
		return nil, SessionsOutput{}, err
	}

	infos := s.controller.ListSessions(ctx)
	out := SessionsOutput{Count: len(infos)}
	for _, info := range infos {
		out.Sessions = append(out.Sessions, toSessionSummary(info))
	}
	return nil, out, nil
}

func (s *Server) handleCheckpoints(ctx context.Context, req *sdk.CallToolRequest, args CheckpointsInput) (*sdk.CallToolResult, CheckpointsOutput, error) {
	if err := ratelimit.CheckLimit(s.toolLimiters, "troupe_checkpoints"); err != nil {
		return nil, CheckpointsOutput{}, err
	}
	if args.SessionID == "" {
		return nil, CheckpointsOutput{}, fmt.Errorf("'session_id' parameter is required")
	}

	metas, err := s.controller.ListCheckpoints(ctx, args.SessionID)
	if err != nil {
		return nil, CheckpointsOutput{}, err
	}

	out := CheckpointsOutput{Count: len(metas)}
	for _, meta := range metas {
		out.Checkpoints = append(out.Checkpoints, CheckpointOutput{
			CheckpointID: meta.ID,
			Seq:          meta.Seq,
			Label:        meta.Label,
			CreatedAt:    meta.CreatedAt,
		})
	}
	return nil, out, nil
}
