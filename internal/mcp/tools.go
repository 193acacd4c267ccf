package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rohankatakam/impactgraph/internal/docissues"
	"github.com/rohankatakam/impactgraph/internal/models"
	"github.com/rohankatakam/impactgraph/internal/pipeline"
	"github.com/rohankatakam/impactgraph/internal/service"
)

// Arguments structs

type AnalyzeFilesArgs struct {
	Repo       string   `json:"repo,omitempty" jsonschema:"Repository the paths belong to, as owner/name"`
	Files      []string `json:"files" jsonschema:"Changed file paths relative to the repository root"`
	Identifier string   `json:"identifier,omitempty" jsonschema:"Change identifier; derived from repo and files when empty"`
	Title      string   `json:"title,omitempty" jsonschema:"Short change title"`
}

type AnalyzeDiffArgs struct {
	Repo       string `json:"repo,omitempty" jsonschema:"Repository the diff applies to, as owner/name"`
	Patch      string `json:"patch" jsonschema:"Unified diff text"`
	Identifier string `json:"identifier,omitempty" jsonschema:"Change identifier; derived when empty"`
}

type AnalyzePullRequestArgs struct {
	Repo   string `json:"repo" jsonschema:"GitHub repository as owner/name"`
	Number int    `json:"number" jsonschema:"Pull request number"`
}

type ImpactOfArgs struct {
	ComponentIDs []string `json:"component_ids,omitempty" jsonschema:"Component ids or aliases to start from"`
	ArtifactIDs  []string `json:"artifact_ids,omitempty" jsonschema:"Artifact ids to start from"`
}

type ChatComplaintArgs struct {
	ThreadID     string   `json:"thread_id" jsonschema:"Thread timestamp of the complaint"`
	Channel      string   `json:"channel,omitempty" jsonschema:"Channel id"`
	Text         string   `json:"text,omitempty" jsonschema:"Complaint text; read from the thread when empty"`
	ComponentIDs []string `json:"component_ids,omitempty" jsonschema:"Components the complaint is known to concern"`
	APIIDs       []string `json:"api_ids,omitempty" jsonschema:"APIs the complaint is known to concern"`
	Permalink    string   `json:"permalink,omitempty" jsonschema:"Link to the thread"`
}

type ListDocIssuesArgs struct {
	Repo         string `json:"repo,omitempty" jsonschema:"Only issues of this repository"`
	State        string `json:"state,omitempty" jsonschema:"open, resolved or closed"`
	MinSeverity  string `json:"min_severity,omitempty" jsonschema:"low, medium or high"`
	ComponentID  string `json:"component_id,omitempty" jsonschema:"Only issues touching this component"`
	LinkedChange string `json:"linked_change,omitempty" jsonschema:"Only issues linked to this change identifier"`
	Limit        int    `json:"limit,omitempty" jsonschema:"Maximum number of issues to return"`
}

type SetDocIssueStateArgs struct {
	ID    string `json:"id" jsonschema:"Doc issue id"`
	State string `json:"state" jsonschema:"open, resolved or closed"`
}

type GetHealthArgs struct {
	MaxEvents int `json:"max_events,omitempty" jsonschema:"Number of recent impact events to include (default 10)"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "analyze_files",
		Description: "Analyzes a change given as file paths: maps files to components and reports impacted components, APIs, services and docs. Files doc issues and records an impact event.",
	}, s.analyzeFiles)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "analyze_diff",
		Description: "Analyzes a unified diff the same way analyze_files does",
	}, s.analyzeDiff)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "analyze_pull_request",
		Description: "Fetches a GitHub pull request and analyzes its impact",
	}, s.analyzePullRequest)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "impact_of",
		Description: "Reports what depends on the given components or artifacts. Read-only: nothing is recorded.",
	}, s.impactOf)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "process_chat_complaint",
		Description: "Matches a chat complaint to components and recent commits and reports the impact",
	}, s.processChatComplaint)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_doc_issues",
		Description: "Lists documentation issues, optionally filtered",
	}, s.listDocIssues)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_doc_issue_state",
		Description: "Moves a documentation issue to open, resolved or closed",
	}, s.setDocIssueState)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_health",
		Description: "Returns graph statistics, doc issue counts, ingestion cursors and recent impact events",
	}, s.getHealth)
}

func (s *Server) analyzeFiles(ctx context.Context, req *mcp.CallToolRequest, args AnalyzeFilesArgs) (*mcp.CallToolResult, any, error) {
	res, err := s.svc.ProcessFiles(ctx, service.FilesRequest{
		Repo:       args.Repo,
		Files:      args.Files,
		Identifier: args.Identifier,
		Title:      args.Title,
	})
	return s.pipelineResult(res, err)
}

func (s *Server) analyzeDiff(ctx context.Context, req *mcp.CallToolRequest, args AnalyzeDiffArgs) (*mcp.CallToolResult, any, error) {
	res, err := s.svc.ProcessDiff(ctx, args.Repo, args.Patch, args.Identifier)
	return s.pipelineResult(res, err)
}

func (s *Server) analyzePullRequest(ctx context.Context, req *mcp.CallToolRequest, args AnalyzePullRequestArgs) (*mcp.CallToolResult, any, error) {
	res, err := s.svc.ProcessPullRequest(ctx, args.Repo, args.Number)
	return s.pipelineResult(res, err)
}

func (s *Server) impactOf(ctx context.Context, req *mcp.CallToolRequest, args ImpactOfArgs) (*mcp.CallToolResult, any, error) {
	report, err := s.svc.ImpactOf(ctx, args.ComponentIDs, args.ArtifactIDs)
	if err != nil {
		return errorResult(fmt.Sprintf("Impact query failed: %v", err)), nil, nil
	}
	return jsonResult(report), nil, nil
}

func (s *Server) processChatComplaint(ctx context.Context, req *mcp.CallToolRequest, args ChatComplaintArgs) (*mcp.CallToolResult, any, error) {
	res, err := s.svc.ProcessChatComplaint(ctx, &models.ChatComplaint{
		ThreadID:     args.ThreadID,
		Channel:      args.Channel,
		Text:         args.Text,
		ComponentIDs: args.ComponentIDs,
		APIIDs:       args.APIIDs,
		Permalink:    args.Permalink,
	})
	return s.pipelineResult(res, err)
}

func (s *Server) listDocIssues(ctx context.Context, req *mcp.CallToolRequest, args ListDocIssuesArgs) (*mcp.CallToolResult, any, error) {
	f := docissues.Filter{
		Repo:         args.Repo,
		State:        models.IssueState(strings.ToLower(args.State)),
		MinSeverity:  models.Severity(strings.ToLower(args.MinSeverity)),
		ComponentID:  args.ComponentID,
		LinkedChange: args.LinkedChange,
		Limit:        args.Limit,
	}
	if f.State != "" && !f.State.Valid() {
		return errorResult(fmt.Sprintf("Invalid state %q: use open, resolved or closed", args.State)), nil, nil
	}
	issues, err := s.svc.ListDocIssues(ctx, f)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to list doc issues: %v", err)), nil, nil
	}
	return jsonResult(map[string]any{"count": len(issues), "issues": issues}), nil, nil
}

func (s *Server) setDocIssueState(ctx context.Context, req *mcp.CallToolRequest, args SetDocIssueStateArgs) (*mcp.CallToolResult, any, error) {
	issue, err := s.svc.SetDocIssueState(ctx, args.ID, models.IssueState(strings.ToLower(args.State)))
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to update %s: %v", args.ID, err)), nil, nil
	}
	return jsonResult(issue), nil, nil
}

func (s *Server) getHealth(ctx context.Context, req *mcp.CallToolRequest, args GetHealthArgs) (*mcp.CallToolResult, any, error) {
	maxEvents := args.MaxEvents
	if maxEvents <= 0 {
		maxEvents = 10
	}
	return jsonResult(s.svc.GetHealth(ctx, maxEvents)), nil, nil
}

// pipelineResult reports failures as tool errors so the client sees them
func (s *Server) pipelineResult(res *pipeline.Result, err error) (*mcp.CallToolResult, any, error) {
	if err != nil {
		s.logger.Debug("tool call failed", "error", err)
		return errorResult(fmt.Sprintf("Analysis failed: %v", err)), nil, nil
	}
	issues := res.Issues
	if issues == nil {
		issues = []models.DocIssue{}
	}
	return jsonResult(map[string]any{
		"report":     res.Report,
		"doc_issues": issues,
		"notified":   res.Notified,
	}), nil, nil
}
