package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/utilitywarehouse/proposal-mirror/proposal"
)

const (
	proposalURIScheme = "proposal://"
	markdownMIMEType  = "text/markdown"
)

func getProposalTool() mcp.Tool {
	return mcp.NewTool("get_proposal",
		mcp.WithDescription("Get a proposal by number including its front matter and full markdown body"),
		mcp.WithNumber("number",
			mcp.Required(),
			mcp.Description("Proposal number, ie 1559"),
		),
	)
}

func searchProposalsTool() mcp.Tool {
	return mcp.NewTool("search_proposals",
		mcp.WithDescription("Search proposals by keywords. Matches in title rank higher than matches in description and body"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Whitespace separated keywords"),
		),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum number of results, defaults to %d", proposal.DefaultSearchLimit)),
		),
	)
}

func listProposalsTool() mcp.Tool {
	return mcp.NewTool("list_proposals",
		mcp.WithDescription("List all proposals sorted by number"),
		mcp.WithString("status",
			mcp.Description("Only list proposals with this status, ie Draft, Review, Last Call, Final"),
		),
	)
}

func refreshRepositoryTool() mcp.Tool {
	return mcp.NewTool("refresh_repository",
		mcp.WithDescription("Fetch latest proposals from the remote repository and update the local copy. Returns once the update completed or failed, other tools keep serving the current copy meanwhile"),
	)
}

func proposalResourceTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		proposalURIScheme+"{number}",
		"proposal",
		mcp.WithTemplateDescription("Markdown document of the proposal with given number"),
		mcp.WithTemplateMIMEType(markdownMIMEType),
	)
}

func (h *handlers) getProposal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	number, err := req.RequireInt("number")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	p, err := h.proposals.Get(number)
	if err != nil {
		return h.toolError(fmt.Sprintf("unable to get proposal %d", number), err), nil
	}
	return textResult(p)
}

func (h *handlers) searchProposals(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", proposal.DefaultSearchLimit)

	results, err := h.proposals.Search(query, limit)
	if err != nil {
		return h.toolError("unable to search proposals", err), nil
	}
	return textResult(results)
}

func (h *handlers) listProposals(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := strings.TrimSpace(req.GetString("status", ""))

	summaries, err := h.proposals.List(status)
	if err != nil {
		return h.toolError("unable to list proposals", err), nil
	}
	return textResult(summaries)
}

func (h *handlers) refreshRepository(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.refresher.Refresh(ctx); err != nil {
		return h.toolError("unable to refresh repository", err), nil
	}
	return mcp.NewToolResultText("repository refreshed"), nil
}

func (h *handlers) readProposalResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	number, err := strconv.Atoi(strings.TrimPrefix(uri, proposalURIScheme))
	if err != nil || !strings.HasPrefix(uri, proposalURIScheme) {
		return nil, fmt.Errorf("invalid proposal uri %q", uri)
	}

	text, err := h.proposals.Document(number)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: markdownMIMEType,
			Text:     text,
		},
	}, nil
}

// toolError returns tool result for a failed call, not found errors are
// expected outcome and not logged
func (h *handlers) toolError(msg string, err error) *mcp.CallToolResult {
	if !errors.Is(err, proposal.ErrNotFound) {
		h.log.Error(msg, "err", err)
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", msg, err))
}
