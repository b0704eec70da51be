// Package mcpserver exposes proposals of the mirrored repository as MCP
// tools and resources.
package mcpserver

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/utilitywarehouse/proposal-mirror/proposal"
)

const serverName = "proposal-mirror"

// Proposals is the proposal lookup used by the tools
type Proposals interface {
	Get(number int) (*proposal.Proposal, error)
	Document(number int) (string, error)
	List(status string) ([]proposal.Summary, error)
	Search(query string, limit int) ([]proposal.Result, error)
}

// Refresher updates the mirrored repository from its remote
type Refresher interface {
	Refresh(ctx context.Context) error
}

type handlers struct {
	proposals Proposals
	refresher Refresher
	log       *slog.Logger
}

// New creates MCP server with all proposal tools and resources registered
func New(proposals Proposals, refresher Refresher, version string, log *slog.Logger) *server.MCPServer {
	if log == nil {
		log = slog.Default()
	}
	h := &handlers{proposals: proposals, refresher: refresher, log: log}

	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
	)

	s.AddTool(getProposalTool(), h.getProposal)
	s.AddTool(searchProposalsTool(), h.searchProposals)
	s.AddTool(listProposalsTool(), h.listProposals)
	s.AddTool(refreshRepositoryTool(), h.refreshRepository)

	s.AddResourceTemplate(proposalResourceTemplate(), h.readProposalResource)

	return s
}

// ServeStdio serves s over given reader and writer until ctx is done or
// the reader is closed
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer, log *slog.Logger) error {
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(slog.NewLogLogger(log.Handler(), slog.LevelError))

	log.Info("serving MCP over stdio")
	return stdio.Listen(ctx, in, out)
}

func textResult(v any) (*mcp.CallToolResult, error) {
	text, err := proposal.ToJSON(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(text), nil
}
