// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Fabula story tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/fabula/internal/importer"
	"github.com/starford/fabula/internal/parser"
	"github.com/starford/fabula/internal/storage"
	"github.com/starford/fabula/internal/story"
	"github.com/starford/fabula/internal/storyservice"
)

// Server wraps the MCP server with Fabula tools.
type Server struct {
	mcp   *server.MCPServer
	svc   *storyservice.Service
	store storage.Provider
}

// New creates a new MCP server with all Fabula tools registered.
func New(svc *storyservice.Service, store storage.Provider) *Server {
	s := &Server{svc: svc, store: store}

	s.mcp = server.NewMCPServer(
		"Fabula",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_projects",
		mcp.WithDescription("List all story projects with their ids and titles."),
	), s.listProjects)

	s.mcp.AddTool(mcp.NewTool("get_story_tree",
		mcp.WithDescription("Read a project's full story tree: nodes, events, actions, connections."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
	), s.getStoryTree)

	s.mcp.AddTool(mcp.NewTool("read_node",
		mcp.WithDescription("Read one node of a story tree: scene text, events, and outgoing actions."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Node id within the project")),
	), s.readNode)

	s.mcp.AddTool(mcp.NewTool("add_event",
		mcp.WithDescription("Append a narrative event (dialogue, action, thought, or description) to a node."),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Node to append to")),
		mcp.WithString("speaker", mcp.Description("Speaker name (empty for narration)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Event text")),
		mcp.WithString("type", mcp.Description("Event type: dialogue, action, thought, description (default dialogue)")),
	), s.addEvent)

	s.mcp.AddTool(mcp.NewTool("add_action",
		mcp.WithDescription("Append a player action to a node. The action starts unlinked; it gains a connection when a target node is assigned."),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Node to append to")),
		mcp.WithString("description", mcp.Required(), mcp.Description("Action text shown to the player")),
		mcp.WithBoolean("key", mcp.Description("Whether this is a key (plot-critical) action")),
	), s.addAction)

	s.mcp.AddTool(mcp.NewTool("get_history",
		mcp.WithDescription("Read a project's checkpoint timeline, newest first. Index 0 is the current state marker."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
	), s.getHistory)

	s.mcp.AddTool(mcp.NewTool("create_story_file",
		mcp.WithDescription("Create a new story file in the library. Content MUST follow the canonical "+
			"story format (YAML with root and nodes). Read the contract first via the "+
			"get_story_contract tool or the fabula://story-format resource. The file is "+
			"validated and imported as a project."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative library path (must end with .story.yaml, .story.yml, or .story.json)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Story content following the Fabula story format contract")),
	), s.createStoryFile)

	s.mcp.AddTool(mcp.NewTool("get_story_contract",
		mcp.WithDescription("Returns the canonical Fabula story file format contract. "+
			"Call this before creating story files to ensure correct structure."),
	), s.getStoryContract)

	// Resource: story format contract.
	s.mcp.AddResource(
		mcp.NewResource("fabula://story-format", "Story Format Contract",
			mcp.WithResourceDescription("Canonical story file format that all library files must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readStoryFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.svc.ListProjects(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(projects, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getStoryTree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tree, err := s.svc.FetchTree(ctx, projectID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", projectID)), nil
	}
	out, _ := json.MarshalIndent(tree, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	nodeID, err := req.RequireString("node_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tree, err := s.svc.FetchTree(ctx, projectID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", projectID)), nil
	}
	node, ok := tree.Node(nodeID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("node not found: %s", nodeID)), nil
	}
	out, _ := json.MarshalIndent(node, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) addEvent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodeID, err := req.RequireString("node_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	speaker := req.GetString("speaker", "")
	typ := story.EventDialogue
	if raw := req.GetString("type", ""); raw != "" {
		typ, err = story.ParseEventType(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	id, err := s.svc.CreateEvent(ctx, nodeID, speaker, content, typ)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created event %s on node %s", id, nodeID)), nil
}

func (s *Server) addAction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodeID, err := req.RequireString("node_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	description, err := req.RequireString("description")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	key := req.GetBool("key", false)
	id, err := s.svc.CreateAction(ctx, nodeID, description, key)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created action %s on node %s", id, nodeID)), nil
}

func (s *Server) getHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := s.svc.History(ctx, projectID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("no checkpoints recorded"), nil
	}
	out, _ := json.MarshalIndent(entries, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) createStoryFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !storage.IsStoryFile(path) {
		return mcp.NewToolResultError(fmt.Sprintf("not a story file path: %s", path)), nil
	}

	// Check existence.
	if _, readErr := s.store.Read(path); readErr == nil {
		return mcp.NewToolResultError(fmt.Sprintf("story file already exists: %s", path)), nil
	}

	data := []byte(content)
	p, err := parser.Parse(data)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.store.Write(path, data); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id := p.ID
	if id == "" {
		id = importer.ProjectIDForPath(path)
	}
	title := p.Title
	if title == "" {
		title = id
	}
	if err := s.svc.ImportProject(ctx, id, title, p.Tree); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("created: %s (project %s)", path, id)), nil
}

func (s *Server) getStoryContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(StoryFormatContract), nil
}

func (s *Server) readStoryFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "fabula://story-format",
			MIMEType: "text/markdown",
			Text:     StoryFormatContract,
		},
	}, nil
}
