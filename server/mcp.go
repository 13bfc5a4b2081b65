package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes read-only relay state to MCP clients over stdio.
type MCPServer struct {
	Server      *server.MCPServer
	coordinator *Coordinator
}

func NewMCPServer(c *Coordinator) *MCPServer {
	s := &MCPServer{
		Server:      server.NewMCPServer("wearlink relay", "1.0.0", server.WithToolCapabilities(false)),
		coordinator: c,
	}
	s.registerTools()
	return s
}

func (s *MCPServer) registerTools() {
	listNodes := mcp.NewTool("list_nodes",
		mcp.WithDescription("List the nodes connected to this relay"),
	)
	s.Server.AddTool(listNodes, s.handleListNodes)

	getRecord := mcp.NewTool("get_record",
		mcp.WithDescription("Get the current value of a replicated record"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Record path, e.g. /weather"),
		),
	)
	s.Server.AddTool(getRecord, s.handleGetRecord)
}

func (s *MCPServer) handleListNodes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type nodeElement struct {
		Id         string `json:"id"`
		Name       string `json:"name"`
		Identified bool   `json:"identified"`
	}
	clients := s.coordinator.Registry.List()
	res := make([]nodeElement, 0, len(clients))
	for _, client := range clients {
		node := client.Meta().Snapshot()
		res = append(res, nodeElement{Id: node.ID, Name: node.DisplayName, Identified: client.Meta().IsIdentified()})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Id < res[j].Id })

	jsonBytes, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error listing nodes: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *MCPServer) handleGetRecord(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("path is required and must be a string"), nil
	}
	data, err := s.coordinator.Records.Get(ctx, path)
	if errors.Is(err, ErrRecordNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("No record at %s", path)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error reading record: %v", err)), nil
	}
	jsonBytes, err := json.MarshalIndent(Record{Path: path, Data: data}, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error encoding record: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *MCPServer) Start() error {
	slog.Info("Started stdio MCP server")
	defer func() {
		slog.Info("Shut down stdio MCP server")
	}()
	return server.ServeStdio(s.Server)
}
