package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/robolabel/internal/ops"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"video_list": {
		def:     videoListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleVideoList },
	},
	"video_fetch_url": {
		def:     videoFetchURLToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleVideoFetchURL },
	},
	"video_analyze": {
		def:     videoAnalyzeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleVideoAnalyze },
	},
	"analysis_fetch": {
		def:     analysisFetchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAnalysisFetch },
	},
	"analysis_list": {
		def:     analysisListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAnalysisList },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates an MCP server with the robolabel tools registered.
// Tools listed in the config's DisabledTools are left out.
func NewServer(env *ops.Env, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"robolabel",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(env)

	disabled := make(map[string]bool)
	if env.Config != nil {
		for _, name := range env.Config.DisabledTools {
			disabled[name] = true
		}
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run serves the MCP tools over stdio until stdin closes.
func Run(env *ops.Env, version string) error {
	return server.ServeStdio(NewServer(env, version))
}

