// Package mcp exposes developer diagnostics over the Model Context Protocol.
package mcp

import (
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/bobmcallan/llm-proxy/internal/common"
	"github.com/bobmcallan/llm-proxy/internal/config"
	"github.com/bobmcallan/llm-proxy/internal/schema"
)

// Handler is the HTTP handler for the MCP endpoint.
// It wraps mcp-go's StreamableHTTPServer and delegates to it.
type Handler struct {
	streamable *mcpserver.StreamableHTTPServer
	logger     *common.Logger
}

// NewHandler registers the diagnostic tools and returns the endpoint.
func NewHandler(validator *schema.Validator, converter *schema.Converter, model string, logger *common.Logger) *Handler {
	mcpSrv := mcpserver.NewMCPServer(
		"llm-proxy",
		config.GetVersion(),
		mcpserver.WithToolCapabilities(true),
	)

	mcpSrv.AddTool(ValidateToolsTool(), ValidateToolsHandler(validator, converter))
	mcpSrv.AddTool(VersionTool(), VersionToolHandler(model))

	streamable := mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithStateLess(true),
	)

	logger.Info().Int("tools", 2).Msg("MCP handler initialized")

	return &Handler{streamable: streamable, logger: logger}
}

// ServeHTTP delegates to the mcp-go StreamableHTTPServer.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.streamable.ServeHTTP(w, r)
}
