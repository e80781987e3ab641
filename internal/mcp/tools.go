package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	openai "github.com/sashabaranov/go-openai"

	"github.com/bobmcallan/llm-proxy/internal/schema"
)

// validationReport is the validate_tools result.
type validationReport struct {
	Valid     bool          `json:"valid"`
	Errors    []string      `json:"errors"`
	Converted []openai.Tool `json:"converted,omitempty"`
}

// ValidateToolsTool returns the mcp.Tool definition for validate_tools.
func ValidateToolsTool() mcp.Tool {
	return mcp.NewTool("validate_tools",
		mcp.WithDescription("Validate tool definitions exactly as the proxy would and show the upstream form they convert to."),
		mcp.WithString("tools",
			mcp.Required(),
			mcp.Description(`JSON array of tools, flat ({"name","description","parameters","strict"}) or wrapped in {"type":"function","function":{...}}`),
		),
	)
}

// ValidateToolsHandler runs the request-path validator and converter.
func ValidateToolsHandler(validator *schema.Validator, converter *schema.Converter) server.ToolHandlerFunc {
	return func(ctx context.Context, r mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw := r.GetString("tools", "")
		if raw == "" {
			return errorResult("tools is required"), nil
		}

		var tools []schema.Tool
		if err := json.Unmarshal([]byte(raw), &tools); err != nil {
			return errorResult(fmt.Sprintf("tools is not a JSON array of tools: %v", err)), nil
		}

		report := validationReport{Errors: validator.ValidateAll(tools)}
		if len(report.Errors) == 0 {
			converted, err := converter.ConvertAll(tools)
			if err != nil {
				report.Errors = append(report.Errors, err.Error())
			} else {
				report.Valid = true
				report.Converted = converted
			}
		}
		if report.Errors == nil {
			report.Errors = []string{}
		}

		return jsonResult(report)
	}
}
