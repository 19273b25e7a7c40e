package fixtures

import (
	"context"
	"encoding/json"

	mcp "github.com/nazq/mcp-test-server"
)

type uiLabelParams struct {
	Label string `json:"label"`
}

// uiToolDefs are the MCP Apps tools: each links to a ui:// resource the tool's result
// should be rendered into, via Tool.Meta. ui_internal_only demonstrates the "app"
// visibility value, which hides a tool from LLM-facing tool listings while leaving it
// callable from within the rendered app itself.
func uiToolDefs() []toolDef {
	return []toolDef{
		{
			name:        "ui_resource_button",
			description: "Renders a clickable button as an MCP App",
			paramsType:  &uiLabelParams{},
			ui:          &mcp.ToolUIMeta{ResourceURI: "ui://button/app.html", Visibility: mcp.VisibilityBoth},
			handler: func(_ context.Context, args json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[uiLabelParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				return textResult("rendered button: " + p.Label), nil
			},
		},
		{
			name:        "ui_resource_form",
			description: "Renders an input form as an MCP App",
			ui:          &mcp.ToolUIMeta{ResourceURI: "ui://form/app.html", Visibility: mcp.VisibilityBoth},
			handler: func(_ context.Context, _ json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				return textResult("rendered form"), nil
			},
		},
		{
			name:        "ui_resource_carousel",
			description: "Renders an image carousel as an MCP App",
			ui:          &mcp.ToolUIMeta{ResourceURI: "ui://carousel/app.html", Visibility: mcp.VisibilityBoth},
			handler: func(_ context.Context, _ json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				return textResult("rendered carousel"), nil
			},
		},
		{
			name:        "ui_internal_only",
			description: "Callable only from within a rendered MCP App, not listed for the LLM",
			ui:          &mcp.ToolUIMeta{ResourceURI: "ui://button/app.html", Visibility: mcp.VisibilityApp},
			handler: func(_ context.Context, _ json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				return textResult("internal action performed"), nil
			},
		},
	}
}
