package fixtures

import (
	"context"
	"fmt"

	mcp "github.com/nazq/mcp-test-server"
)

type promptDef struct {
	name        string
	description string
	arguments   []mcp.PromptArgument
	generate    func(args map[string]string) ([]mcp.PromptMessage, error)
}

// Prompts implements mcp.PromptServer over a fixed set of prompt templates: greeting,
// code_review, summarize, translate, and with_resource.
type Prompts struct {
	defs  map[string]promptDef
	order []string
}

// NewPrompts builds the prompt fixture catalog.
func NewPrompts() *Prompts {
	p := &Prompts{defs: make(map[string]promptDef)}
	for _, d := range promptDefs() {
		p.defs[d.name] = d
		p.order = append(p.order, d.name)
	}
	return p
}

// ListPrompts implements mcp.PromptServer. The catalog is small enough that it is never
// paginated across more than one page.
func (p *Prompts) ListPrompts(
	_ context.Context, _ mcp.ListPromptsParams, _ mcp.ProgressReporter, _ mcp.RequestClientFunc,
) (mcp.ListPromptResult, error) {
	result := mcp.ListPromptResult{}
	for _, name := range p.order {
		d := p.defs[name]
		result.Prompts = append(result.Prompts, mcp.Prompt{
			Name:        d.name,
			Description: d.description,
			Arguments:   d.arguments,
		})
	}
	return result, nil
}

// GetPrompt implements mcp.PromptServer.
func (p *Prompts) GetPrompt(
	_ context.Context, params mcp.GetPromptParams, _ mcp.ProgressReporter, _ mcp.RequestClientFunc,
) (mcp.GetPromptResult, error) {
	d, ok := p.defs[params.Name]
	if !ok {
		return mcp.GetPromptResult{}, fmt.Errorf("unknown prompt: %s", params.Name)
	}

	messages, err := d.generate(params.Arguments)
	if err != nil {
		return mcp.GetPromptResult{}, err
	}
	return mcp.GetPromptResult{Messages: messages, Description: d.description}, nil
}

// CompletesPrompt implements mcp.PromptServer, matching argument values case-insensitively
// against a small suggestion list per prompt argument.
func (p *Prompts) CompletesPrompt(
	_ context.Context, params mcp.CompletesCompletionParams, _ mcp.RequestClientFunc,
) (mcp.CompletionResult, error) {
	var result mcp.CompletionResult
	result.Completion.Values = completePromptArgument(params.Ref.Name, params.Argument.Name, params.Argument.Value)
	result.Completion.Total = len(result.Completion.Values)
	return result, nil
}

func textMessage(role mcp.Role, text string) mcp.PromptMessage {
	return mcp.PromptMessage{Role: role, Content: mcp.Content{Type: mcp.ContentTypeText, Text: text}}
}

func requireArg(args map[string]string, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == "" {
		return "", fmt.Errorf("missing required argument: %s", name)
	}
	return v, nil
}

func promptDefs() []promptDef {
	return []promptDef{
		{
			name:        "greeting",
			description: "A simple greeting prompt",
			arguments:   []mcp.PromptArgument{{Name: "name", Description: "Name to greet", Required: true}},
			generate: func(args map[string]string) ([]mcp.PromptMessage, error) {
				name, err := requireArg(args, "name")
				if err != nil {
					return nil, err
				}
				return []mcp.PromptMessage{textMessage(mcp.RoleUser, fmt.Sprintf("Hello, %s!", name))}, nil
			},
		},
		{
			name:        "code_review",
			description: "Multi-message prompt for code review",
			arguments: []mcp.PromptArgument{
				{Name: "code", Description: "Code to review", Required: true},
				{Name: "language", Description: "Programming language", Required: true},
			},
			generate: func(args map[string]string) ([]mcp.PromptMessage, error) {
				code, err := requireArg(args, "code")
				if err != nil {
					return nil, err
				}
				language, err := requireArg(args, "language")
				if err != nil {
					return nil, err
				}
				return []mcp.PromptMessage{
					textMessage(mcp.RoleUser, fmt.Sprintf("Please review this %s code:\n\n```%s\n%s\n```", language, language, code)),
					textMessage(mcp.RoleAssistant, "I'll review this code for quality, security, and best practices."),
				}, nil
			},
		},
		{
			name:        "summarize",
			description: "Prompt to summarize text",
			arguments:   []mcp.PromptArgument{{Name: "text", Description: "Text to summarize", Required: true}},
			generate: func(args map[string]string) ([]mcp.PromptMessage, error) {
				text, err := requireArg(args, "text")
				if err != nil {
					return nil, err
				}
				return []mcp.PromptMessage{textMessage(mcp.RoleUser, "Please summarize the following text:\n\n"+text)}, nil
			},
		},
		{
			name:        "translate",
			description: "Translate text to another language",
			arguments: []mcp.PromptArgument{
				{Name: "text", Description: "Text to translate", Required: true},
				{Name: "language", Description: "Target language", Required: true},
			},
			generate: func(args map[string]string) ([]mcp.PromptMessage, error) {
				text, err := requireArg(args, "text")
				if err != nil {
					return nil, err
				}
				language, err := requireArg(args, "language")
				if err != nil {
					return nil, err
				}
				return []mcp.PromptMessage{
					textMessage(mcp.RoleUser, fmt.Sprintf("Please translate the following text to %s:\n\n%s", language, text)),
				}, nil
			},
		},
		{
			name:        "with_resource",
			description: "Prompt that references an embedded resource",
			generate: func(map[string]string) ([]mcp.PromptMessage, error) {
				return []mcp.PromptMessage{
					textMessage(mcp.RoleUser, "Please analyze the resource at test://static/config"),
					textMessage(mcp.RoleAssistant, "I'll analyze the configuration resource for you."),
				}, nil
			},
		},
	}
}
