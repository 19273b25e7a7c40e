package fixtures

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	mcp "github.com/nazq/mcp-test-server"
)

func callTool(t *testing.T, tools *Tools, name string, args any) mcp.CallToolResult {
	t.Helper()
	var raw json.RawMessage
	if args != nil {
		bs, err := json.Marshal(args)
		if err != nil {
			t.Fatalf("failed to marshal args: %v", err)
		}
		raw = bs
	}
	result, err := tools.CallTool(context.Background(), mcp.CallToolParams{Name: name, Arguments: raw}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error calling %s: %v", name, err)
	}
	return result
}

func TestToolsMathOperations(t *testing.T) {
	tools := NewTools()

	cases := []struct {
		name string
		a, b float64
		want string
	}{
		{"add", 2, 3, "5"},
		{"subtract", 5, 3, "2"},
		{"multiply", 4, 3, "12"},
		{"divide", 10, 2, "5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := callTool(t, tools, tc.name, twoNumberParams{A: tc.a, B: tc.b})
			if len(result.Content) != 1 || result.Content[0].Text != tc.want {
				t.Errorf("%s(%g,%g) = %+v, want text %q", tc.name, tc.a, tc.b, result.Content, tc.want)
			}
		})
	}
}

func TestToolsDivideByZeroIsADomainError(t *testing.T) {
	tools := NewTools()
	result := callTool(t, tools, "divide", twoNumberParams{A: 1, B: 0})
	if len(result.Content) != 1 || result.Content[0].Text != "division by zero" {
		t.Fatalf("expected a domain-level error message, got %+v", result.Content)
	}
}

func TestToolsUnknownToolIsAnError(t *testing.T) {
	tools := NewTools()
	_, err := tools.CallTool(context.Background(), mcp.CallToolParams{Name: "does_not_exist"}, nil, nil)
	if err == nil {
		t.Fatalf("expected an error for an unknown tool")
	}
	if !errors.Is(err, mcp.ErrToolNotFound) {
		t.Fatalf("expected the error to wrap mcp.ErrToolNotFound, got %v", err)
	}
}

func TestToolsInvalidArgumentsWrapErrInvalidToolArguments(t *testing.T) {
	tools := NewTools()
	_, err := tools.CallTool(
		context.Background(),
		mcp.CallToolParams{Name: "add", Arguments: json.RawMessage(`{"a":"not-a-number","b":1}`)},
		nil, nil,
	)
	if err == nil {
		t.Fatalf("expected schema validation to reject a non-numeric argument")
	}
	if !errors.Is(err, mcp.ErrInvalidToolArguments) {
		t.Fatalf("expected the error to wrap mcp.ErrInvalidToolArguments, got %v", err)
	}
}

func TestToolsFailAlwaysReturnsAnError(t *testing.T) {
	tools := NewTools()
	if _, err := tools.CallTool(context.Background(), mcp.CallToolParams{Name: "fail"}, nil, nil); err == nil {
		t.Fatalf("expected the fail tool to always return an error")
	}
}

func TestToolsGlobMatch(t *testing.T) {
	tools := NewTools()

	cases := []struct {
		pattern, value string
		want           string
	}{
		{"*.txt", "notes.txt", "true"},
		{"*.txt", "notes.md", "false"},
		{"test://files/**", "test://files/a/b/c.txt", "true"},
	}
	for _, tc := range cases {
		result := callTool(t, tools, "glob_match", globMatchParams{Pattern: tc.pattern, Value: tc.value})
		if len(result.Content) != 1 || result.Content[0].Text != tc.want {
			t.Errorf("glob_match(%q, %q) = %+v, want %q", tc.pattern, tc.value, result.Content, tc.want)
		}
	}
}

func TestToolsTextDiff(t *testing.T) {
	tools := NewTools()
	result := callTool(t, tools, "text_diff", textDiffParams{Before: "hello", After: "hallo"})
	if len(result.Content) != 1 || result.Content[0].Text == "" {
		t.Fatalf("expected a non-empty diff, got %+v", result.Content)
	}
}

func TestToolsListToolsIsPaginated(t *testing.T) {
	tools := NewTools()

	result, err := tools.ListTools(context.Background(), mcp.ListToolsParams{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Tools) == 0 {
		t.Fatalf("expected the first page to contain tools")
	}
	if result.NextCursor == "" {
		t.Fatalf("expected a next cursor since the roster exceeds one page")
	}

	second, err := tools.ListTools(context.Background(), mcp.ListToolsParams{Cursor: result.NextCursor}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second.Tools) == 0 {
		t.Fatalf("expected the second page to contain tools too")
	}
	if second.Tools[0].Name == result.Tools[0].Name {
		t.Fatalf("expected the second page to differ from the first")
	}
}

func TestToolsUIToolsCarryMeta(t *testing.T) {
	tools := NewTools()

	var all []mcp.Tool
	cursor := ""
	for {
		page, err := tools.ListTools(context.Background(), mcp.ListToolsParams{Cursor: cursor}, nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		all = append(all, page.Tools...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	found := false
	for _, tool := range all {
		if tool.Name != "ui_resource_button" {
			continue
		}
		found = true
		if tool.Meta == nil || tool.Meta.UI == nil || tool.Meta.UI.ResourceURI != "ui://button/app.html" {
			t.Errorf("expected ui_resource_button to carry UI resource metadata, got %+v", tool.Meta)
		}
	}
	if !found {
		t.Fatalf("expected ui_resource_button to appear across the paginated listing")
	}
}

func TestToolsAppOnlyToolIsHiddenFromListingButCallable(t *testing.T) {
	tools := NewTools()

	var all []mcp.Tool
	cursor := ""
	for {
		page, err := tools.ListTools(context.Background(), mcp.ListToolsParams{Cursor: cursor}, nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		all = append(all, page.Tools...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	for _, tool := range all {
		if tool.Name == "ui_internal_only" {
			t.Fatalf("expected ui_internal_only to be omitted from tools/list, found it")
		}
	}

	result := callTool(t, tools, "ui_internal_only", nil)
	if len(result.Content) != 1 || result.Content[0].Text != "internal action performed" {
		t.Fatalf("expected ui_internal_only to remain callable despite being unlisted, got %+v", result.Content)
	}
}
