package fixtures

import (
	"context"
	"testing"

	mcp "github.com/nazq/mcp-test-server"
)

func TestResourcesReadStaticResource(t *testing.T) {
	r := NewResources()
	result, err := r.ReadResource(context.Background(), mcp.ReadResourceParams{URI: "test://static/hello.txt"}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Contents) != 1 || result.Contents[0].Text != "hello, world" {
		t.Fatalf("unexpected contents: %+v", result.Contents)
	}
}

func TestResourcesDynamicCounterStrictlyIncreases(t *testing.T) {
	r := NewResources()

	first, err := r.ReadResource(context.Background(), mcp.ReadResourceParams{URI: "test://dynamic/counter"}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := r.ReadResource(context.Background(), mcp.ReadResourceParams{URI: "test://dynamic/counter"}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Contents[0].Text == second.Contents[0].Text {
		t.Fatalf("expected consecutive reads of the counter to differ, got %q twice", first.Contents[0].Text)
	}
}

func TestResourcesReadFilesTemplateSynthesizesContent(t *testing.T) {
	r := NewResources()
	result, err := r.ReadResource(context.Background(), mcp.ReadResourceParams{URI: "test://files/some/nested/path.txt"}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Contents) != 1 || result.Contents[0].MimeType != "text/plain" {
		t.Fatalf("unexpected contents: %+v", result.Contents)
	}
}

func TestResourcesReadUnknownURIIsAnError(t *testing.T) {
	r := NewResources()
	if _, err := r.ReadResource(context.Background(), mcp.ReadResourceParams{URI: "test://nope"}, nil, nil); err == nil {
		t.Fatalf("expected an error reading an unknown resource")
	}
}

func TestResourcesSubscribable(t *testing.T) {
	r := NewResources()

	if !r.Subscribable("test://dynamic/counter") {
		t.Errorf("expected the counter resource to be subscribable")
	}
	if r.Subscribable("test://static/hello.txt") {
		t.Errorf("expected a static resource to not be subscribable")
	}
	if r.Subscribable("test://does/not/exist") {
		t.Errorf("expected an unknown URI to not be subscribable")
	}
}

func TestResourcesListResourcesIsPaginated(t *testing.T) {
	r := NewResources()

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := r.ListResources(context.Background(), mcp.ListResourcesParams{Cursor: cursor}, nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		pages++
		for _, res := range page.Resources {
			if seen[res.URI] {
				t.Fatalf("resource %q appeared on more than one page", res.URI)
			}
			seen[res.URI] = true
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if pages < 2 {
		t.Fatalf("expected the catalog to span more than one page, got %d", pages)
	}
	if !seen["test://dynamic/counter"] {
		t.Fatalf("expected the full listing to include the counter resource")
	}
}

func TestResourcesListResourceTemplates(t *testing.T) {
	r := NewResources()
	result, err := r.ListResourceTemplates(context.Background(), mcp.ListResourceTemplatesParams{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Templates) != 1 || result.Templates[0].URITemplate != "test://files/{path}" {
		t.Fatalf("unexpected templates: %+v", result.Templates)
	}
}

func TestResourcesCompletesResourceTemplate(t *testing.T) {
	r := NewResources()
	result, err := r.CompletesResourceTemplate(context.Background(), mcp.CompletesCompletionParams{
		Ref:      mcp.CompletionRef{Type: mcp.CompletionRefResource, URI: "test://files/{path}"},
		Argument: mcp.CompletionArgument{Name: "path", Value: ""},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Completion.Values) == 0 {
		t.Fatalf("expected at least one completion suggestion for the files path argument")
	}
}
