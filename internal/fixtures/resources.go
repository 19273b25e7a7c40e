package fixtures

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	mcp "github.com/nazq/mcp-test-server"
)

type resourceDef struct {
	uri          string
	name         string
	description  string
	mimeType     string
	subscribable bool
	read         func(ctx context.Context) (mcp.ResourceContents, error)
}

// Resources implements mcp.ResourceServer over the static, dynamic, paginated, and
// MCP Apps ui:// resource fixtures, plus the test://files/{path} template.
type Resources struct {
	defs    map[string]resourceDef
	order   []string
	counter atomic.Int64
}

// NewResources builds the full fixture resource catalog.
func NewResources() *Resources {
	r := &Resources{defs: make(map[string]resourceDef)}
	for _, d := range r.staticDefs() {
		r.add(d)
	}
	for _, d := range r.dynamicDefs() {
		r.add(d)
	}
	for _, d := range r.uiDefs() {
		r.add(d)
	}
	for i := 0; i < 100; i++ {
		r.add(r.paginatedDef(i))
	}
	return r
}

func (r *Resources) add(d resourceDef) {
	r.defs[d.uri] = d
	r.order = append(r.order, d.uri)
}

// Subscribable reports whether uri accepts subscriptions, for wiring into
// mcp.NewSubscriptionBus. Only the dynamic resources make sense to subscribe to; the
// reference implementation restricts this further still, to test://dynamic/random, but
// this server accepts subscriptions to any dynamic resource.
func (r *Resources) Subscribable(uri string) bool {
	d, ok := r.defs[uri]
	return ok && d.subscribable
}

// SubscribableURIs returns every resource URI that accepts subscriptions, in a stable
// order, for a caller that needs to drive external update notifications (a heartbeat
// ticker, a polling trigger) without knowing the fixture catalog's internal layout.
func (r *Resources) SubscribableURIs() []string {
	var uris []string
	for _, uri := range r.order {
		if r.defs[uri].subscribable {
			uris = append(uris, uri)
		}
	}
	return uris
}

// ListResources implements mcp.ResourceServer.
func (r *Resources) ListResources(
	_ context.Context, params mcp.ListResourcesParams, _ mcp.ProgressReporter, _ mcp.RequestClientFunc,
) (mcp.ListResourcesResult, error) {
	offset, err := mcp.DecodeCursor(params.Cursor)
	if err != nil {
		return mcp.ListResourcesResult{}, err
	}

	const pageSize = 25
	result := mcp.ListResourcesResult{}
	end := offset + pageSize
	if end > len(r.order) {
		end = len(r.order)
	}
	if offset < len(r.order) {
		for _, uri := range r.order[offset:end] {
			d := r.defs[uri]
			result.Resources = append(result.Resources, mcp.Resource{
				URI:         d.uri,
				Name:        d.name,
				Description: d.description,
				MimeType:    d.mimeType,
			})
		}
	}
	if end < len(r.order) {
		result.NextCursor = mcp.EncodeCursor(end)
	}
	return result, nil
}

// ReadResource implements mcp.ResourceServer.
func (r *Resources) ReadResource(
	ctx context.Context, params mcp.ReadResourceParams, _ mcp.ProgressReporter, _ mcp.RequestClientFunc,
) (mcp.ReadResourceResult, error) {
	if d, ok := r.defs[params.URI]; ok {
		contents, err := d.read(ctx)
		if err != nil {
			return mcp.ReadResourceResult{}, err
		}
		return mcp.ReadResourceResult{Contents: []mcp.ResourceContents{contents}}, nil
	}

	if strings.HasPrefix(params.URI, "test://files/") {
		path := strings.TrimPrefix(params.URI, "test://files/")
		return mcp.ReadResourceResult{Contents: []mcp.ResourceContents{{
			URI:      params.URI,
			MimeType: "text/plain",
			Text:     fmt.Sprintf("synthetic content for path %q", path),
		}}}, nil
	}

	return mcp.ReadResourceResult{}, fmt.Errorf("resource %q not found", params.URI)
}

// ListResourceTemplates implements mcp.ResourceServer.
func (r *Resources) ListResourceTemplates(
	_ context.Context, _ mcp.ListResourceTemplatesParams, _ mcp.ProgressReporter, _ mcp.RequestClientFunc,
) (mcp.ListResourceTemplatesResult, error) {
	return mcp.ListResourceTemplatesResult{
		Templates: []mcp.ResourceTemplate{{
			URITemplate: "test://files/{path}",
			Name:        "files",
			Description: "Synthetic file content addressed by path",
			MimeType:    "text/plain",
		}},
	}, nil
}

// CompletesResourceTemplate implements mcp.ResourceServer.
func (r *Resources) CompletesResourceTemplate(
	_ context.Context, params mcp.CompletesCompletionParams, _ mcp.RequestClientFunc,
) (mcp.CompletionResult, error) {
	var result mcp.CompletionResult

	switch {
	case params.Ref.URI == "test://files/{path}" && params.Argument.Name == "path":
		result.Completion.Values = completeFilesPath()
	case params.Argument.Name == "resourceId":
		result.Completion.Values = completeResourceID(params.Argument.Value, 100)
	}

	result.Completion.Total = len(result.Completion.Values)
	return result, nil
}

func (r *Resources) staticDefs() []resourceDef {
	return []resourceDef{
		{
			uri: "test://static/hello.txt", name: "hello.txt", mimeType: "text/plain",
			description: "A static hello-world text resource",
			read: func(context.Context) (mcp.ResourceContents, error) {
				return mcp.ResourceContents{URI: "test://static/hello.txt", MimeType: "text/plain", Text: "hello, world"}, nil
			},
		},
		{
			uri: "test://static/data.json", name: "data.json", mimeType: "application/json",
			description: "A static JSON resource",
			read: func(context.Context) (mcp.ResourceContents, error) {
				return mcp.ResourceContents{
					URI: "test://static/data.json", MimeType: "application/json",
					Text: `{"example":true,"count":3}`,
				}, nil
			},
		},
		{
			uri: "test://static/image.png", name: "image.png", mimeType: "image/png",
			description: "A static 1x1 PNG image resource",
			read: func(context.Context) (mcp.ResourceContents, error) {
				return mcp.ResourceContents{URI: "test://static/image.png", MimeType: "image/png", Blob: onePixelPNG}, nil
			},
		},
		{
			uri: "test://static/large.txt", name: "large.txt", mimeType: "text/plain",
			description: "A larger static text resource, useful for exercising pagination of its contents",
			read: func(context.Context) (mcp.ResourceContents, error) {
				return mcp.ResourceContents{URI: "test://static/large.txt", MimeType: "text/plain", Text: strings.Repeat("lorem ipsum ", 800)}, nil
			},
		},
		{
			uri: "test://static/config", name: "config", mimeType: "application/json",
			description: "Static server configuration referenced by the with_resource prompt",
			read: func(context.Context) (mcp.ResourceContents, error) {
				return mcp.ResourceContents{URI: "test://static/config", MimeType: "application/json", Text: `{"mode":"test"}`}, nil
			},
		},
	}
}

func (r *Resources) dynamicDefs() []resourceDef {
	return []resourceDef{
		{
			uri: "test://dynamic/counter", name: "counter", mimeType: "text/plain", subscribable: true,
			description: "A counter that strictly increases on every read",
			read: func(context.Context) (mcp.ResourceContents, error) {
				v := r.counter.Add(1)
				return mcp.ResourceContents{URI: "test://dynamic/counter", MimeType: "text/plain", Text: strconv.FormatInt(v, 10)}, nil
			},
		},
		{
			uri: "test://dynamic/timestamp", name: "timestamp", mimeType: "text/plain", subscribable: true,
			description: "The current server time",
			read: func(context.Context) (mcp.ResourceContents, error) {
				return mcp.ResourceContents{URI: "test://dynamic/timestamp", MimeType: "text/plain", Text: time.Now().UTC().Format(time.RFC3339Nano)}, nil
			},
		},
		{
			uri: "test://dynamic/random", name: "random", mimeType: "text/plain", subscribable: true,
			description: "A random value, re-rolled on every read",
			read: func(context.Context) (mcp.ResourceContents, error) {
				n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
				if err != nil {
					return mcp.ResourceContents{}, err
				}
				return mcp.ResourceContents{URI: "test://dynamic/random", MimeType: "text/plain", Text: n.String()}, nil
			},
		},
	}
}

func (r *Resources) paginatedDef(i int) resourceDef {
	uri := fmt.Sprintf("test://static/resource/%d", i)
	return resourceDef{
		uri: uri, name: fmt.Sprintf("resource-%d", i), mimeType: "text/plain",
		description: "One of a large synthetic set of resources, used to exercise pagination",
		read: func(context.Context) (mcp.ResourceContents, error) {
			return mcp.ResourceContents{URI: uri, MimeType: "text/plain", Text: fmt.Sprintf("content of resource %d", i)}, nil
		},
	}
}

func (r *Resources) uiDefs() []resourceDef {
	shim := func(uri, body string) resourceDef {
		return resourceDef{
			uri: uri, name: uri, mimeType: "text/html;profile=mcp-app",
			description: "MCP Apps renderable resource",
			read: func(context.Context) (mcp.ResourceContents, error) {
				return mcp.ResourceContents{URI: uri, MimeType: "text/html;profile=mcp-app", Text: body}, nil
			},
		}
	}
	return []resourceDef{
		shim("ui://button/app.html", `<!doctype html><button id="app-button">Click me</button>`),
		shim("ui://form/app.html", `<!doctype html><form id="app-form"><input name="value"></form>`),
		shim("ui://carousel/app.html", `<!doctype html><div id="app-carousel"></div>`),
	}
}

// onePixelPNG is a minimal valid 1x1 transparent PNG, base64-encoded.
const onePixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNk+A8AAQUBAScY42YAAAAASUVORK5CYII=" //nolint:lll
