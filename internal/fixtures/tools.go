// Package fixtures implements the static test-fixture catalogs of tools, resources,
// prompts and completions this server exposes: pure data and pure functions behind the
// core mcp.ToolServer / mcp.ResourceServer / mcp.PromptServer / mcp.LogHandler
// interfaces, not part of the protocol engine itself.
package fixtures

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/gobwas/glob"
	invopopschema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/google/uuid"
	mcp "github.com/nazq/mcp-test-server"
)

func newUUID() string {
	return uuid.New().String()
}

// toolHandler runs one tool's logic against its already-schema-validated arguments.
// ctx carries cancellation for task-oriented tools that poll it cooperatively.
type toolHandler func(ctx context.Context, args json.RawMessage, report mcp.ProgressReporter) (mcp.CallToolResult, error)

type toolDef struct {
	name        string
	description string
	paramsType  any // a pointer to a zero-value params struct, used to generate the input schema
	ui          *mcp.ToolUIMeta
	handler     toolHandler
}

// Tools implements mcp.ToolServer and mcp.TaskServer's underlying tool table: both
// tools/call and tasks/create dispatch into the same handler table, since a task is
// simply a tool invocation run in the background.
type Tools struct {
	defs     map[string]toolDef
	order    []string // every tool, callable order; includes app-only tools
	listable []string // order, minus tools whose UI visibility is app-only
	schemas  map[string]*jsonschema.Schema // compiled schema per tool, for argument validation
}

// NewTools builds the full fixture tool roster.
func NewTools() *Tools {
	t := &Tools{
		defs:    make(map[string]toolDef),
		schemas: make(map[string]*jsonschema.Schema),
	}
	for _, d := range allToolDefs() {
		t.add(d)
	}
	return t
}

func (t *Tools) add(d toolDef) {
	t.defs[d.name] = d
	t.order = append(t.order, d.name)
	if d.ui == nil || d.ui.Visibility != mcp.VisibilityApp {
		t.listable = append(t.listable, d.name)
	}

	raw := generateInputSchema(d.paramsType)
	if compiled, err := compileSchema(d.name, raw); err == nil {
		t.schemas[d.name] = compiled
	}
}

func generateInputSchema(paramsType any) json.RawMessage {
	if paramsType == nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	reflector := &invopopschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	schema := reflector.Reflect(paramsType)
	bs, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return bs
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile(name + ".json")
}

// ListTools implements mcp.ToolServer. Tools whose UI metadata marks them app-only are
// omitted from this listing: they exist to be called from within a rendered MCP App, not
// to be offered to the LLM as something it can decide to invoke. They remain callable
// through CallTool regardless.
func (t *Tools) ListTools(
	_ context.Context, params mcp.ListToolsParams, _ mcp.ProgressReporter, _ mcp.RequestClientFunc,
) (mcp.ListToolsResult, error) {
	offset, err := mcp.DecodeCursor(params.Cursor)
	if err != nil {
		return mcp.ListToolsResult{}, err
	}

	const pageSize = 20
	result := mcp.ListToolsResult{}
	end := offset + pageSize
	if end > len(t.listable) {
		end = len(t.listable)
	}
	if offset < len(t.listable) {
		for _, name := range t.listable[offset:end] {
			d := t.defs[name]
			tool := mcp.Tool{
				Name:        d.name,
				Description: d.description,
				InputSchema: generateInputSchema(d.paramsType),
			}
			if d.ui != nil {
				tool.Meta = &mcp.ToolMeta{UI: d.ui, LegacyUIResourceURI: d.ui.ResourceURI}
			}
			result.Tools = append(result.Tools, tool)
		}
	}
	if end < len(t.listable) {
		result.NextCursor = mcp.EncodeCursor(end)
	}
	return result, nil
}

// CallTool implements mcp.ToolServer. An unknown tool name or arguments that fail the
// tool's JSON Schema are reported by wrapping mcp.ErrToolNotFound / mcp.ErrInvalidToolArguments,
// so the dispatch layer answers them with a JSON-RPC error rather than a successful
// isError:true result — that form is reserved for a handler's own declared domain failure.
func (t *Tools) CallTool(
	ctx context.Context, params mcp.CallToolParams, report mcp.ProgressReporter, _ mcp.RequestClientFunc,
) (mcp.CallToolResult, error) {
	d, ok := t.defs[params.Name]
	if !ok {
		return mcp.CallToolResult{}, fmt.Errorf("unknown tool %q: %w", params.Name, mcp.ErrToolNotFound)
	}

	if schema, ok := t.schemas[params.Name]; ok {
		var v any
		args := params.Arguments
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		if err := json.Unmarshal(args, &v); err != nil {
			return mcp.CallToolResult{}, fmt.Errorf("invalid arguments: %w: %w", err, mcp.ErrInvalidToolArguments)
		}
		if err := schema.Validate(v); err != nil {
			return mcp.CallToolResult{}, fmt.Errorf("invalid arguments: %w: %w", err, mcp.ErrInvalidToolArguments)
		}
	}

	return d.handler(ctx, params.Arguments, report)
}

func textResult(s string) mcp.CallToolResult {
	return mcp.CallToolResult{Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: s}}}
}

func unmarshalArgs[T any](args json.RawMessage) (T, error) {
	var v T
	if len(args) == 0 {
		return v, nil
	}
	err := json.Unmarshal(args, &v)
	return v, err
}

// allToolDefs is the complete fixture roster: math, string, encoding, utility,
// testing/async, task-oriented, and MCP Apps tools.
func allToolDefs() []toolDef {
	defs := []toolDef{}
	defs = append(defs, mathToolDefs()...)
	defs = append(defs, stringToolDefs()...)
	defs = append(defs, encodingToolDefs()...)
	defs = append(defs, utilityToolDefs()...)
	defs = append(defs, textToolDefs()...)
	defs = append(defs, testingToolDefs()...)
	defs = append(defs, taskToolDefs()...)
	defs = append(defs, uiToolDefs()...)
	return defs
}

type twoNumberParams struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func mathToolDefs() []toolDef {
	arith := func(name, desc string, op func(a, b float64) (float64, error)) toolDef {
		return toolDef{
			name:        name,
			description: desc,
			paramsType:  &twoNumberParams{},
			handler: func(_ context.Context, args json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[twoNumberParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				result, err := op(p.A, p.B)
				if err != nil {
					res := textResult(err.Error())
					res.IsError = true
					return res, nil
				}
				return textResult(fmt.Sprintf("%g", result)), nil
			},
		}
	}
	return []toolDef{
		arith("add", "Adds two numbers", func(a, b float64) (float64, error) { return a + b, nil }),
		arith("subtract", "Subtracts b from a", func(a, b float64) (float64, error) { return a - b, nil }),
		arith("multiply", "Multiplies two numbers", func(a, b float64) (float64, error) { return a * b, nil }),
		arith("divide", "Divides a by b", func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return a / b, nil
		}),
	}
}

type oneStringParams struct {
	Text string `json:"text"`
}

type concatParams struct {
	A string `json:"a"`
	B string `json:"b"`
}

func stringToolDefs() []toolDef {
	str := func(name, desc string, op func(s string) string) toolDef {
		return toolDef{
			name:        name,
			description: desc,
			paramsType:  &oneStringParams{},
			handler: func(_ context.Context, args json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[oneStringParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				return textResult(op(p.Text)), nil
			},
		}
	}
	return []toolDef{
		str("echo", "Echoes back the given text", func(s string) string { return s }),
		str("uppercase", "Converts text to uppercase", strings.ToUpper),
		str("lowercase", "Converts text to lowercase", strings.ToLower),
		str("reverse", "Reverses the given text", reverseString),
		str("length", "Returns the length of the given text", func(s string) string { return fmt.Sprintf("%d", len(s)) }),
		{
			name:        "concat",
			description: "Concatenates two strings",
			paramsType:  &concatParams{},
			handler: func(_ context.Context, args json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[concatParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				return textResult(p.A + p.B), nil
			},
		},
	}
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func encodingToolDefs() []toolDef {
	return []toolDef{
		{
			name:        "json_parse",
			description: "Parses a JSON string and re-serializes it, validating it is well-formed",
			paramsType:  &oneStringParams{},
			handler: func(_ context.Context, args json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[oneStringParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				var v any
				if err := json.Unmarshal([]byte(p.Text), &v); err != nil {
					return textResult(fmt.Sprintf("invalid json: %s", err.Error())), nil
				}
				bs, _ := json.Marshal(v)
				return textResult(string(bs)), nil
			},
		},
		{
			name:        "json_stringify",
			description: "Serializes a JSON value to a compact string",
			handler: func(_ context.Context, args json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				var v any
				if err := json.Unmarshal(args, &v); err != nil {
					return textResult(fmt.Sprintf("invalid json: %s", err.Error())), nil
				}
				bs, _ := json.Marshal(v)
				return textResult(string(bs)), nil
			},
		},
		{
			name:        "base64_encode",
			description: "Encodes text as base64",
			paramsType:  &oneStringParams{},
			handler: func(_ context.Context, args json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[oneStringParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				return textResult(base64.StdEncoding.EncodeToString([]byte(p.Text))), nil
			},
		},
		{
			name:        "base64_decode",
			description: "Decodes a base64 string",
			paramsType:  &oneStringParams{},
			handler: func(_ context.Context, args json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[oneStringParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				decoded, err := base64.StdEncoding.DecodeString(p.Text)
				if err != nil {
					res := textResult(fmt.Sprintf("invalid base64: %s", err.Error()))
					res.IsError = true
					return res, nil
				}
				return textResult(string(decoded)), nil
			},
		},
		{
			name:        "hash_sha256",
			description: "Computes the SHA-256 hash of the given text, hex-encoded",
			paramsType:  &oneStringParams{},
			handler: func(_ context.Context, args json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[oneStringParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				sum := sha256.Sum256([]byte(p.Text))
				return textResult(hex.EncodeToString(sum[:])), nil
			},
		},
	}
}

type globMatchParams struct {
	Pattern string `json:"pattern"`
	Value   string `json:"value"`
}

type textDiffParams struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// textToolDefs covers pattern matching and diffing over arbitrary strings, the same two
// concerns the filesystem-walking tools of the reference implementation's fixture suite
// cover for real paths and file contents, minus the filesystem.
func textToolDefs() []toolDef {
	return []toolDef{
		{
			name:        "glob_match",
			description: "Reports whether value matches a glob pattern (supports *, **, ?, and [...] classes, with / as a path separator)",
			paramsType:  &globMatchParams{},
			handler: func(_ context.Context, args json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[globMatchParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				g, err := glob.Compile(p.Pattern, '/')
				if err != nil {
					return textResult(fmt.Sprintf("invalid pattern: %s", err.Error())), nil
				}
				return textResult(fmt.Sprintf("%t", g.Match(p.Value))), nil
			},
		},
		{
			name:        "text_diff",
			description: "Returns a human-readable diff between before and after",
			paramsType:  &textDiffParams{},
			handler: func(_ context.Context, args json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[textDiffParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				dmp := diffmatchpatch.New()
				diffs := dmp.DiffMain(p.Before, p.After, false)
				return textResult(dmp.DiffPrettyText(diffs)), nil
			},
		},
	}
}

type randomNumberParams struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func utilityToolDefs() []toolDef {
	return []toolDef{
		{
			name:        "random_number",
			description: "Returns a random number between min and max",
			paramsType:  &randomNumberParams{},
			handler: func(_ context.Context, args json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[randomNumberParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				if p.Min > p.Max {
					res := textResult("min must not be greater than max")
					res.IsError = true
					return res, nil
				}
				//nolint:gosec // test fixture, not a security-sensitive random value
				v := p.Min + rand.Float64()*(p.Max-p.Min)
				return textResult(fmt.Sprintf("%g", v)), nil
			},
		},
		{
			name:        "random_uuid",
			description: "Returns a random UUID",
			handler: func(_ context.Context, _ json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				return textResult(newUUID()), nil
			},
		},
		{
			name:        "current_time",
			description: "Returns the current time in RFC3339 UTC",
			handler: func(_ context.Context, _ json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				return textResult(time.Now().UTC().Format(time.RFC3339)), nil
			},
		},
		{
			name:        "noop",
			description: "Does nothing and returns an empty success",
			handler: func(_ context.Context, _ json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				return textResult(""), nil
			},
		},
	}
}
