package fixtures

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	mcp "github.com/nazq/mcp-test-server"
)

type sleepParams struct {
	DurationMS int `json:"duration_ms"`
}

type failWithMessageParams struct {
	Message string `json:"message"`
}

type nestedDataParams struct {
	Depth int `json:"depth"`
}

type binaryDataParams struct {
	Bytes int `json:"bytes"`
}

type largeResponseParams struct {
	Items int `json:"items"`
}

// testingToolDefs are fixtures that exist to exercise the protocol's edge cases —
// deliberate failures, slow responses, large payloads — rather than to do anything
// useful.
func testingToolDefs() []toolDef {
	return []toolDef{
		{
			name:        "sleep",
			description: "Sleeps for the given duration in milliseconds",
			paramsType:  &sleepParams{},
			handler: func(ctx context.Context, args json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[sleepParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				select {
				case <-time.After(time.Duration(p.DurationMS) * time.Millisecond):
				case <-ctx.Done():
					return mcp.CallToolResult{}, ctx.Err()
				}
				return textResult("slept"), nil
			},
		},
		{
			name:        "fail",
			description: "Always fails with a domain error",
			handler: func(_ context.Context, _ json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				return mcp.CallToolResult{}, fmt.Errorf("tool deliberately failed")
			},
		},
		{
			name:        "fail_with_message",
			description: "Always fails, with the given message as the error text",
			paramsType:  &failWithMessageParams{},
			handler: func(_ context.Context, args json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[failWithMessageParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				return mcp.CallToolResult{}, fmt.Errorf("%s", p.Message)
			},
		},
		{
			name:        "slow_echo",
			description: "Echoes text after a short delay, reporting progress along the way",
			paramsType:  &oneStringParams{},
			handler: func(ctx context.Context, args json.RawMessage, report mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[oneStringParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				for i := 1; i <= 3; i++ {
					select {
					case <-time.After(200 * time.Millisecond):
					case <-ctx.Done():
						return mcp.CallToolResult{}, ctx.Err()
					}
					if report != nil {
						report(mcp.ProgressParams{Progress: float64(i), Total: 3})
					}
				}
				return textResult(p.Text), nil
			},
		},
		{
			name:        "nested_data",
			description: "Returns a recursively nested JSON structure of the given depth",
			paramsType:  &nestedDataParams{},
			handler: func(_ context.Context, args json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[nestedDataParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				bs, _ := json.Marshal(buildNested(p.Depth))
				return textResult(string(bs)), nil
			},
		},
		{
			name:        "large_response",
			description: "Returns a text response padded with the given number of filler items",
			paramsType:  &largeResponseParams{},
			handler: func(_ context.Context, args json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[largeResponseParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				items := make([]string, p.Items)
				for i := range items {
					items[i] = fmt.Sprintf("item-%d", i)
				}
				bs, _ := json.Marshal(items)
				return textResult(string(bs)), nil
			},
		},
		{
			name:        "binary_data",
			description: "Returns a synthetic binary blob of the given size as base64 image content",
			paramsType:  &binaryDataParams{},
			handler: func(_ context.Context, args json.RawMessage, _ mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[binaryDataParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				data := make([]byte, p.Bytes)
				for i := range data {
					data[i] = byte(i % 256)
				}
				return mcp.CallToolResult{
					Content: []mcp.Content{{
						Type:     mcp.ContentTypeImage,
						Data:     base64.StdEncoding.EncodeToString(data),
						MimeType: "application/octet-stream",
					}},
				}, nil
			},
		},
	}
}

func buildNested(depth int) any {
	if depth <= 0 {
		return "leaf"
	}
	return map[string]any{
		"level":  depth,
		"nested": buildNested(depth - 1),
	}
}

type taskDurationParams struct {
	DurationMS int `json:"duration_ms"`
}

type taskIterationsParams struct {
	Iterations int `json:"iterations"`
}

// taskToolDefs are tools designed to be invoked via tasks/create rather than tools/call:
// they run long enough, and poll their context often enough, to exercise cooperative
// task cancellation.
func taskToolDefs() []toolDef {
	return []toolDef{
		{
			name:        "task_cancellable",
			description: "Runs for duration_ms, checking for cancellation at least once a second",
			paramsType:  &taskDurationParams{},
			handler: func(ctx context.Context, args json.RawMessage, report mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[taskDurationParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				deadline := time.Now().Add(time.Duration(p.DurationMS) * time.Millisecond)
				ticker := time.NewTicker(time.Second)
				defer ticker.Stop()
				for time.Now().Before(deadline) {
					select {
					case <-ctx.Done():
						return mcp.CallToolResult{}, ctx.Err()
					case <-ticker.C:
						if report != nil {
							report(mcp.ProgressParams{Progress: float64(time.Until(deadline))})
						}
					}
				}
				return textResult("completed"), nil
			},
		},
		{
			name:        "task_slow_compute",
			description: "Runs a CPU-bound loop for the given number of iterations, checking for cancellation between chunks",
			paramsType:  &taskIterationsParams{},
			handler: func(ctx context.Context, args json.RawMessage, report mcp.ProgressReporter) (mcp.CallToolResult, error) {
				p, err := unmarshalArgs[taskIterationsParams](args)
				if err != nil {
					return mcp.CallToolResult{}, err
				}
				const chunk = 100000
				total := 0.0
				for i := 0; i < p.Iterations; i++ {
					total += float64(i)
					if i%chunk == 0 {
						select {
						case <-ctx.Done():
							return mcp.CallToolResult{}, ctx.Err()
						default:
						}
						if report != nil {
							report(mcp.ProgressParams{Progress: float64(i), Total: float64(p.Iterations)})
						}
					}
				}
				return textResult(fmt.Sprintf("%g", total)), nil
			},
		},
	}
}
