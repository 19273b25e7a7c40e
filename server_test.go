package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

type sentinelToolServer struct {
	result CallToolResult
	err    error
}

func (s *sentinelToolServer) ListTools(
	context.Context, ListToolsParams, ProgressReporter, RequestClientFunc,
) (ListToolsResult, error) {
	return ListToolsResult{}, nil
}

func (s *sentinelToolServer) CallTool(
	context.Context, CallToolParams, ProgressReporter, RequestClientFunc,
) (CallToolResult, error) {
	return s.result, s.err
}

func callCallToolMsg(t *testing.T, toolServer ToolServer) (CallToolResult, error) {
	t.Helper()
	ss := serverSession{toolServer: toolServer}
	params, err := json.Marshal(CallToolParams{Name: "whatever"})
	if err != nil {
		t.Fatalf("failed to marshal params: %v", err)
	}
	msg := JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: "1", Method: MethodToolsCall, Params: params}
	return ss.callCallTool(context.Background(), msg, nil)
}

func TestCallCallToolUnknownNameIsAJSONRPCApplicationError(t *testing.T) {
	_, err := callCallToolMsg(t, &sentinelToolServer{
		err: fmt.Errorf("unknown tool %q: %w", "whatever", ErrToolNotFound),
	})
	if err == nil {
		t.Fatalf("expected an error")
	}
	var jsonErr JSONRPCError
	if !errors.As(err, &jsonErr) {
		t.Fatalf("expected a JSONRPCError, got %T: %v", err, err)
	}
	if jsonErr.Code != jsonRPCToolNotFoundCode {
		t.Fatalf("expected code %d, got %d", jsonRPCToolNotFoundCode, jsonErr.Code)
	}
}

func TestCallCallToolInvalidArgumentsIsAJSONRPCInvalidParamsError(t *testing.T) {
	_, err := callCallToolMsg(t, &sentinelToolServer{
		err: fmt.Errorf("invalid arguments: %w", ErrInvalidToolArguments),
	})
	if err == nil {
		t.Fatalf("expected an error")
	}
	var jsonErr JSONRPCError
	if !errors.As(err, &jsonErr) {
		t.Fatalf("expected a JSONRPCError, got %T: %v", err, err)
	}
	if jsonErr.Code != jsonRPCInvalidParamsCode {
		t.Fatalf("expected code %d, got %d", jsonRPCInvalidParamsCode, jsonErr.Code)
	}
}

func TestCallCallToolDomainErrorBecomesIsErrorContent(t *testing.T) {
	result, err := callCallToolMsg(t, &sentinelToolServer{err: errors.New("division by zero")})
	if err != nil {
		t.Fatalf("expected a successful JSON-RPC response carrying a domain error, got %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected IsError to be true for a domain failure, got %+v", result)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "division by zero" {
		t.Fatalf("expected the domain error message as content, got %+v", result.Content)
	}
}
