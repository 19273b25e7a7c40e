package mcp_test

import (
	"testing"

	mcp "github.com/nazq/mcp-test-server"
)

func TestLogLevelCellAllows(t *testing.T) {
	cases := []struct {
		name      string
		threshold mcp.LogLevel
		check     mcp.LogLevel
		want      bool
	}{
		{"equal level allowed", mcp.LogLevelInfo, mcp.LogLevelInfo, true},
		{"more severe allowed", mcp.LogLevelInfo, mcp.LogLevelError, true},
		{"less severe blocked", mcp.LogLevelWarning, mcp.LogLevelDebug, false},
		{"debug threshold allows everything", mcp.LogLevelDebug, mcp.LogLevelEmergency, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cell := mcp.NewLogLevelCell(tc.threshold)
			if got := cell.Allows(tc.check); got != tc.want {
				t.Errorf("Allows(%v) with threshold %v = %v, want %v", tc.check, tc.threshold, got, tc.want)
			}
		})
	}
}

func TestLogLevelCellSetUpdatesThreshold(t *testing.T) {
	cell := mcp.NewLogLevelCell(mcp.LogLevelError)
	if cell.Allows(mcp.LogLevelWarning) {
		t.Fatalf("expected warning to be blocked at error threshold")
	}

	cell.Set(mcp.LogLevelWarning)
	if !cell.Allows(mcp.LogLevelWarning) {
		t.Fatalf("expected warning to be allowed after lowering the threshold")
	}
	if cell.Get() != mcp.LogLevelWarning {
		t.Fatalf("expected Get to reflect the new threshold, got %v", cell.Get())
	}
}
