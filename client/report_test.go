package client

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"":       ModeRead,
		"read":   ModeRead,
		"write":  ModeWrite,
		"WRITE":  ModeWrite,
		" Write": ModeWrite,
		"delete": ModeRead,
	}
	for in, want := range tests {
		if got := ParseMode(in); got != want {
			t.Errorf("ParseMode(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("debug", &buf)
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	logger.Debug("device flow", "state", StatePolling)
	if !strings.Contains(buf.String(), `"state":"polling"`) {
		t.Fatalf("expected JSON debug line, got %q", buf.String())
	}
	if _, err := NewLogger("chatty", &buf); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestReport(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		mode       Mode
		wantStdout string
		wantStderr string
	}{
		{"read_ok", http.StatusOK, ModeRead, "GET /api/orders -> 200 OK (read)", ""},
		{"write_ok", http.StatusCreated, ModeWrite, "POST /api/orders -> 201 Created (write)", ""},
		{"forbidden", http.StatusForbidden, ModeWrite, "", "lacks 'write:orders'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, seen := apiServer(t, tt.status, `{}`)
			caller := NewAPICaller(srv.URL, AcquiredToken{AccessToken: "abc"}, srv.Client())
			var stdout, stderr bytes.Buffer
			if err := caller.Report(context.Background(), tt.mode, WorkerOrder, &stdout, &stderr); err != nil {
				t.Fatalf("Report returned error: %v", err)
			}
			if tt.wantStdout != "" && !strings.Contains(stdout.String(), tt.wantStdout) {
				t.Fatalf("stdout %q missing %q", stdout.String(), tt.wantStdout)
			}
			if tt.wantStderr != "" && !strings.Contains(stderr.String(), tt.wantStderr) {
				t.Fatalf("stderr %q missing %q", stderr.String(), tt.wantStderr)
			}
			if method, _, _, _ := seen.get(); (tt.mode == ModeWrite) != (method == http.MethodPost) {
				t.Fatalf("mode %s sent %s", tt.mode, method)
			}
		})
	}
}

func TestReportNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	var stdout, stderr bytes.Buffer
	err := NewAPICaller(base, AcquiredToken{AccessToken: "abc"}, nil).Report(context.Background(), ModeRead, nil, &stdout, &stderr)
	if !errors.Is(err, ErrNetwork) || ExitCode(err) != ExitNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
}
