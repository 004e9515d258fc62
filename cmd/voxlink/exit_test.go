package main

import (
	"errors"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestExitErrHandler_NilError(_ *testing.T) {
	exitErrHandler(nil, nil)
}

func TestExitErrHandler_ExitCoder(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"success no message", cli.Exit("", 0), 0},
		{"usage error", cli.Exit("an endpoint is required", 1), 1},
		{"connection failure", cli.Exit("connect timed out", 2), 2},
		{"event rejected", cli.Exit("INVALID_REQUEST_EXCEPTION: bad event", 3), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var exitCoder cli.ExitCoder
			if !errors.As(tt.err, &exitCoder) {
				t.Fatalf("error should be cli.ExitCoder")
			}
			if exitCoder.ExitCode() != tt.wantCode {
				t.Errorf("exit code = %d, want %d", exitCoder.ExitCode(), tt.wantCode)
			}
		})
	}
}

func TestExitErrHandler_WrappedExitCoder(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), cli.Exit("inner error", 42))

	var exitCoder cli.ExitCoder
	if !errors.As(wrapped, &exitCoder) {
		t.Fatal("wrapped error should still match cli.ExitCoder")
	}
	if exitCoder.ExitCode() != 42 {
		t.Errorf("exit code = %d, want 42", exitCoder.ExitCode())
	}
}

func TestExitErrHandler_RegularError(t *testing.T) {
	var exitCoder cli.ExitCoder
	if errors.As(errors.New("regular error"), &exitCoder) {
		t.Fatal("regular error should not be cli.ExitCoder")
	}
}

func TestNewApp_Commands(t *testing.T) {
	app := newApp()
	want := []string{"listen", "send", "replay", "stats", "version"}
	if len(app.Commands) != len(want) {
		t.Fatalf("commands = %d, want %d", len(app.Commands), len(want))
	}
	for i, name := range want {
		if app.Commands[i].Name != name {
			t.Errorf("Commands[%d] = %q, want %q", i, app.Commands[i].Name, name)
		}
	}
}
