package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/five82/threadline/internal/interaction"
	"github.com/five82/threadline/internal/retry"
)

func TestReportOutcome(t *testing.T) {
	tests := []struct {
		name    string
		outcome interaction.Outcome
		wantOut string
		wantErr string
	}{
		{
			name:    "success",
			outcome: interaction.Outcome{Action: interaction.Like("p1"), Status: interaction.StatusSucceeded},
			wantOut: "like: ok\n",
		},
		{
			name: "created comment",
			outcome: interaction.Outcome{
				Action:    interaction.CreateComment("p1", "hi"),
				Status:    interaction.StatusSucceeded,
				CommentID: "c9",
			},
			wantOut: "comment create: ok (comment c9)\n",
		},
		{
			name: "failure",
			outcome: interaction.Outcome{
				Action:   interaction.Like("p1"),
				Status:   interaction.StatusFailed,
				Class:    retry.ClassTransient,
				Attempts: 3,
				Err:      errors.New("connection refused"),
			},
			wantErr: "like failed after 3 attempt(s)",
		},
		{
			name: "unconfirmed",
			outcome: interaction.Outcome{
				Action:      interaction.Like("p1"),
				Status:      interaction.StatusFailed,
				Unconfirmed: true,
				Err:         errors.New("timeout"),
			},
			wantErr: "sent but not confirmed",
		},
		{
			name: "still pending",
			outcome: interaction.Outcome{
				Action: interaction.Like("p1"),
				Status: interaction.StatusPending,
				Err:    context.DeadlineExceeded,
			},
			wantErr: "still waiting",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := reportOutcome(&out, tt.outcome)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("reportOutcome() error = %v", err)
				}
				if out.String() != tt.wantOut {
					t.Errorf("output = %q, want %q", out.String(), tt.wantOut)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("reportOutcome() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestPrintLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threadline.log")
	content := `{"level":"debug","msg":"request"}
{"level":"info","msg":"threadline_started","user":"me"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	var out bytes.Buffer
	if err := printLogs(&out, path, 0, zapcore.InfoLevel, false); err != nil {
		t.Fatalf("printLogs() error = %v", err)
	}
	if got, want := out.String(), "INFO  threadline_started user=me\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestPrintLogs_Missing(t *testing.T) {
	var out bytes.Buffer
	path := filepath.Join(t.TempDir(), "none.log")
	if err := printLogs(&out, path, 10, zapcore.DebugLevel, false); err != nil {
		t.Fatalf("printLogs() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "no log entries") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"like", "react", "comment", "edit", "delete", "logs"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
