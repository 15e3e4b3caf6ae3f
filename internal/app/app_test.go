package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskping/internal/entity"
)

func writeAppConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const testConfig = `
logging:
  level: error
  console: false
storage:
  driver: memory
push: {}
engine:
  workers: 2
`

func TestAppLifecycle(t *testing.T) {
	t.Parallel()
	a, err := New(writeAppConfig(t, testConfig))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// A submitted batch flows through the wired pipeline.
	if err := a.Source().Submit(ctx, []entity.ChangeEvent{{
		Kind: entity.EventInsert,
		Current: entity.Transaction{
			ID: "txn-1", Type: entity.TransactionApplication, Status: entity.StatusApplied,
			WorkerID: "worker-1", CustomerID: "cust-1",
		},
	}}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done must be closed after Stop")
	}
	if err := a.Err(); err != nil {
		t.Fatalf("Err after clean stop = %v", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown field", content: "storag:\n  driver: memory\n"},
		{name: "unknown driver", content: "storage:\n  driver: postgres\npush: {}\n"},
		{name: "proactive without schedule", content: "storage:\n  driver: memory\npush: {}\nproactive:\n  enabled: true\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(writeAppConfig(t, tt.content)); err == nil {
				t.Fatal("expected config error")
			}
		})
	}
}

func TestNewMissingConfigFile(t *testing.T) {
	t.Parallel()
	if _, err := New(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
