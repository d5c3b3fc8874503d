package cli

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestCommandsRegistered(t *testing.T) {
	want := map[string][]string{
		"serve":      nil,
		"migrate":    nil,
		"fencecheck": nil,
		"dispatch":   {"listen"},
		"sweep":      {"limit", "dry-run"},
	}

	for name, flags := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %s not registered: %v", name, err)
			continue
		}
		for _, f := range flags {
			if cmd.Flags().Lookup(f) == nil {
				t.Errorf("%s is missing --%s", name, f)
			}
		}
	}

	if rootCmd.PersistentFlags().ShorthandLookup("c") == nil {
		t.Error("root command is missing -c")
	}
}

func TestPersistentPreRunLoadsConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "log:\n  level: debug\n  format: text\ngeofence:\n  batch_size: 42\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("GPSCATCHER_DISPATCH_MAX_ATTEMPTS", "9")

	old := cfgFile
	cfgFile = path
	defer func() { cfgFile = old }()

	if err := rootCmd.PersistentPreRunE(rootCmd, nil); err != nil {
		t.Fatalf("PersistentPreRunE() error: %v", err)
	}
	if cfg.Geofence.BatchSize != 42 || cfg.Dispatch.MaxAttempts != 9 {
		t.Errorf("cfg = %+v %+v", cfg.Geofence, cfg.Dispatch)
	}
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("log level = %v", logger.GetLevel())
	}
}

func TestPersistentPreRunRejectsBadLogLevel(t *testing.T) {
	t.Setenv("GPSCATCHER_LOG_LEVEL", "loud")

	old := cfgFile
	cfgFile = ""
	defer func() { cfgFile = old }()

	if err := rootCmd.PersistentPreRunE(rootCmd, nil); err == nil {
		t.Error("expected an error for an invalid log level")
	}
}

func TestEvery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	done := make(chan struct{})
	go func() {
		every(ctx, 5*time.Millisecond, func(context.Context) {
			if calls.Add(1) == 3 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("every did not stop after cancel")
	}
	if calls.Load() < 3 {
		t.Errorf("calls = %d, want at least 3", calls.Load())
	}

	// disabled interval returns immediately
	every(context.Background(), 0, func(context.Context) { t.Error("disabled loop ran") })
}
