package config

import (
	"context"
	"os"
	"testing"
	"time"

	"dmvwatch/pkg/logx"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
offices:
  - name: Cary
`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, logx.Nop(), func(cfg *Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		})
	}()

	// Give the watcher time to register before mutating the file.
	time.Sleep(100 * time.Millisecond)
	next := `
offices:
  - name: Cary
  - name: Durham
`
	if err := os.WriteFile(path, []byte(next), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if len(cfg.Offices) != 2 {
			t.Fatalf("reloaded config has %d offices, want 2", len(cfg.Offices))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not deliver reload")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Watch returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop after cancel")
	}
}

func TestWatchSkipsBrokenConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
offices:
  - name: Cary
`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	go func() {
		_ = Watch(ctx, path, logx.Nop(), func(cfg *Config) { reloaded <- cfg })
	}()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`offices: [{}`), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		t.Fatalf("broken document delivered a reload: %+v", cfg)
	case <-time.After(700 * time.Millisecond):
		// Debounce window plus margin elapsed with no callback.
	}
}
