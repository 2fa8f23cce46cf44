package util

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 40)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("Line exceeds %d characters: %q", Wrap, line)
		}
	}
	if got := WrapString("  short   text "); got != "short text" {
		t.Errorf("Expected whitespace to be normalised, got %q", got)
	}
}

func TestOpenCache(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cmd := &cobra.Command{Use: "test"}
	SetupCacheFlags(cmd)
	cmd.PersistentFlags().String("log-level", "warn", "")
	if err := cmd.ParseFlags([]string{"--base-dir", t.TempDir(), "--transformer", "json+zstd", "--sync-timeout", "500"}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}
	if err := BindCommandFlags(cmd); err != nil {
		t.Fatalf("Failed to bind flags: %v", err)
	}

	conf := GetCacheConfig()
	if conf.SyncTimeout != 500*time.Millisecond {
		t.Errorf("Expected sync timeout 500ms, got %s", conf.SyncTimeout)
	}
	if conf.LockMode != "file" || conf.ClusterDepth != 2 || !conf.NestedLockProtection {
		t.Errorf("Unexpected defaults: %+v", conf)
	}

	c, err := OpenCache(conf)
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	ctx := context.Background()
	if err := c.Set(ctx, "g", "k", "v", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, ok, err := c.Get(ctx, "g", "k", time.Minute); err != nil || !ok || v != "v" {
		t.Errorf("Expected stored value, got %q ok=%v err=%v", v, ok, err)
	}

	conf.Transformer = "xml"
	if _, err := OpenCache(conf); err == nil {
		t.Errorf("Expected error for unknown transformer")
	}
}
