package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newRedisSource(t *testing.T, mr *miniredis.Miniredis, format string) *RedisSource {
	t.Helper()
	src, err := NewRedisSource("redis://" + mr.Addr() + "/0?key=cfg&channel=cfg:changed&format=" + format)
	if err != nil {
		t.Fatalf("redis source: %v", err)
	}
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func TestRedisSourceLoadFormats(t *testing.T) {
	docs := map[string]string{
		"yaml": "addr: :9000\nmax_running_pipelines: 3\n",
		"json": `{"addr":":9000","max_running_pipelines":3}`,
		"toml": "addr = \":9000\"\nmax_running_pipelines = 3\n",
	}
	for format, doc := range docs {
		t.Run(format, func(t *testing.T) {
			mr := miniredis.RunT(t)
			if err := mr.Set("cfg", doc); err != nil {
				t.Fatalf("set: %v", err)
			}
			cfg, err := newRedisSource(t, mr, format).Load(context.Background())
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if cfg.Addr != ":9000" || cfg.MaxRunningPipelines != 3 {
				t.Fatalf("decoded config: %+v", cfg)
			}
		})
	}
}

func TestRedisSourceMissingKey(t *testing.T) {
	mr := miniredis.RunT(t)
	_, err := newRedisSource(t, mr, "yaml").Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), `"cfg" not set`) {
		t.Fatalf("expected unset key error, got %v", err)
	}
}

func TestRedisSourceWatchAppliesPublishedChange(t *testing.T) {
	mr := miniredis.RunT(t)
	if err := mr.Set("cfg", "max_running_pipelines: 1\n"); err != nil {
		t.Fatalf("set: %v", err)
	}
	src := newRedisSource(t, mr, "yaml")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Config, 4)
	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx, func(c Config) { got <- c }) }()

	if err := mr.Set("cfg", "max_running_pipelines: 5\nlog_level: debug\n"); err != nil {
		t.Fatalf("set: %v", err)
	}
	// the subscription is registered asynchronously
	deadline := time.Now().Add(2 * time.Second)
	for mr.Publish("cfg:changed", "1") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("watcher never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	select {
	case c := <-got:
		if c.MaxRunningPipelines != 5 || c.LogLevel != "debug" {
			t.Fatalf("reloaded config: %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("onChange not called after publish")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watch did not stop with its context")
	}
}
