package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9999\npipelines_dir: /p\nmodels_dir: /m\nmax_running_pipelines: 3\nstop_timeout: 750ms\nrtsp:\n  enabled: true\n  addr: :8555\nstream:\n  cache_length: 12\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.PipelinesDir != "/p" || cfg.ModelsDir != "/m" || cfg.MaxRunningPipelines != 3 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.StopTimeout.Std() != 750*time.Millisecond {
		t.Fatalf("stop timeout: %v", cfg.StopTimeout.Std())
	}
	if !cfg.RTSP.Enabled || cfg.RTSP.Addr != ":8555" || cfg.Stream.CacheLength != 12 {
		t.Fatalf("unexpected nested cfg: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","models_dir":"/m","max_running_pipelines":2,"webrtc":{"enabled":true,"ice_servers":["stun:example.org:3478"]}}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.ModelsDir != "/m" || cfg.MaxRunningPipelines != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if !cfg.WebRTC.Enabled || len(cfg.WebRTC.ICEServers) != 1 {
		t.Fatalf("unexpected webrtc cfg: %+v", cfg.WebRTC)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\npipelines_dir=\"/x\"\nstop_timeout=\"2s\"\n[stream]\nframe_queue_size=8\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.PipelinesDir != "/x" || cfg.StopTimeout.Std() != 2*time.Second || cfg.Stream.FrameQueueSize != 8 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	bad := writeTempFile(t, d, "bad.yaml", "stop_timeout: soon\n")
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{MaxRunningPipelines: 4}.WithDefaults()
	if cfg.Addr != DefaultAddr || cfg.RTSP.Addr != DefaultRTSPAddr || cfg.StopTimeout.Std() != DefaultStopTimeout {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Stream.CacheLength != DefaultCacheLength || cfg.Stream.FrameQueueSize != DefaultFrameQueueSize || cfg.Stream.Template == "" {
		t.Fatalf("stream defaults not applied: %+v", cfg.Stream)
	}
	if cfg.MaxRunningPipelines != 4 {
		t.Fatalf("explicit value overwritten")
	}
}

func TestNewSourceSelectsVariant(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :1\n")
	src, err := NewSource(p)
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	fs, ok := src.(FileSource)
	if !ok {
		t.Fatalf("expected FileSource, got %T", src)
	}
	cfg, err := fs.Load(context.Background())
	if err != nil || cfg.Addr != ":1" {
		t.Fatalf("file load: %+v %v", cfg, err)
	}
	if err := fs.Watch(context.Background(), func(Config) { t.Fatalf("file source must not call back") }); err != nil {
		t.Fatalf("watch: %v", err)
	}

	src, err = NewSource("redis://localhost:6379/2?key=k1&channel=c1&format=json")
	if err != nil {
		t.Fatalf("redis source: %v", err)
	}
	rs, ok := src.(*RedisSource)
	if !ok {
		t.Fatalf("expected *RedisSource, got %T", src)
	}
	defer rs.Close()
	if rs.Key != "k1" || rs.Channel != "c1" || rs.Format != "json" {
		t.Fatalf("unexpected redis source: %+v", rs)
	}
	if rs.client.Options().DB != 2 {
		t.Fatalf("db not parsed: %d", rs.client.Options().DB)
	}
	if _, err := NewSource("  "); err == nil {
		t.Fatalf("expected error for empty source")
	}
}
