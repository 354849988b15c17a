package registry

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"pipelined/internal/errs"
)

func writeDef(t *testing.T, root, name, version, file, content string) string {
	t.Helper()
	dir := filepath.Join(root, name, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	p := filepath.Join(dir, file)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

const detectJSON = `{
  "type": "GStreamer",
  "description": "detection",
  "template": ["uridecodebin uri={source.uri} name=source", "! gvadetect threshold={threshold}", "! appsink name=destination"],
  "parameters": {
    "type": "object",
    "properties": {"threshold": {"type": "number", "default": 0.4}, "device": {"type": "string"}},
    "required": ["source"]
  }
}`

func TestLoadDirFormats(t *testing.T) {
	root := t.TempDir()
	writeDef(t, root, "detect-v1", "1", "pipeline.json", detectJSON)
	writeDef(t, root, "classify", "2", "pipeline.yaml", "type: GStreamer\ntemplate: videotestsrc ! appsink name=destination\nparameters:\n  properties:\n    fps:\n      default: 15\n")
	writeDef(t, root, "audio", "1", "pipeline.toml", "type = \"GStreamer\"\ntemplate = \"audiotestsrc ! appsink name=destination\"\n")
	writeDef(t, root, "notes", "1", "README.md", "ignored")

	defs, skipped, err := LoadDir(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(skipped) != 0 {
		t.Fatalf("unexpected skipped: %+v", skipped)
	}
	if len(defs) != 3 {
		t.Fatalf("expected 3 definitions, got %d", len(defs))
	}
	for _, d := range defs {
		if d.Name == "detect-v1" {
			want := "uridecodebin uri={source.uri} name=source ! gvadetect threshold={threshold} ! appsink name=destination"
			if d.Template != want {
				t.Fatalf("template join: %q", d.Template)
			}
			if d.Defaults["threshold"] != 0.4 {
				t.Fatalf("threshold default: %v", d.Defaults["threshold"])
			}
			if _, ok := d.Defaults["device"]; ok {
				t.Fatalf("slot without default must not appear in defaults")
			}
			if diff := cmp.Diff([]string{"source"}, d.Required); diff != "" {
				t.Fatalf("required (-want +got):\n%s", diff)
			}
		}
	}
}

func TestLoadDirSkipsMalformed(t *testing.T) {
	root := t.TempDir()
	writeDef(t, root, "good", "1", "pipeline.json", `{"template":"fakesrc ! fakesink"}`)
	writeDef(t, root, "bad", "1", "pipeline.json", `{"template":`)
	writeDef(t, root, "empty", "1", "pipeline.json", `{"template":[]}`)
	defs, skipped, err := LoadDir(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs) != 1 || defs[0].Name != "good" {
		t.Fatalf("unexpected defs: %+v", defs)
	}
	if len(skipped) != 2 {
		t.Fatalf("expected 2 skipped, got %+v", skipped)
	}
	for _, s := range skipped {
		if !errs.IsConfiguration(s.Err) {
			t.Fatalf("expected configuration error for %s, got %v", s.Path, s.Err)
		}
	}
}

func TestLoadDirExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir on this platform: %v", err)
	}
	hTmp, err := os.MkdirTemp(home, "pipelined-registry-*")
	if err != nil {
		t.Skipf("cannot create temp under home: %v", err)
	}
	defer os.RemoveAll(hTmp)
	writeDef(t, hTmp, "p", "1", "pipeline.json", `{"template":"fakesrc ! fakesink"}`)
	var tildePath string
	if runtime.GOOS == "windows" {
		tildePath = filepath.Join("~", filepath.Base(hTmp))
	} else {
		tildePath = "~/" + filepath.Base(hTmp)
	}
	defs, _, err := LoadDir(tildePath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs) != 1 || defs[0].Name != "p" {
		t.Fatalf("unexpected defs: %+v", defs)
	}
}

func TestLoadDirMissingRoot(t *testing.T) {
	if _, _, err := LoadDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing root")
	}
}

func TestRegistryGetIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeDef(t, root, "detect-v1", "1", "pipeline.json", detectJSON)
	r := New(zerolog.Nop())
	if _, err := r.Load(root); err != nil {
		t.Fatalf("load: %v", err)
	}
	first, err := r.Get("detect-v1", "1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := r.Get("detect-v1", "1")
		if err != nil {
			t.Fatalf("get #%d: %v", i, err)
		}
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("lookup not idempotent (-first +again):\n%s", diff)
		}
	}
}

func TestRegistryLatestAndNotFound(t *testing.T) {
	root := t.TempDir()
	writeDef(t, root, "p", "1", "pipeline.json", `{"template":"a"}`)
	writeDef(t, root, "p", "10", "pipeline.json", `{"template":"b"}`)
	writeDef(t, root, "p", "2", "pipeline.json", `{"template":"c"}`)
	r := New(zerolog.Nop())
	if _, err := r.Load(root); err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, v := range []string{"", "latest"} {
		d, err := r.Get("p", v)
		if err != nil || d.Version != "10" {
			t.Fatalf("latest(%q): %+v %v", v, d, err)
		}
	}
	if _, err := r.Get("p", "3"); !errs.IsNotFound(err) {
		t.Fatalf("expected not found for unknown version, got %v", err)
	}
	if _, err := r.Get("q", "1"); !errs.IsNotFound(err) {
		t.Fatalf("expected not found for unknown name, got %v", err)
	}
	list := r.List()
	var got []string
	for _, d := range list {
		got = append(got, d.Version)
	}
	if diff := cmp.Diff([]string{"1", "2", "10"}, got); diff != "" {
		t.Fatalf("list order (-want +got):\n%s", diff)
	}
}

func TestRegistryReloadIsExplicit(t *testing.T) {
	root := t.TempDir()
	writeDef(t, root, "p", "1", "pipeline.json", `{"template":"a"}`)
	r := New(zerolog.Nop())
	if _, err := r.Load(root); err != nil {
		t.Fatalf("load: %v", err)
	}
	writeDef(t, root, "q", "1", "pipeline.json", `{"template":"b"}`)
	if _, err := r.Get("q", "1"); !errs.IsNotFound(err) {
		t.Fatalf("new definition visible before reload")
	}
	if err := r.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := r.Get("q", "1"); err != nil {
		t.Fatalf("definition missing after reload: %v", err)
	}
	if len(r.List()) != 2 {
		t.Fatalf("expected 2 definitions after reload")
	}
}

func TestFailedReloadKeepsDefinitions(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "pipelines")
	writeDef(t, root, "detect-v1", "1", "pipeline.json", detectJSON)
	r := New(zerolog.Nop())
	if _, err := r.Load(root); err != nil {
		t.Fatalf("load: %v", err)
	}
	moved := filepath.Join(parent, "moved")
	if err := os.Rename(root, moved); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := r.Reload(); err == nil {
		t.Fatalf("expected reload error with the root missing")
	}
	if _, err := r.Get("detect-v1", "1"); err != nil {
		t.Fatalf("definition dropped by failed reload: %v", err)
	}
	if err := os.Rename(moved, root); err != nil {
		t.Fatalf("restore: %v", err)
	}
	writeDef(t, root, "classify", "1", "pipeline.json", `{"template":"b"}`)
	if err := r.Reload(); err != nil {
		t.Fatalf("reload after restore: %v", err)
	}
	if got := len(r.List()); got != 2 {
		t.Fatalf("definitions after restore: %d", got)
	}
}
