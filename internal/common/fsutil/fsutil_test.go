package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"pipelined/internal/errs"
)

func TestExpandHome(t *testing.T) {
	// Set a deterministic HOME for the duration of this test so we never skip.
	origHome, hadHome := os.LookupEnv("HOME")
	origUserProfile, hadUserProfile := os.LookupEnv("USERPROFILE")
	t.Cleanup(func() {
		if hadHome {
			_ = os.Setenv("HOME", origHome)
		} else {
			_ = os.Unsetenv("HOME")
		}
		if hadUserProfile {
			_ = os.Setenv("USERPROFILE", origUserProfile)
		} else {
			_ = os.Unsetenv("USERPROFILE")
		}
	})

	home := t.TempDir()
	// Configure both env vars for cross-platform behavior of os.UserHomeDir.
	_ = os.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		_ = os.Setenv("USERPROFILE", home)
	}
	// raw path unaffected
	if got, err := ExpandHome("/tmp"); err != nil || got != "/tmp" {
		t.Fatalf("got %q err=%v", got, err)
	}
	// empty path
	if got, err := ExpandHome(""); err != nil || got != "" {
		t.Fatalf("got %q err=%v", got, err)
	}
	// ~ expansion
	p, err := ExpandHome("~")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if p != home {
		t.Fatalf("expected %q, got %q", home, p)
	}
	// ~/subdir
	sub := "test-sub"
	exp, err := ExpandHome("~/" + sub)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if runtime.GOOS == "windows" {
		if filepath.Base(exp) != sub {
			t.Fatalf("unexpected expanded path: %q", exp)
		}
	} else {
		expected := filepath.Join(home, sub)
		if exp != expected {
			t.Fatalf("expected %q, got %q", expected, exp)
		}
	}
}

func touch(t *testing.T, p string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, nil, 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
}

func TestFindSingle(t *testing.T) {
	dir := t.TempDir()
	if got, err := FindSingle(dir, "*.json"); err != nil || got != "" {
		t.Fatalf("empty dir: got %q err=%v", got, err)
	}
	touch(t, filepath.Join(dir, "proc.json"))
	got, err := FindSingle(dir, "*.json")
	if err != nil || filepath.Base(got) != "proc.json" {
		t.Fatalf("single: got %q err=%v", got, err)
	}
	touch(t, filepath.Join(dir, "other.json"))
	if _, err := FindSingle(dir, "*.json"); !errs.IsAmbiguousArtifact(err) {
		t.Fatalf("expected ambiguous artifact error, got %v", err)
	}
	// directories never count as candidates
	if err := os.Mkdir(filepath.Join(dir, "x.txt"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if got, err := FindSingle(dir, "*.txt"); err != nil || got != "" {
		t.Fatalf("dir candidate: got %q err=%v", got, err)
	}
}

func TestSubDirsAndResolveDir(t *testing.T) {
	dir := t.TempDir()
	for _, d := range []string{"b", "a", ".hidden"} {
		if err := os.Mkdir(filepath.Join(dir, d), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	touch(t, filepath.Join(dir, "file"))
	names, err := SubDirs(dir)
	if err != nil {
		t.Fatalf("subdirs: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected subdirs: %v", names)
	}
	if _, err := ResolveDir(filepath.Join(dir, "file")); err == nil {
		t.Fatalf("expected error for a regular file")
	}
	if got, err := ResolveDir(dir); err != nil || got != dir {
		t.Fatalf("resolve: %q %v", got, err)
	}
	if !PathExists(dir) || PathExists(filepath.Join(dir, "missing")) {
		t.Fatalf("PathExists mismatch")
	}
}
