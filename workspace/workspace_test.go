package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFindRoot_BeadsMarker(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, ".beads"), 0755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(tmpDir, "src", "deep", "pkg")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	root, err := FindRoot(nested)
	if err != nil {
		t.Fatalf("FindRoot: %v", err)
	}
	if root != tmpDir {
		t.Errorf("root = %q, want %q", root, tmpDir)
	}
}

func TestFindRoot_GitFallback(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(tmpDir, "cmd")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	root, err := FindRoot(nested)
	if err != nil {
		t.Fatalf("FindRoot: %v", err)
	}
	if root != tmpDir {
		t.Errorf("root = %q, want %q", root, tmpDir)
	}
}

func TestFindRoot_BeadsPreferredOverGit(t *testing.T) {
	tmpDir := t.TempDir()
	// .git at the top, .beads nested below — .beads should win even though
	// the git root is an ancestor.
	if err := os.MkdirAll(filepath.Join(tmpDir, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	beadsRoot := filepath.Join(tmpDir, "project")
	if err := os.MkdirAll(filepath.Join(beadsRoot, ".beads"), 0755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(beadsRoot, "lib")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	root, err := FindRoot(nested)
	if err != nil {
		t.Fatalf("FindRoot: %v", err)
	}
	if root != beadsRoot {
		t.Errorf("root = %q, want %q", root, beadsRoot)
	}
}

func TestFindRoot_NoMarker(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := FindRoot(tmpDir)
	if !errors.Is(err, ErrContextUnavailable) {
		t.Errorf("err = %v, want ErrContextUnavailable", err)
	}
}

func TestFindRoot_MarkerIsFileNotDir(t *testing.T) {
	tmpDir := t.TempDir()
	// A .beads file (not directory) should not count as a root marker.
	if err := os.WriteFile(filepath.Join(tmpDir, ".beads"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := FindRoot(tmpDir)
	if !errors.Is(err, ErrContextUnavailable) {
		t.Errorf("err = %v, want ErrContextUnavailable", err)
	}
}
