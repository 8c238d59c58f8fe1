package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestWalker_Walk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "data", "mtsamples.csv"))
	writeFile(t, filepath.Join(root, "data", "extra", "cardiology.csv"))
	writeFile(t, filepath.Join(root, "data", "archive", "old.csv"))
	writeFile(t, filepath.Join(root, "data", "notes.txt"))

	w := NewWalker([]string{"data/**/*.csv", "data/*.csv"}, []string{"data/archive/**"})
	files, err := w.Walk(root)
	if err != nil {
		t.Fatal(err)
	}

	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d: %v", len(files), files)
	}
	if filepath.Base(files[0].Path) != "cardiology.csv" || filepath.Base(files[1].Path) != "mtsamples.csv" {
		t.Errorf("unexpected order: %v", files)
	}
}

func TestWalker_NoMatches(t *testing.T) {
	files, err := NewWalker([]string{"*.csv"}, nil).Walk(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("expected no files, got %v", files)
	}
}
