package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCollectEnrollFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"25MCA-31.jpg", "25MCA-02.PNG", "notes.txt", ".jpg", "25MCA-10.webp"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.jpg"), 0o700); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}

	files, err := collectEnrollFiles(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"25MCA-02", "25MCA-10", "25MCA-31"}
	if len(files) != len(want) {
		t.Fatalf("expected %d files, got %+v", len(want), files)
	}
	for i, roll := range want {
		if files[i].RollNumber != roll {
			t.Fatalf("file %d: expected roll %q, got %q", i, roll, files[i].RollNumber)
		}
	}
}

func TestCollectEnrollFilesMissingDir(t *testing.T) {
	if _, err := collectEnrollFiles(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
