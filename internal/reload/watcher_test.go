package reload

import (
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
)

func TestUniquePathsFiltersDuplicatesAndEmptyValues(t *testing.T) {
	paths := []string{"", "/tmp/a", "/tmp/b", "/tmp/a", "\t", "/tmp/c", "/tmp/b"}
	got := uniquePaths(paths)
	want := []string{"/tmp/a", "/tmp/b", "/tmp/c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("uniquePaths() = %v, want %v", got, want)
	}
}

func TestWatcherUpdateTracksExistingStepFiles(t *testing.T) {
	dir := t.TempDir()
	stepFile := filepath.Join(dir, "01_a.param")
	stepsFile := filepath.Join(dir, "configuration_steps.yaml")
	writeFile(t, stepFile, "A,1\n")
	writeFile(t, stepsFile, "steps: {}\n")

	var watcher Watcher
	if err := watcher.Update(stepFile, stepsFile, filepath.Join(dir, "missing.param"), dir); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if len(watcher.files) != 2 {
		t.Fatalf("expected 2 tracked files, got %d", len(watcher.files))
	}
	want := []string{stepFile, stepsFile}
	sort.Strings(want)
	if got := watcher.Tracked(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Tracked() = %v, want %v", got, want)
	}
}

func TestWatcherCheckDetectsChangesAndRemovals(t *testing.T) {
	dir := t.TempDir()
	fileA := filepath.Join(dir, "01_a.param")
	fileB := filepath.Join(dir, "02_b.param")
	writeFile(t, fileA, "A,1\n")
	writeFile(t, fileB, "B,2\n")

	watcher, err := NewWatcher(fileA, fileB)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	if changed, err := watcher.Check(); err != nil {
		t.Fatalf("Check() error = %v", err)
	} else if len(changed) != 0 {
		t.Fatalf("expected no changes on first check, got %v", changed)
	}

	writeFile(t, fileA, "A,1.5  # edited elsewhere\n")
	if err := os.Remove(fileB); err != nil {
		t.Fatalf("Remove(%s) error = %v", fileB, err)
	}

	changed, err := watcher.Check()
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	expected := []string{fileA, fileB}
	sort.Strings(expected)
	if !reflect.DeepEqual(changed, expected) {
		t.Fatalf("Check() = %v, want %v", changed, expected)
	}
}

func TestWatcherRefreshAcceptsOwnWrites(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "01_a.param")
	writeFile(t, file, "A,1\n")

	watcher, err := NewWatcher(file)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	writeFile(t, file, "A,2  # saved\n")
	if err := watcher.Refresh(); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if changed, _ := watcher.Check(); len(changed) != 0 {
		t.Fatalf("expected no changes after refresh, got %v", changed)
	}
}

func TestWatcherHandlesNilReceiver(t *testing.T) {
	var watcher *Watcher
	if err := watcher.Update("a.param"); err != nil {
		t.Fatalf("nil watcher Update() error = %v", err)
	}
	if changed, err := watcher.Check(); err != nil {
		t.Fatalf("nil watcher Check() error = %v", err)
	} else if changed != nil {
		t.Fatalf("expected nil slice from nil watcher, got %v", changed)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}
