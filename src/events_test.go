package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testTasks = `tasks:
  - name: faces
    conditions:
      - name: happy
        onsets: [30, 0]
        duration: 15
      - name: sad
        onsets: [60]
        duration: 15
        weight: 2
`

func Test_loadTasks(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tasks.yaml")
	if err := os.WriteFile(p, []byte(testTasks), 0644); err != nil {
		t.Fatal(err)
	}
	tf, err := loadTasks(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(tf.Tasks) != 1 || tf.Tasks[0].Name != "faces" || len(tf.Tasks[0].Conditions) != 2 {
		t.Errorf("loadTasks() = %+v", tf)
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("tasks: []\n"), 0644)
	if _, err := loadTasks(bad); err == nil {
		t.Errorf("loadTasks() accepted an empty task list")
	}
}

func Test_eventRows(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tasks.yaml")
	if err := os.WriteFile(p, []byte(testTasks), 0644); err != nil {
		t.Fatal(err)
	}
	tf, err := loadTasks(p)
	if err != nil {
		t.Fatal(err)
	}
	rows := eventRows(tf.Tasks[0])
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	// sorted by onset across conditions
	if rows[0].Onset != 0 || rows[1].Onset != 30 || rows[2].Onset != 60 {
		t.Errorf("rows not sorted by onset: %+v", rows)
	}
	// weight defaults to 1 when unset
	if rows[0].Weight != 1 || rows[2].Weight != 2 {
		t.Errorf("weights wrong: %+v", rows)
	}
}

func Test_runEvents(t *testing.T) {
	project := t.TempDir()
	funcDir := filepath.Join(project, "sub-01", "ses-01", "func")
	if err := os.MkdirAll(funcDir, 0755); err != nil {
		t.Fatal(err)
	}
	tasksPath := filepath.Join(project, "code", "tasks.yaml")
	os.MkdirAll(filepath.Dir(tasksPath), 0755)
	if err := os.WriteFile(tasksPath, []byte(testTasks), 0644); err != nil {
		t.Fatal(err)
	}
	if err := runEvents(project, "code/tasks.yaml"); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(funcDir, "sub-01_ses-01_task-faces_events.tsv")
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("expected events file missing: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "onset\tduration\ttrial_type\tweight" {
		t.Errorf("header = %q", lines[0])
	}
	if len(lines) != 4 {
		t.Errorf("got %d lines, want header plus 3 events:\n%s", len(lines), data)
	}

	// a second run keeps the existing, possibly hand-edited file
	if err := os.WriteFile(dest, []byte("edited"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := runEvents(project, "code/tasks.yaml"); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(dest)
	if string(data) != "edited" {
		t.Errorf("runEvents overwrote an existing events file")
	}
}
