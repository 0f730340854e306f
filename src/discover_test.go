package main

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// makeFeatDir creates a fake run-level result directory with the given
// contrast indices below base.
func makeFeatDir(t *testing.T, base string, name string, copes []int) string {
	t.Helper()
	dir := filepath.Join(base, name)
	statsDir := filepath.Join(dir, "stats")
	if err := os.MkdirAll(statsDir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, c := range copes {
		p := filepath.Join(statsDir, fmt.Sprintf("cope%d.nii.gz", c))
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// makeGfeatDir creates a fake group-level result directory with cope
// subdirectories below base.
func makeGfeatDir(t *testing.T, base string, name string, copes []int) string {
	t.Helper()
	dir := filepath.Join(base, name)
	for _, c := range copes {
		p := filepath.Join(dir, fmt.Sprintf("cope%d.feat", c), "stats")
		if err := os.MkdirAll(p, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(p, "cope1.nii.gz"), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func Test_versionSort(t *testing.T) {
	tests := []struct {
		name  string
		items []string
		want  []string
	}{
		{"Numeric aware", []string{"sub-10", "sub-2", "sub-1"}, []string{"sub-1", "sub-2", "sub-10"}},
		{"Deduplicates", []string{"a", "b", "a"}, []string{"a", "b"}},
		{"Mixed prefixes", []string{"subject-3", "sub-12", "sub-2"}, []string{"sub-2", "sub-12", "subject-3"}},
		{"Leading zeros", []string{"run-02", "run-1", "run-10"}, []string{"run-1", "run-02", "run-10"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := versionSort(tt.items)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("versionSort() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_normalize(t *testing.T) {
	tests := []struct {
		in   string
		fn   func(string) string
		want string
	}{
		{"sub-01", normalizeSubject, "1"},
		{"subject01", normalizeSubject, "1"},
		{"subjpilot-2", normalizeSubject, "2"},
		{"pilot-02", normalizeSubject, "2"},
		{"02", normalizeSubject, "2"},
		{"ses-01", normalizeSession, "1"},
		{"session-1", normalizeSession, "1"},
		{"baseline", normalizeSession, "baseline"},
		{"run-01", normalizeRun, "1"},
		{"run-1", normalizeRun, "1"},
		{"1", normalizeRun, "1"},
		{"01", normalizeRun, "1"},
	}
	for _, tt := range tests {
		if got := tt.fn(tt.in); got != tt.want {
			t.Errorf("normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func Test_subjectDirs(t *testing.T) {
	base := t.TempDir()
	for _, name := range []string{"sub-10", "sub-2", "pilot-1", "subjpilot-3", "notasubject", "code"} {
		if err := os.MkdirAll(filepath.Join(base, name), 0755); err != nil {
			t.Fatal(err)
		}
	}
	// a plain file must never show up
	os.WriteFile(filepath.Join(base, "sub-99"), []byte("x"), 0644)
	got := subjectDirs(base)
	want := []string{
		filepath.Join(base, "pilot-1"),
		filepath.Join(base, "sub-2"),
		filepath.Join(base, "sub-10"),
		filepath.Join(base, "subjpilot-3"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("subjectDirs() = %v, want %v", got, want)
	}
}

func Test_subjectDirsMissingBase(t *testing.T) {
	// a missing base path is a normal nothing-to-do condition
	got := subjectDirs(filepath.Join(t.TempDir(), "nowhere"))
	if len(got) != 0 {
		t.Errorf("subjectDirs() on missing base = %v, want empty", got)
	}
}

func Test_sessionDirs(t *testing.T) {
	base := t.TempDir()
	for _, name := range []string{"ses-02", "ses-1", "baseline", "endpoint", "anat"} {
		if err := os.MkdirAll(filepath.Join(base, name), 0755); err != nil {
			t.Fatal(err)
		}
	}
	got := sessionDirs(base)
	want := []string{
		filepath.Join(base, "baseline"),
		filepath.Join(base, "endpoint"),
		filepath.Join(base, "ses-1"),
		filepath.Join(base, "ses-02"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sessionDirs() = %v, want %v", got, want)
	}
}

func Test_contrastIndices(t *testing.T) {
	base := t.TempDir()
	feat := makeFeatDir(t, base, "task_run-01.feat", []int{3, 1, 2})
	// extra files that must be ignored
	os.WriteFile(filepath.Join(feat, "stats", "varcope1.nii.gz"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(feat, "stats", "cope.nii.gz"), []byte("x"), 0644)
	got, err := contrastIndices(feat, LevelLower)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Errorf("contrastIndices() = %v, want [1 2 3]", got)
	}

	gfeat := makeGfeatDir(t, base, "group.gfeat", []int{2, 5})
	got, err = contrastIndices(gfeat, LevelHigher)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []int{2, 5}) {
		t.Errorf("contrastIndices() = %v, want [2 5]", got)
	}
}

func Test_describeResultDir(t *testing.T) {
	base := t.TempDir()
	sesDir := filepath.Join(base, "sub-03", "ses-02")
	feat := makeFeatDir(t, sesDir, "task_run-01.feat", []int{1, 2})
	r, err := describeResultDir(feat)
	if err != nil {
		t.Fatal(err)
	}
	if r.Subject != "sub-03" || r.Session != "ses-02" || r.Run != "01" {
		t.Errorf("describeResultDir() = %+v, wanted sub-03/ses-02 run 01", r)
	}
	if r.Level != LevelLower {
		t.Errorf("level = %v, want lower", r.Level)
	}
	if !reflect.DeepEqual(r.Contrasts, []int{1, 2}) {
		t.Errorf("contrasts = %v, want [1 2]", r.Contrasts)
	}

	if _, err := describeResultDir(filepath.Join(base, "sub-03")); err == nil {
		t.Errorf("describeResultDir() accepted a non-result directory")
	}
}

func Test_discoverRuns(t *testing.T) {
	base := t.TempDir()
	makeFeatDir(t, filepath.Join(base, "sub-01", "ses-01"), "task_run-01.feat", []int{1})
	makeFeatDir(t, filepath.Join(base, "sub-01", "ses-01"), "task_run-02.feat", []int{1})
	makeFeatDir(t, filepath.Join(base, "sub-02", "baseline"), "task_run-01.feat", []int{1})
	// a subject without a session layer
	makeFeatDir(t, filepath.Join(base, "sub-03"), "task_run-01.feat", []int{1})

	keys, groups := discoverRuns(base)
	if len(keys) != 3 {
		t.Fatalf("got %d group keys (%v), want 3", len(keys), keys)
	}
	if len(groups["sub-01/ses-01"]) != 2 {
		t.Errorf("sub-01/ses-01 has %d runs, want 2", len(groups["sub-01/ses-01"]))
	}
	if len(groups["sub-02/baseline"]) != 1 {
		t.Errorf("sub-02/baseline has %d runs, want 1", len(groups["sub-02/baseline"]))
	}
}
