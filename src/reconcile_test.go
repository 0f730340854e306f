package main

import (
	"strings"
	"testing"
)

// dirsWithCounts builds synthetic ResultDirs whose contrast sets have the
// given sizes.
func dirsWithCounts(counts []int) []ResultDir {
	var dirs []ResultDir
	for i, n := range counts {
		r := ResultDir{Path: strings.Repeat("r", i+1), Subject: "sub-01", Session: "ses-01"}
		for c := 1; c <= n; c++ {
			r.Contrasts = append(r.Contrasts, c)
		}
		dirs = append(dirs, r)
	}
	return dirs
}

func Test_reconcileRuns(t *testing.T) {
	tests := []struct {
		name         string
		counts       []int
		wantCount    int
		wantValid    int
		wantExcluded int
		wantErr      string
	}{
		{"All agree", []int{3, 3, 3}, 3, 3, 0, ""},
		{"Clear majority", []int{5, 5, 5, 3}, 5, 3, 1, ""},
		{"Tie is rejected", []int{5, 5, 3, 3}, 0, 0, 0, "tie"},
		{"Two of three is a strict majority", []int{5, 3, 3}, 3, 2, 1, ""},
		{"Boundary above half", []int{5, 5, 3}, 5, 2, 1, ""},
		{"Exact half split is insufficient", []int{5, 5, 3, 1}, 0, 0, 0, "insufficient"},
		{"Single run", []int{4}, 4, 1, 0, ""},
		{"No runs", nil, 0, 0, 0, "no runs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := reconcileRuns(dirsWithCounts(tt.counts))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("reconcileRuns(%v) succeeded, wanted error containing %q", tt.counts, tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("reconcileRuns(%v) error = %v, wanted %q in it", tt.counts, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("reconcileRuns(%v) error = %v", tt.counts, err)
			}
			if rec.Count != tt.wantCount {
				t.Errorf("majority count = %d, want %d", rec.Count, tt.wantCount)
			}
			if len(rec.Valid) != tt.wantValid {
				t.Errorf("valid = %d, want %d", len(rec.Valid), tt.wantValid)
			}
			if len(rec.Excluded) != tt.wantExcluded {
				t.Errorf("excluded = %d, want %d", len(rec.Excluded), tt.wantExcluded)
			}
		})
	}
}

func Test_reconcileRunsWarning(t *testing.T) {
	rec, err := reconcileRuns(dirsWithCounts([]int{5, 5, 5, 3}))
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Excluded) != 1 {
		t.Fatalf("excluded = %d, want 1", len(rec.Excluded))
	}
	want := "does not match common count 5, excluded"
	if rec.Excluded[0].Reason != want {
		t.Errorf("reason = %q, want %q", rec.Excluded[0].Reason, want)
	}
	if len(rec.Excluded[0].Dir.Contrasts) != 3 {
		t.Errorf("the wrong directory was excluded: %+v", rec.Excluded[0].Dir)
	}
}
