package main

import (
	"path/filepath"
	"reflect"
	"testing"
)

func Test_intersectContrasts(t *testing.T) {
	mk := func(contrasts ...int) ResultDir {
		return ResultDir{Contrasts: contrasts}
	}
	tests := []struct {
		name    string
		dirs    []ResultDir
		want    []int
		wantErr bool
	}{
		{"Single directory", []ResultDir{mk(1, 2, 3)}, []int{1, 2, 3}, false},
		{"Common subset", []ResultDir{mk(1, 2, 3), mk(2, 3, 4), mk(3, 2)}, []int{2, 3}, false},
		{"Empty intersection is fatal", []ResultDir{mk(1), mk(2)}, nil, true},
		{"No directories", nil, nil, true},
		{"Duplicates collapse", []ResultDir{mk(1, 1, 2), mk(2, 2, 1)}, []int{1, 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := intersectContrasts(tt.dirs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("intersectContrasts() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("intersectContrasts() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_intersectIdempotent(t *testing.T) {
	dirs := []ResultDir{
		{Contrasts: []int{1, 2, 3}},
		{Contrasts: []int{2, 3}},
	}
	once, err := intersectContrasts(dirs)
	if err != nil {
		t.Fatal(err)
	}
	// intersecting the set with itself repeated changes nothing
	twice, err := intersectContrasts(append(append([]ResultDir{}, dirs...), dirs...))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("intersection is not idempotent: %v vs %v", once, twice)
	}
}

func Test_copePath(t *testing.T) {
	lower := ResultDir{Path: "/d/run-01.feat", Level: LevelLower}
	if got := copePath(lower, 3); got != filepath.Join("/d/run-01.feat", "stats", "cope3.nii.gz") {
		t.Errorf("copePath lower = %s", got)
	}
	higher := ResultDir{Path: "/d/group.gfeat", Level: LevelHigher}
	if got := copePath(higher, 3); got != filepath.Join("/d/group.gfeat", "cope3.feat") {
		t.Errorf("copePath higher = %s", got)
	}
}

func Test_verifyContrastArtifacts(t *testing.T) {
	base := t.TempDir()
	featPath := makeFeatDir(t, base, "run-01.feat", []int{1, 2})
	feat, err := describeResultDir(featPath)
	if err != nil {
		t.Fatal(err)
	}
	gfeatPath := makeGfeatDir(t, base, "group.gfeat", []int{1, 2})
	gfeat, err := describeResultDir(gfeatPath)
	if err != nil {
		t.Fatal(err)
	}
	dirs := []ResultDir{feat, gfeat}
	if err := verifyContrastArtifacts(dirs, []int{1, 2}); err != nil {
		t.Errorf("verifyContrastArtifacts() = %v on a consistent tree", err)
	}
	// a contrast the scan never saw must trip the consistency check
	if err := verifyContrastArtifacts(dirs, []int{1, 2, 7}); err == nil {
		t.Errorf("verifyContrastArtifacts() accepted a missing artifact")
	}
}
