package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// intersectContrasts computes the contrast indices present in every
// directory of the selection. Mixed .feat/.gfeat selections are fine, each
// directory contributes whatever its level-specific scan found. An empty
// intersection means there is nothing the group-level analysis could run
// on, that is a hard error.
func intersectContrasts(dirs []ResultDir) ([]int, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("no directories selected")
	}
	counts := make(map[int]int)
	for _, dir := range dirs {
		seen := make(map[int]bool)
		for _, c := range dir.Contrasts {
			if !seen[c] {
				seen[c] = true
				counts[c]++
			}
		}
	}
	var common []int
	for c, n := range counts {
		if n == len(dirs) {
			common = append(common, c)
		}
	}
	if len(common) == 0 {
		return nil, fmt.Errorf("no contrast is present in all %d selected directories", len(dirs))
	}
	sort.Ints(common)
	return common, nil
}

// copePath builds the deterministic location of one contrast artifact.
func copePath(dir ResultDir, contrast int) string {
	if dir.Level == LevelHigher {
		return filepath.Join(dir.Path, fmt.Sprintf("cope%d.feat", contrast))
	}
	return filepath.Join(dir.Path, "stats", fmt.Sprintf("cope%d.nii.gz", contrast))
}

// verifyContrastArtifacts checks that every artifact the intersection
// promises actually exists. A miss here means the scan and the filesystem
// disagree, treat it as an internal consistency failure and abort.
func verifyContrastArtifacts(dirs []ResultDir, contrasts []int) error {
	for _, dir := range dirs {
		for _, c := range contrasts {
			p := copePath(dir, c)
			if _, err := os.Stat(p); err != nil {
				if dir.Level == LevelLower {
					// run-level copes may be stored uncompressed
					alt := filepath.Join(dir.Path, "stats", fmt.Sprintf("cope%d.nii", c))
					if _, err2 := os.Stat(alt); err2 == nil {
						continue
					}
				}
				return fmt.Errorf("internal error: expected contrast artifact %s is missing", p)
			}
		}
	}
	return nil
}

// copeInput resolves the file handed to the statistics engine for one
// (directory, contrast) pair. For group-level inputs that is the cope
// image inside the per-contrast subdirectory.
func copeInput(dir ResultDir, contrast int) string {
	if dir.Level == LevelHigher {
		return filepath.Join(dir.Path, fmt.Sprintf("cope%d.feat", contrast), "stats", "cope1.nii.gz")
	}
	return copePath(dir, contrast)
}
