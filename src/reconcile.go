package main

import (
	"fmt"
	"sort"
)

// Exclusion records one directory dropped during reconciliation together
// with the human readable reason shown to the user.
type Exclusion struct {
	Dir    ResultDir
	Reason string
}

// Reconciliation is the outcome for one subject-session group: the agreed
// contrast count, the runs that carry it, and whatever was dropped.
type Reconciliation struct {
	Count    int
	Valid    []ResultDir
	Excluded []Exclusion
}

// reconcileRuns decides whether the runs of one subject-session agree on a
// contrast count. The count held by a strict majority of the runs wins and
// runs with a different count are excluded with a warning. If two counts
// tie for the highest frequency, or no count reaches a strict majority,
// the whole group fails reconciliation. Partial upstream processing leaves
// runs with fewer copes than their siblings, this rule decides whether the
// session can still proceed.
func reconcileRuns(runs []ResultDir) (Reconciliation, error) {
	if len(runs) == 0 {
		return Reconciliation{}, fmt.Errorf("no runs to reconcile")
	}
	freq := make(map[int]int)
	for _, r := range runs {
		freq[len(r.Contrasts)]++
	}
	maxFreq := 0
	for _, f := range freq {
		if f > maxFreq {
			maxFreq = f
		}
	}
	var atMax []int
	for count, f := range freq {
		if f == maxFreq {
			atMax = append(atMax, count)
		}
	}
	sort.Ints(atMax)
	if len(atMax) > 1 {
		return Reconciliation{}, fmt.Errorf("tie between contrast counts %v, cannot pick a common count", atMax)
	}
	majority := atMax[0]
	// strict majority, 2 of 4 is not enough
	if maxFreq*2 <= len(runs) {
		return Reconciliation{}, fmt.Errorf("insufficient runs with same count (%d of %d have %d contrasts)", maxFreq, len(runs), majority)
	}
	rec := Reconciliation{Count: majority}
	for _, r := range runs {
		if len(r.Contrasts) == majority {
			rec.Valid = append(rec.Valid, r)
		} else {
			rec.Excluded = append(rec.Excluded, Exclusion{
				Dir:    r,
				Reason: fmt.Sprintf("does not match common count %d, excluded", majority),
			})
		}
	}
	return rec, nil
}

// reconcileGroups runs reconciliation over every subject-session group and
// keeps the survivors. Failed groups are reported and skipped, the rest of
// the pipeline continues without them.
func reconcileGroups(keys []string, groups map[string][]ResultDir) (map[string]Reconciliation, []string) {
	out := make(map[string]Reconciliation)
	var kept []string
	for _, key := range keys {
		rec, err := reconcileRuns(groups[key])
		if err != nil {
			logPrintf("Warning: %s excluded: %v", key, err)
			continue
		}
		for _, ex := range rec.Excluded {
			logPrintf("Warning: %s %s", ex.Dir.Path, ex.Reason)
		}
		out[key] = rec
		kept = append(kept, key)
	}
	return out, kept
}
