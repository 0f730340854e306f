package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mkmik/argsort"
)

// Level separates run-level (.feat) from group-level (.gfeat) result
// directories. The two store their contrast artifacts differently.
type Level int

const (
	LevelLower Level = iota
	LevelHigher
)

func (l Level) String() string {
	if l == LevelHigher {
		return "higher"
	}
	return "lower"
}

// ResultDir is one completed analysis directory on disk. Discovered fresh
// on every invocation, never persisted.
type ResultDir struct {
	Path      string
	Subject   string
	Session   string
	Run       string
	Level     Level
	Contrasts []int
}

// Key returns the subject-session grouping key for this directory.
func (r ResultDir) Key() string {
	return r.Subject + "/" + r.Session
}

// Several studies exported data with different subject folder conventions,
// we accept all of them as the same entity. Longest prefixes first so
// subjpilot-01 does not match as subj.
var subjectPattern = regexp.MustCompile(`^(subjpilot|subject|subj|sub|pilot)-?([0-9]+[a-zA-Z]*)$`)
var sessionPattern = regexp.MustCompile(`^(session|ses)-?([0-9]+[a-zA-Z]*)$`)
var runPattern = regexp.MustCompile(`run-?([0-9]+)`)

var namedSessions = []string{"baseline", "endpoint", "followup", "retest"}

var copeFilePattern = regexp.MustCompile(`^cope([0-9]+)\.nii(\.gz)?$`)
var copeDirPattern = regexp.MustCompile(`^cope([0-9]+)\.feat$`)

// normalizeSubject reduces any accepted subject folder name to its bare id
// (prefix stripped, leading zeros removed) so sub-01, subject01 and "1"
// all compare equal. A name that does not look like a subject is returned
// lowercased as is.
func normalizeSubject(s string) string {
	if m := subjectPattern.FindStringSubmatch(strings.ToLower(s)); m != nil {
		return strings.TrimLeft(m[2], "0")
	}
	return strings.TrimLeft(strings.ToLower(s), "0")
}

func normalizeSession(s string) string {
	low := strings.ToLower(s)
	if m := sessionPattern.FindStringSubmatch(low); m != nil {
		return strings.TrimLeft(m[2], "0")
	}
	return low
}

// normalizeRun accepts "run-01", "run01", "01" and "1" and returns "1".
func normalizeRun(s string) string {
	low := strings.ToLower(strings.TrimSpace(s))
	low = strings.TrimPrefix(low, "run")
	low = strings.TrimPrefix(low, "-")
	low = strings.TrimLeft(low, "0")
	if low == "" {
		low = "0"
	}
	return low
}

func isSubjectDir(name string) bool {
	return subjectPattern.MatchString(strings.ToLower(name))
}

func isSessionDir(name string) bool {
	low := strings.ToLower(name)
	if sessionPattern.MatchString(low) {
		return true
	}
	for _, n := range namedSessions {
		if low == n {
			return true
		}
	}
	return false
}

// naturalLess orders strings with embedded integers compared numerically,
// so sub-2 sorts before sub-10.
func naturalLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		if isDigit(a[0]) && isDigit(b[0]) {
			ia := 1
			for ia < len(a) && isDigit(a[ia]) {
				ia++
			}
			ib := 1
			for ib < len(b) && isDigit(b[ib]) {
				ib++
			}
			na, _ := strconv.Atoi(a[:ia])
			nb, _ := strconv.Atoi(b[:ib])
			if na != nb {
				return na < nb
			}
			a, b = a[ia:], b[ib:]
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// versionSort returns a deduplicated copy of items in natural order.
func versionSort(items []string) []string {
	seen := make(map[string]bool)
	uniq := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			uniq = append(uniq, it)
		}
	}
	order := argsort.SortSlice(uniq, func(i, j int) bool {
		return naturalLess(uniq[i], uniq[j])
	})
	out := make([]string, len(uniq))
	for i, idx := range order {
		out[i] = uniq[idx]
	}
	return out
}

// matchingDirs lists the subdirectories of base whose name satisfies accept,
// sorted and deduplicated. A missing base directory is a normal
// nothing-to-do condition and yields an empty list.
func matchingDirs(base string, accept func(string) bool) []string {
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil
	}
	var found []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if accept(e.Name()) {
			found = append(found, filepath.Join(base, e.Name()))
		}
	}
	return versionSort(found)
}

func subjectDirs(base string) []string {
	return matchingDirs(base, isSubjectDir)
}

func sessionDirs(subjectPath string) []string {
	return matchingDirs(subjectPath, isSessionDir)
}

// featDirs lists the .feat result directories below a session directory.
func featDirs(sessionPath string) []string {
	return matchingDirs(sessionPath, func(name string) bool {
		return strings.HasSuffix(name, ".feat")
	})
}

// contrastIndices scans a result directory for its contrast artifacts.
// Run-level results keep cope<N>.nii.gz files below stats/, group-level
// results keep cope<N>.feat subdirectories at the top.
func contrastIndices(path string, level Level) ([]int, error) {
	var scan string
	var pattern *regexp.Regexp
	var wantDir bool
	if level == LevelHigher {
		scan = path
		pattern = copeDirPattern
		wantDir = true
	} else {
		scan = filepath.Join(path, "stats")
		pattern = copeFilePattern
	}
	entries, err := os.ReadDir(scan)
	if err != nil {
		return nil, fmt.Errorf("could not read %s", scan)
	}
	seen := make(map[int]bool)
	var indices []int
	for _, e := range entries {
		if wantDir != e.IsDir() {
			continue
		}
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 || seen[idx] {
			continue
		}
		seen[idx] = true
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

// levelOf derives the analysis level from the directory suffix.
func levelOf(path string) (Level, error) {
	name := filepath.Base(path)
	if strings.HasSuffix(name, ".gfeat") {
		return LevelHigher, nil
	}
	if strings.HasSuffix(name, ".feat") {
		return LevelLower, nil
	}
	return LevelLower, fmt.Errorf("%s is neither a .feat nor a .gfeat directory", path)
}

// describeResultDir parses subject, session and run out of the path
// components of a result directory and scans it for contrasts.
func describeResultDir(path string) (ResultDir, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	level, err := levelOf(abs)
	if err != nil {
		return ResultDir{}, err
	}
	var r ResultDir
	r.Path = abs
	r.Level = level
	// the last matching components win, a study might nest oddly
	for _, comp := range strings.Split(abs, string(os.PathSeparator)) {
		if isSubjectDir(comp) {
			r.Subject = comp
		} else if isSessionDir(comp) {
			r.Session = comp
		}
	}
	if m := runPattern.FindStringSubmatch(filepath.Base(abs)); m != nil {
		r.Run = m[1]
	}
	r.Contrasts, err = contrastIndices(abs, level)
	if err != nil {
		return ResultDir{}, err
	}
	return r, nil
}

// discoverRuns returns all .feat run directories below base, grouped into
// per subject-session lists in sorted order. Group keys come back sorted
// as well so callers iterate deterministically.
func discoverRuns(base string) ([]string, map[string][]ResultDir) {
	groups := make(map[string][]ResultDir)
	var keys []string
	for _, subj := range subjectDirs(base) {
		sessions := sessionDirs(subj)
		if len(sessions) == 0 {
			// some studies have no session layer, use the subject itself
			sessions = []string{subj}
		}
		for _, ses := range sessions {
			for _, feat := range featDirs(ses) {
				r, err := describeResultDir(feat)
				if err != nil {
					logPrintf("Warning: skipping %s: %v", feat, err)
					continue
				}
				if _, ok := groups[r.Key()]; !ok {
					keys = append(keys, r.Key())
				}
				groups[r.Key()] = append(groups[r.Key()], r)
			}
		}
	}
	keys = versionSort(keys)
	return keys, groups
}
