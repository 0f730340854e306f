package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Task timing lives in one YAML file per project, typically
// code/tasks.yaml:
//
//	tasks:
//	  - name: faces
//	    conditions:
//	      - name: happy
//	        onsets: [0, 30, 60]
//	        duration: 15
//	        weight: 1
//
// runEvents turns that into BIDS *_events.tsv files for every discovered
// subject-session that has functional data.

type TaskCondition struct {
	Name     string    `yaml:"name"`
	Onsets   []float64 `yaml:"onsets"`
	Duration float64   `yaml:"duration"`
	Weight   float64   `yaml:"weight"`
}

type TaskDef struct {
	Name       string          `yaml:"name"`
	Conditions []TaskCondition `yaml:"conditions"`
}

type TaskFile struct {
	Tasks []TaskDef `yaml:"tasks"`
}

type eventRow struct {
	Onset     float64
	Duration  float64
	TrialType string
	Weight    float64
}

func loadTasks(tasksPath string) (TaskFile, error) {
	data, err := os.ReadFile(tasksPath)
	if err != nil {
		return TaskFile{}, fmt.Errorf("could not read task definitions %s", tasksPath)
	}
	var tf TaskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return TaskFile{}, fmt.Errorf("could not parse %s: %v", tasksPath, err)
	}
	if len(tf.Tasks) == 0 {
		return TaskFile{}, fmt.Errorf("%s defines no tasks", tasksPath)
	}
	for _, t := range tf.Tasks {
		if t.Name == "" {
			return TaskFile{}, fmt.Errorf("%s contains a task without a name", tasksPath)
		}
		if len(t.Conditions) == 0 {
			return TaskFile{}, fmt.Errorf("task %s has no conditions", t.Name)
		}
	}
	return tf, nil
}

func eventRows(task TaskDef) []eventRow {
	var rows []eventRow
	for _, c := range task.Conditions {
		weight := c.Weight
		if weight == 0 {
			weight = 1
		}
		for _, onset := range c.Onsets {
			rows = append(rows, eventRow{Onset: onset, Duration: c.Duration, TrialType: c.Name, Weight: weight})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Onset < rows[j].Onset })
	return rows
}

func writeEventsTSV(path string, rows []eventRow) error {
	var sb strings.Builder
	sb.WriteString("onset\tduration\ttrial_type\tweight\n")
	for _, r := range rows {
		fmt.Fprintf(&sb, "%g\t%g\t%s\t%g\n", r.Onset, r.Duration, r.TrialType, r.Weight)
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}

// runEvents writes one events.tsv per task into every func/ directory of
// the project. Existing files are kept, the user may have edited them.
func runEvents(projectDir string, tasksPath string) error {
	if !filepath.IsAbs(tasksPath) {
		tasksPath = filepath.Join(projectDir, tasksPath)
	}
	tf, err := loadTasks(tasksPath)
	if err != nil {
		return err
	}
	written := 0
	for _, subj := range subjectDirs(projectDir) {
		sessions := sessionDirs(subj)
		if len(sessions) == 0 {
			sessions = []string{subj}
		}
		for _, ses := range sessions {
			funcDir := filepath.Join(ses, "func")
			if _, err := os.Stat(funcDir); err != nil {
				continue
			}
			for _, task := range tf.Tasks {
				name := fmt.Sprintf("%s_%s_task-%s_events.tsv", filepath.Base(subj), filepath.Base(ses), task.Name)
				if ses == subj {
					name = fmt.Sprintf("%s_task-%s_events.tsv", filepath.Base(subj), task.Name)
				}
				dest := filepath.Join(funcDir, name)
				if _, err := os.Stat(dest); err == nil {
					logPrintf("%s exists, keeping it.", dest)
					continue
				}
				if err := writeEventsTSV(dest, eventRows(task)); err != nil {
					return fmt.Errorf("could not write %s", dest)
				}
				logPrintf("Wrote %s", dest)
				written++
			}
		}
	}
	if written == 0 {
		logPrintf("No event files written. Convert data first or check your func/ directories.")
	}
	return nil
}
