// Code written 2022 by Hauke Bartsch.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// cleanupRegistry collects generated artifacts that must not survive a
// cancelled session. Every generated design file is registered right after
// creation, removeAll runs on any exit path of the
// generate-confirm-invoke window.
type cleanupRegistry struct {
	paths []string
}

func (c *cleanupRegistry) register(path string) {
	c.paths = append(c.paths, path)
}

func (c *cleanupRegistry) forget(path string) {
	for i, p := range c.paths {
		if p == path {
			c.paths = append(c.paths[:i], c.paths[i+1:]...)
			return
		}
	}
}

func (c *cleanupRegistry) removeAll() {
	// reverse order, directories registered before their content
	for i := len(c.paths) - 1; i >= 0; i-- {
		os.RemoveAll(c.paths[i])
	}
	c.paths = nil
}

// sessionOptions carries everything the interactive flows need. Values
// left empty by the command line are prompted for.
type sessionOptions struct {
	BaseDir       string
	OutDir        string
	Template      string
	StandardImage string
	Engine        string
	ZThreshold    float64
	ClusterP      float64
	OnError       string // "abort" or "continue"
	Selection     string
	Inputs        []string
	NCopes        int
	AssumeYes     bool
}

// selectionState is the immutable value threaded through the interactive
// loop. Every add/exclude command produces a new state from the unchanged
// universe plus the accumulated rules, the previous state is discarded.
type selectionState struct {
	universe []ResultDir
	rules    []SelectionRule
	current  []ResultDir
}

func newSelectionState(universe []ResultDir) selectionState {
	return selectionState{universe: universe, current: universe}
}

// withRules returns the state reached by appending more rules. The whole
// accumulated rule set is re-applied to the original universe so the
// result never depends on the order commands were typed in.
func (s selectionState) withRules(more []SelectionRule) (selectionState, error) {
	rules := append(append([]SelectionRule{}, s.rules...), more...)
	dirs, err := applySelection(s.universe, rules)
	if err != nil {
		return s, err
	}
	return selectionState{universe: s.universe, rules: rules, current: dirs}, nil
}

// displaySelection re-renders the complete current selection. No
// incremental diffing, the user always sees ground truth.
func displaySelection(dirs []ResultDir) {
	langFmt := message.NewPrinter(language.English)
	byKey := make(map[string][]ResultDir)
	var keys []string
	for _, d := range dirs {
		if _, ok := byKey[d.Key()]; !ok {
			keys = append(keys, d.Key())
		}
		byKey[d.Key()] = append(byKey[d.Key()], d)
	}
	keys = versionSort(keys)
	logPrintf("Current selection:")
	total := 0
	for _, key := range keys {
		logPrintf("  %s", key)
		for _, d := range byKey[key] {
			label := filepath.Base(d.Path)
			logPrintf("    %s (%s level, %d contrasts)", label, d.Level, len(d.Contrasts))
			total++
		}
	}
	logPrintf("%s", langFmt.Sprintf("%d directories in %d subject-sessions selected.", total, len(keys)))
}

// promptSelection drives the display-confirm loop. An empty line accepts
// the shown selection, anything else is parsed as selection tokens and
// folded into the state. Invalid input leaves the state untouched and the
// user retries.
func promptSelection(reader *bufio.Reader, state selectionState) (selectionState, error) {
	for {
		displaySelection(state.current)
		fmt.Printf("Accept with return, or refine (e.g. \"sub-02:ses-01:1,2 -pilot3\"): ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return state, fmt.Errorf("could not read selection input")
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return state, nil
		}
		rules, err := parseSelection(line)
		if err != nil {
			logPrintf("Invalid selection: %v", err)
			continue
		}
		next, err := state.withRules(rules)
		if err != nil {
			logPrintf("Invalid selection: %v", err)
			continue
		}
		if len(next.current) == 0 {
			logPrintf("Warning: that selection leaves nothing to analyze, not applied.")
			continue
		}
		state = next
	}
}

// promptFloat asks for a number, return keeps the default.
func promptFloat(reader *bufio.Reader, name string, def float64) float64 {
	fmt.Printf("%s [%g]: ", name, def)
	line, err := reader.ReadString('\n')
	if err != nil {
		return def
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	v, err := strconv.ParseFloat(line, 64)
	if err != nil {
		logPrintf("Not a number, keeping %g.", def)
		return def
	}
	return v
}

func promptYesNo(reader *bufio.Reader, question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}

// runEngine invokes the external statistics engine with a single design
// file argument and waits for it. Stdout and stderr are captured into
// log files next to the expected output so failed overnight runs can be
// diagnosed.
func runEngine(engine string, designPath string, logDir string) error {
	r := regexp.MustCompile(`[^\s"']+|"([^"]*)"|'([^']*)`)
	arr := r.FindAllString(engine, -1)
	if len(arr) == 0 {
		return fmt.Errorf("no engine command configured")
	}
	arr = append(arr, designPath)
	logPrintf("Running: %s", strings.Join(arr, " "))
	cmd := exec.Command(arr[0], arr[1:]...)
	var outb, errb bytes.Buffer
	cmd.Stdout = &outb
	cmd.Stderr = &errb
	runErr := cmd.Run()

	if err := os.MkdirAll(logDir, 0755); err == nil {
		stdoutLog := filepath.Join(logDir, "stdout.log")
		if f, err := os.OpenFile(stdoutLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
			f.WriteString(strings.Join(arr, " ") + "\n" + outb.String())
			f.Close()
		}
		stderrLog := filepath.Join(logDir, "stderr.log")
		if f, err := os.OpenFile(stderrLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
			f.WriteString(errb.String())
			f.Close()
		}
	}
	if runErr != nil {
		return fmt.Errorf("engine failed for %s: %v\n%s", designPath, runErr, errb.String())
	}
	return nil
}

// generatedConfig pairs a materialized design file with the output the
// engine will produce for it.
type generatedConfig struct {
	DesignPath string
	OutputDir  string
	Label      string
}

// confirmAndRun is the narrow window the interrupt handler guards: the
// design files exist but the engine has not been confirmed yet. A Ctrl-C
// here removes every generated artifact before exiting, no orphaned
// partial state. Outside this window the signal keeps its default
// behavior.
func confirmAndRun(reader *bufio.Reader, opts sessionOptions, configs []generatedConfig, cleanup *cleanupRegistry) error {
	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, os.Interrupt)
	done := make(chan bool)
	go func() {
		select {
		case <-interrupted:
			logPrintf("Interrupted, removing %d generated design files.", len(cleanup.paths))
			cleanup.removeAll()
			closeLog()
			os.Exit(1)
		case <-done:
		}
	}()
	defer func() {
		signal.Stop(interrupted)
		close(done)
	}()

	for _, c := range configs {
		logPrintf("Generated %s -> %s", c.DesignPath, c.OutputDir)
	}
	confirmed := opts.AssumeYes
	if !confirmed {
		confirmed = promptYesNo(reader, fmt.Sprintf("Run %q for these %d design files now?", opts.Engine, len(configs)))
	}
	if !confirmed {
		logPrintf("Cancelled, removing generated design files.")
		cleanup.removeAll()
		return nil
	}

	// sequential on purpose, the engine changes its working directory
	var firstErr error
	for _, c := range configs {
		err := runEngine(opts.Engine, c.DesignPath, filepath.Join(filepath.Dir(c.DesignPath), "log"))
		if err != nil {
			logPrintf("Warning: %v", err)
			if firstErr == nil {
				firstErr = err
			}
			if opts.OnError != "continue" {
				cleanup.removeAll()
				return err
			}
		}
		// the design file served its purpose, success or not
		os.Remove(c.DesignPath)
		cleanup.forget(c.DesignPath)
	}
	cleanup.removeAll()
	if opts.OnError == "continue" {
		// best effort batch, report but do not fail the whole session
		if firstErr != nil {
			logPrintf("Warning: at least one engine run failed, see the log files.")
		}
		return nil
	}
	return firstErr
}

// sortedSelection orders directories by subject, then session, then run,
// all version aware. Design file stanzas are numbered in this order.
func sortedSelection(dirs []ResultDir) []ResultDir {
	out := append([]ResultDir{}, dirs...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return naturalLess(out[i].Subject, out[j].Subject)
		}
		if out[i].Session != out[j].Session {
			return naturalLess(out[i].Session, out[j].Session)
		}
		if out[i].Run != out[j].Run {
			return naturalLess(out[i].Run, out[j].Run)
		}
		return naturalLess(out[i].Path, out[j].Path)
	})
	return out
}

// runLevel2 drives the per-subject fixed-effects flow: discover the run
// directories below the base, reconcile contrast counts per
// subject-session, let the user refine the selection and generate one
// design file per surviving subject-session.
func runLevel2(opts sessionOptions, reader *bufio.Reader) error {
	keys, groups := discoverRuns(opts.BaseDir)
	if len(keys) == 0 {
		return fmt.Errorf("no run-level result directories found below %s", opts.BaseDir)
	}
	recs, kept := reconcileGroups(keys, groups)
	var universe []ResultDir
	for _, key := range kept {
		universe = append(universe, recs[key].Valid...)
	}
	if len(universe) == 0 {
		return fmt.Errorf("reconciliation left no usable subject-sessions")
	}

	state := newSelectionState(universe)
	if opts.Selection != "" {
		rules, err := parseSelection(opts.Selection)
		if err != nil {
			return err
		}
		if state, err = state.withRules(rules); err != nil {
			return err
		}
	}
	if !opts.AssumeYes {
		var err error
		if state, err = promptSelection(reader, state); err != nil {
			return err
		}
	}
	if len(state.current) == 0 {
		return fmt.Errorf("selection left nothing to analyze")
	}

	if !opts.AssumeYes {
		opts.ZThreshold = promptFloat(reader, "Z threshold", opts.ZThreshold)
		opts.ClusterP = promptFloat(reader, "Cluster p threshold", opts.ClusterP)
	}

	// regroup after selection, a rule may have dropped whole sessions
	byKey := make(map[string][]ResultDir)
	var keyOrder []string
	for _, d := range sortedSelection(state.current) {
		if _, ok := byKey[d.Key()]; !ok {
			keyOrder = append(keyOrder, d.Key())
		}
		byKey[d.Key()] = append(byKey[d.Key()], d)
	}

	var cleanup cleanupRegistry
	var configs []generatedConfig
	for _, key := range keyOrder {
		runs := byKey[key]
		contrasts, err := intersectContrasts(runs)
		if err != nil {
			cleanup.removeAll()
			return fmt.Errorf("%s: %v", key, err)
		}
		if err := verifyContrastArtifacts(runs, contrasts); err != nil {
			cleanup.removeAll()
			return err
		}
		outDir := filepath.Join(filepath.Dir(runs[0].Path), "combined.gfeat")
		if _, err := os.Stat(outDir); err == nil {
			logPrintf("%s exists, already done, skipping %s.", outDir, key)
			continue
		}
		designPath := filepath.Join(filepath.Dir(runs[0].Path), "design_level2.fsf")
		job := FSFJob{
			TemplatePath:  opts.Template,
			OutputPath:    designPath,
			StandardImage: opts.StandardImage,
			NCopeInputs:   recs[key].Count,
			Scalars: map[string]string{
				"OUTPUTDIR": fsfQuote(strings.TrimSuffix(outDir, ".gfeat")),
				"STANDARD":  fsfQuote(opts.StandardImage),
				"Z_THRESH":  fmt.Sprintf("%g", opts.ZThreshold),
				"P_THRESH":  fmt.Sprintf("%g", opts.ClusterP),
				"NPTS":      fmt.Sprintf("%d", len(runs)),
			},
		}
		for _, r := range runs {
			job.Inputs = append(job.Inputs, InputStanza{Path: r.Path, Group: 1, EV: 1})
		}
		if err := generateFSF(job); err != nil {
			cleanup.removeAll()
			return err
		}
		cleanup.register(designPath)
		configs = append(configs, generatedConfig{DesignPath: designPath, OutputDir: outDir, Label: key})
	}
	if len(configs) == 0 {
		logPrintf("Nothing to do.")
		return nil
	}
	return confirmAndRun(reader, opts, configs, &cleanup)
}

// runLevel3 drives the group-level flow. The inputs are result
// directories handed over on the command line or discovered below the
// base directory, possibly mixing .feat and .gfeat. One design file per
// contrast in the cross-directory intersection is generated into the
// output directory and handed to the engine.
func runLevel3(opts sessionOptions, reader *bufio.Reader) error {
	var universe []ResultDir
	if len(opts.Inputs) > 0 {
		for _, p := range opts.Inputs {
			r, err := describeResultDir(p)
			if err != nil {
				return err
			}
			universe = append(universe, r)
		}
	} else {
		keys, groups := discoverRuns(opts.BaseDir)
		for _, key := range keys {
			universe = append(universe, groups[key]...)
		}
	}
	if len(universe) == 0 {
		return fmt.Errorf("no result directories to analyze")
	}
	universe = sortedSelection(universe)

	state := newSelectionState(universe)
	if opts.Selection != "" {
		rules, err := parseSelection(opts.Selection)
		if err != nil {
			return err
		}
		if state, err = state.withRules(rules); err != nil {
			return err
		}
	}
	if !opts.AssumeYes {
		var err error
		if state, err = promptSelection(reader, state); err != nil {
			return err
		}
	}
	selected := sortedSelection(state.current)
	if len(selected) == 0 {
		return fmt.Errorf("selection left nothing to analyze")
	}

	contrasts, err := intersectContrasts(selected)
	if err != nil {
		return err
	}
	if opts.NCopes > 0 && opts.NCopes < len(contrasts) {
		logPrintf("Restricting to the first %d of %d common contrasts.", opts.NCopes, len(contrasts))
		contrasts = contrasts[:opts.NCopes]
	}
	if err := verifyContrastArtifacts(selected, contrasts); err != nil {
		return err
	}
	logPrintf("Contrasts common to all %d inputs: %v", len(selected), contrasts)

	if !opts.AssumeYes {
		opts.ZThreshold = promptFloat(reader, "Z threshold", opts.ZThreshold)
		opts.ClusterP = promptFloat(reader, "Cluster p threshold", opts.ClusterP)
	}

	if err := os.MkdirAll(opts.OutDir, 0755); err != nil {
		return fmt.Errorf("could not create output directory %s", opts.OutDir)
	}

	var cleanup cleanupRegistry
	var configs []generatedConfig
	for _, c := range contrasts {
		outDir := filepath.Join(opts.OutDir, fmt.Sprintf("cope%d.gfeat", c))
		if _, err := os.Stat(outDir); err == nil {
			logPrintf("%s exists, already done, skipping contrast %d.", outDir, c)
			continue
		}
		designPath := filepath.Join(opts.OutDir, fmt.Sprintf("design_cope%d.fsf", c))
		job := FSFJob{
			TemplatePath:  opts.Template,
			OutputPath:    designPath,
			StandardImage: opts.StandardImage,
			NCopeInputs:   1,
			Scalars: map[string]string{
				"OUTPUTDIR": fsfQuote(strings.TrimSuffix(outDir, ".gfeat")),
				"STANDARD":  fsfQuote(opts.StandardImage),
				"Z_THRESH":  fmt.Sprintf("%g", opts.ZThreshold),
				"P_THRESH":  fmt.Sprintf("%g", opts.ClusterP),
				"NPTS":      fmt.Sprintf("%d", len(selected)),
				"CONTRAST":  fmt.Sprintf("%d", c),
			},
		}
		for _, d := range selected {
			job.Inputs = append(job.Inputs, InputStanza{Path: copeInput(d, c), Group: 1, EV: 1})
		}
		if err := generateFSF(job); err != nil {
			cleanup.removeAll()
			return err
		}
		cleanup.register(designPath)
		configs = append(configs, generatedConfig{DesignPath: designPath, OutputDir: outDir, Label: fmt.Sprintf("cope%d", c)})
	}
	if len(configs) == 0 {
		logPrintf("Nothing to do.")
		return nil
	}
	return confirmAndRun(reader, opts, configs, &cleanup)
}
