package main

import (
	"fmt"
	"strings"
)

// SelectionRule is one parsed token of the selection mini-language.
// The grammar per token is
//
//	[-]subject[:session[:run1,run2,...]]
//
// where a leading dash marks an exclusion. "sub-01:ses-02:1,3" keeps only
// runs 1 and 3 of that session, "-pilot2" drops the whole subject.
type SelectionRule struct {
	Exclude bool
	Subject string
	Session string
	Runs    []string
}

func (r SelectionRule) hasSession() bool { return r.Session != "" }
func (r SelectionRule) hasRuns() bool    { return len(r.Runs) > 0 }

// matchesKey reports whether the rule addresses the subject-session of dir.
// Subject and session names are compared after prefix and leading-zero
// normalization, so "1", "sub-01" and "subject-1" all address the same
// subject.
func (r SelectionRule) matchesKey(dir ResultDir) bool {
	if normalizeSubject(r.Subject) != normalizeSubject(dir.Subject) {
		return false
	}
	if !r.hasSession() {
		return true
	}
	return normalizeSession(r.Session) == normalizeSession(dir.Session)
}

// matchesRun reports whether dir's run label is named in the rule's run
// filter. Leading zeros and an optional run- prefix are tolerated on both
// sides, an empty filter matches every run.
func (r SelectionRule) matchesRun(dir ResultDir) bool {
	if !r.hasRuns() {
		return true
	}
	want := normalizeRun(dir.Run)
	for _, run := range r.Runs {
		if normalizeRun(run) == want {
			return true
		}
	}
	return false
}

// parseSelection splits a free-text selection string into rules. An empty
// string is the identity selection and yields no rules.
func parseSelection(input string) ([]SelectionRule, error) {
	var rules []SelectionRule
	for _, token := range strings.Fields(input) {
		rule := SelectionRule{}
		if strings.HasPrefix(token, "-") {
			rule.Exclude = true
			token = token[1:]
		}
		if token == "" {
			return nil, fmt.Errorf("empty selection token")
		}
		parts := strings.Split(token, ":")
		if len(parts) > 3 {
			return nil, fmt.Errorf("too many fields in %q, expected subject[:session[:runs]]", token)
		}
		rule.Subject = parts[0]
		if len(parts) > 1 {
			rule.Session = parts[1]
		}
		if len(parts) > 2 {
			for _, run := range strings.Split(parts[2], ",") {
				run = strings.TrimSpace(run)
				if run == "" {
					continue
				}
				rule.Runs = append(rule.Runs, run)
			}
			if len(rule.Runs) == 0 {
				return nil, fmt.Errorf("no run numbers in %q", token)
			}
		}
		if rule.Subject == "" {
			return nil, fmt.Errorf("missing subject in %q", token)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// validateRules rejects the whole rule set if any rule names a subject
// that was never discovered. The user retries the entire input, there is
// no partial application.
func validateRules(rules []SelectionRule, universe []ResultDir) error {
	known := make(map[string]bool)
	for _, dir := range universe {
		known[normalizeSubject(dir.Subject)] = true
	}
	for _, rule := range rules {
		if !known[normalizeSubject(rule.Subject)] {
			return fmt.Errorf("unknown subject %q in selection", rule.Subject)
		}
	}
	return nil
}

// applySelection filters the discovered universe through the parsed rules.
//
// Inclusion rules form a sparse override map: a subject-session addressed
// by an inclusion rule keeps only the runs its run filters name (several
// rules for the same key union their runs), every key not addressed by any
// inclusion rule is kept in full. Exclusion rules are applied afterwards:
// without a session they drop the whole subject, with a session the whole
// subject-session, and with a run filter just those runs.
//
// The result preserves the order of universe. With no rules at all this is
// the identity.
func applySelection(universe []ResultDir, rules []SelectionRule) ([]ResultDir, error) {
	if err := validateRules(rules, universe); err != nil {
		return nil, err
	}
	var inclusions, exclusions []SelectionRule
	for _, rule := range rules {
		if rule.Exclude {
			exclusions = append(exclusions, rule)
		} else {
			inclusions = append(inclusions, rule)
		}
	}
	selected := make([]ResultDir, 0, len(universe))
	for _, dir := range universe {
		addressed := false
		keep := false
		for _, rule := range inclusions {
			if rule.matchesKey(dir) {
				addressed = true
				if rule.matchesRun(dir) {
					keep = true
				}
			}
		}
		if !addressed || keep {
			selected = append(selected, dir)
		}
	}
	var final []ResultDir
	for _, dir := range selected {
		drop := false
		for _, rule := range exclusions {
			if rule.matchesKey(dir) && (!rule.hasRuns() || rule.matchesRun(dir)) {
				drop = true
				break
			}
		}
		if !drop {
			final = append(final, dir)
		}
	}
	return final, nil
}
