package main

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// The statistics engine is driven by line oriented "set key value" design
// files. We ship templates with @NAME@ scalar placeholders and a single
// @INPUTS@ sentinel line that expands into one stanza per input image.

// InputStanza is the per-input block written into a design file: the input
// image itself, its group membership and its explanatory-variable value.
type InputStanza struct {
	Path  string
	Group int
	EV    float64
}

// FSFJob describes one design file to materialize.
type FSFJob struct {
	TemplatePath  string
	OutputPath    string
	Scalars       map[string]string
	Inputs        []InputStanza
	NCopeInputs   int
	StandardImage string
}

var setMultiplePattern = regexp.MustCompile(`^\s*set\s+fmri\(multiple\)`)
var setNCopePattern = regexp.MustCompile(`^\s*set\s+fmri\(ncopeinputs\)`)

// fsfQuote escapes a path for use inside a double quoted design file
// value.
func fsfQuote(path string) string {
	path = strings.ReplaceAll(path, `\`, `\\`)
	path = strings.ReplaceAll(path, `"`, `\"`)
	return path
}

func expandStanzas(inputs []InputStanza) string {
	var sb strings.Builder
	for i, in := range inputs {
		n := i + 1
		fmt.Fprintf(&sb, "# 4D AVW data or FEAT directory (%d)\n", n)
		fmt.Fprintf(&sb, "set feat_files(%d) \"%s\"\n\n", n, fsfQuote(in.Path))
		fmt.Fprintf(&sb, "# Group membership for input %d\n", n)
		fmt.Fprintf(&sb, "set fmri(groupmem.%d) %d\n\n", n, in.Group)
		fmt.Fprintf(&sb, "# Higher-level EV value for EV 1 and input %d\n", n)
		fmt.Fprintf(&sb, "set fmri(evg.%d.1) %g\n", n, in.EV)
		if i != len(inputs)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// generateFSF reads the template, substitutes all placeholders and writes
// the materialized design file. The template is never touched. Both the
// template and the standard-space image must exist before any output is
// created, a half written design file would be worse than none.
func generateFSF(job FSFJob) error {
	if _, err := os.Stat(job.TemplatePath); err != nil {
		return fmt.Errorf("design template %s does not exist", job.TemplatePath)
	}
	if job.StandardImage != "" {
		if _, err := os.Stat(job.StandardImage); err != nil {
			return fmt.Errorf("standard space image %s does not exist", job.StandardImage)
		}
	}
	if len(job.Inputs) == 0 {
		return fmt.Errorf("no inputs for design file %s", job.OutputPath)
	}

	tmpl, err := os.Open(job.TemplatePath)
	if err != nil {
		return fmt.Errorf("could not open template %s", job.TemplatePath)
	}
	defer tmpl.Close()

	out, err := os.Create(job.OutputPath)
	if err != nil {
		return fmt.Errorf("could not create design file %s", job.OutputPath)
	}
	defer out.Close()

	writer := bufio.NewWriter(out)
	scanner := bufio.NewScanner(tmpl)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.TrimSpace(line) == "@INPUTS@":
			writer.WriteString(expandStanzas(job.Inputs))
			writer.WriteString("\n")
			continue
		case setMultiplePattern.MatchString(line):
			// always rewritten, whatever the template says
			line = fmt.Sprintf("set fmri(multiple) %d", len(job.Inputs))
		case setNCopePattern.MatchString(line):
			line = fmt.Sprintf("set fmri(ncopeinputs) %d", job.NCopeInputs)
		default:
			for name, value := range job.Scalars {
				placeholder := "@" + name + "@"
				if strings.Contains(line, placeholder) {
					line = strings.ReplaceAll(line, placeholder, value)
				}
			}
		}
		writer.WriteString(line)
		writer.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("could not read template %s: %v", job.TemplatePath, err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("could not write design file %s", job.OutputPath)
	}
	return nil
}
