// Code written 2022 by Hauke Bartsch.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed templates/classifyRules.json
var classifyRules string

// SeriesInfo is what we remember about one DICOM series while scanning
// the data folder. Enough to name the converted file the BIDS way and to
// hand the series folder to the external converter.
type SeriesInfo struct {
	SeriesInstanceUID string
	SeriesDescription string
	SeriesNumber      int
	Modality          string
	PatientID         string
	StudyInstanceUID  string
	StudyDate         string
	NumImages         int
	Path              string
	BIDSType          string
	BIDSSuffix        string
}

type classifyRule struct {
	Type        string   `json:"type"`
	Suffix      string   `json:"suffix"`
	Description string   `json:"description"`
	Patterns    []string `json:"patterns"`
}

type compiledRule struct {
	rule     classifyRule
	patterns []*regexp.Regexp
}

var compiledRules []compiledRule

func loadClassifyRules() []compiledRule {
	if compiledRules != nil {
		return compiledRules
	}
	var rules []classifyRule
	if err := json.Unmarshal([]byte(classifyRules), &rules); err != nil {
		exitGracefully(fmt.Errorf("embedded classify rules are broken: %v", err))
	}
	for _, r := range rules {
		c := compiledRule{rule: r}
		for _, p := range r.Patterns {
			if re, err := regexp.Compile(p); err == nil {
				c.patterns = append(c.patterns, re)
			}
		}
		compiledRules = append(compiledRules, c)
	}
	return compiledRules
}

// classifySeries maps a series description to a BIDS data type and suffix.
// The first rule with a matching pattern wins, unmatched series stay
// unclassified and are skipped by convert.
func classifySeries(description string) (string, string) {
	for _, c := range loadClassifyRules() {
		for _, re := range c.patterns {
			if re.MatchString(description) {
				return c.rule.Type, c.rule.Suffix
			}
		}
	}
	return "", ""
}

func stringTag(dataset dicom.Dataset, t tag.Tag) string {
	val, err := dataset.FindElementByTag(t)
	if err != nil {
		return ""
	}
	strs := dicom.MustGetStrings(val.Value)
	if len(strs) == 0 {
		return ""
	}
	return strings.TrimSpace(strs[0])
}

func intTag(dataset dicom.Dataset, t tag.Tag) int {
	val, err := dataset.FindElementByTag(t)
	if err != nil {
		return 0
	}
	ints := dicom.MustGetInts(val.Value)
	if len(ints) == 0 {
		return 0
	}
	return ints[0]
}

// scanDICOM walks the data path and groups every readable DICOM file by
// study and series. The pixel data is skipped, only the header matters
// here.
func scanDICOM(dataPath string, preview bool) (map[string]map[string]SeriesInfo, error) {
	datasets := make(map[string]map[string]SeriesInfo)
	if dataPath == "" {
		return datasets, fmt.Errorf("no data path has been specified. Use\n\t%s config --data \"path-to-data\" to set a directory of DICOM data", ownName)
	}
	var inputPathList []string
	if _, err := os.Stat(dataPath); err != nil && os.IsNotExist(err) {
		// could be a list of paths if we have a glob string
		inputPathList, err = filepath.Glob(dataPath)
		if err != nil || len(inputPathList) < 1 {
			return datasets, fmt.Errorf("data path %s does not exist or is empty", dataPath)
		}
	} else {
		inputPathList = append(inputPathList, dataPath)
	}
	counter := 0
	nonDICOM := 0
	langFmt := message.NewPrinter(language.English)
	for p := range inputPathList {
		err := filepath.Walk(inputPathList[p], func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			if filepath.Ext(info.Name()) == ".zip" {
				nonDICOM++
				return nil
			}
			dataset, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
			if err != nil && fmt.Sprintf("%s", err) == "unexpected EOF" {
				// some vendors write tags with an undeclared value
				// representation, the header before that point is fine
				err = nil
			}
			if err != nil {
				nonDICOM++
				return nil
			}
			StudyInstanceUID := stringTag(dataset, tag.StudyInstanceUID)
			SeriesInstanceUID := stringTag(dataset, tag.SeriesInstanceUID)
			if StudyInstanceUID == "" || SeriesInstanceUID == "" {
				nonDICOM++
				return nil
			}
			counter++
			if _, ok := datasets[StudyInstanceUID]; !ok {
				datasets[StudyInstanceUID] = make(map[string]SeriesInfo)
			}
			entry, seen := datasets[StudyInstanceUID][SeriesInstanceUID]
			if !seen {
				entry = SeriesInfo{
					SeriesInstanceUID: SeriesInstanceUID,
					StudyInstanceUID:  StudyInstanceUID,
					SeriesDescription: stringTag(dataset, tag.SeriesDescription),
					SeriesNumber:      intTag(dataset, tag.SeriesNumber),
					Modality:          stringTag(dataset, tag.Modality),
					PatientID:         stringTag(dataset, tag.PatientID),
					StudyDate:         stringTag(dataset, tag.StudyDate),
					Path:              filepath.Dir(path),
				}
				entry.BIDSType, entry.BIDSSuffix = classifySeries(entry.SeriesDescription)
				if preview {
					previewDICOM(path, entry.SeriesDescription)
				}
			}
			entry.NumImages++
			datasets[StudyInstanceUID][SeriesInstanceUID] = entry
			if counter%100 == 0 {
				fmt.Printf("%s\r", langFmt.Sprintf("%d files, %d studies, %d non-DICOM", counter, len(datasets), nonDICOM))
			}
			return nil
		})
		if err != nil {
			logPrintf("Warning: could not walk %s", inputPathList[p])
		}
	}
	logPrintf("%s", langFmt.Sprintf("Found %d DICOM files in %d studies (%d non-DICOM ignored).", counter, len(datasets), nonDICOM))
	return datasets, nil
}

type convertOptions struct {
	Preview      bool
	SeriesFilter string
	Test         bool
}

// runCommand executes an external tool command line with extra arguments
// appended and returns its failure, if any, with the captured stderr.
func runCommand(commandLine string, extra ...string) error {
	r := regexp.MustCompile(`[^\s"']+|"([^"]*)"|'([^']*)`)
	arr := r.FindAllString(commandLine, -1)
	if len(arr) == 0 {
		return fmt.Errorf("empty command line")
	}
	arr = append(arr, extra...)
	cmd := exec.Command(arr[0], arr[1:]...)
	var errb bytes.Buffer
	cmd.Stderr = &errb
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %v\n%s", arr[0], err, errb.String())
	}
	return nil
}

// runConvert scans the configured DICOM folder, assigns BIDS subject and
// session labels, and calls the external converter once per classified
// series. Subjects are numbered by sorted patient id, sessions by sorted
// study date within a subject, so a re-run on the same data produces the
// same layout.
func runConvert(projectDir string, config Config, opts convertOptions) error {
	if config.Converter == "" {
		return fmt.Errorf("no converter configured. Use\n\t%s config --converter \"dcm2niix -z y\"", ownName)
	}
	var filter *regexp.Regexp
	if opts.SeriesFilter != "" {
		var err error
		if filter, err = regexp.Compile(opts.SeriesFilter); err != nil {
			return fmt.Errorf("invalid --select expression: %v", err)
		}
	}
	datasets, err := scanDICOM(config.DataPath, opts.Preview)
	if err != nil {
		return err
	}
	if len(datasets) == 0 {
		return fmt.Errorf("no DICOM studies found below %s", config.DataPath)
	}

	// stable subject numbering by patient id
	patients := make(map[string][]string) // patient id -> sorted study dates
	for _, series := range datasets {
		for _, s := range series {
			dates := patients[s.PatientID]
			found := false
			for _, d := range dates {
				if d == s.StudyDate {
					found = true
				}
			}
			if !found {
				patients[s.PatientID] = append(dates, s.StudyDate)
			}
		}
	}
	var patientIDs []string
	for id, dates := range patients {
		patients[id] = versionSort(dates)
		patientIDs = append(patientIDs, id)
	}
	patientIDs = versionSort(patientIDs)
	subjectLabel := make(map[string]string)
	sessionLabel := make(map[string]string) // patient id + "\x00" + date
	for i, id := range patientIDs {
		subjectLabel[id] = fmt.Sprintf("sub-%02d", i+1)
		for j, date := range patients[id] {
			sessionLabel[id+"\x00"+date] = fmt.Sprintf("ses-%02d", j+1)
		}
	}

	converted := 0
	skipped := 0
	for _, series := range datasets {
		for _, s := range series {
			if filter != nil && !filter.MatchString(s.SeriesDescription) {
				skipped++
				continue
			}
			if s.BIDSType == "" {
				logPrintf("Skipping unclassified series %d %q (%d files).", s.SeriesNumber, s.SeriesDescription, s.NumImages)
				skipped++
				continue
			}
			sub := subjectLabel[s.PatientID]
			ses := sessionLabel[s.PatientID+"\x00"+s.StudyDate]
			destDir := filepath.Join(projectDir, sub, ses, s.BIDSType)
			name := fmt.Sprintf("%s_%s_%s", sub, ses, s.BIDSSuffix)
			if existing, _ := filepath.Glob(filepath.Join(destDir, name+"*")); len(existing) > 0 {
				logPrintf("%s exists, already done, skipping series %d.", filepath.Join(destDir, name), s.SeriesNumber)
				continue
			}
			logPrintf("Converting series %d %q -> %s/%s", s.SeriesNumber, s.SeriesDescription, destDir, name)
			if opts.Test {
				continue
			}
			if err := os.MkdirAll(destDir, 0755); err != nil {
				return fmt.Errorf("could not create %s", destDir)
			}
			if err := runCommand(config.Converter, "-f", name, "-o", destDir, s.Path); err != nil {
				return err
			}
			converted++
			if s.BIDSType == "anat" && config.Preproc != "" {
				images, _ := filepath.Glob(filepath.Join(destDir, name+"*.nii*"))
				for _, img := range images {
					logPrintf("Preprocessing %s", img)
					if err := runCommand(config.Preproc, img); err != nil {
						return err
					}
				}
			}
		}
	}
	logPrintf("Converted %d series, skipped %d.", converted, skipped)
	return nil
}
