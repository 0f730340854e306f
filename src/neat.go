// Code written 2022 by Hauke Bartsch.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"embed"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const version string = "0.1.2"

// The string below will be replaced during build time using
// -ldflags "-X main.compileDate=`date -u +.%Y%m%d.%H%M%S"`"
var compileDate string = ".unknown"

var ownName string = "neat"

//go:embed templates/README.md
var readme string

//go:embed templates/level2.fsf templates/level3.fsf
var designTemplates embed.FS

func exitGracefully(err error) {
	logPrintf("error: %v", err)
	closeLog()
	os.Exit(1)
}

func check(e error) {
	if e != nil {
		exitGracefully(e)
	}
}

type AuthorInfo struct {
	Name, Email string
}

// Config is the per-project configuration stored as JSON below
// <project>/.neat/config.
type Config struct {
	Date          string
	ProjectName   string
	Author        AuthorInfo
	DataPath      string // DICOM source folder or glob
	Converter     string // external DICOM to NIfTI tool
	Preproc       string // external skull-strip / field-map hook
	Engine        string // external statistics engine
	StandardImage string
	ZThreshold    float64
	ClusterP      float64
	TempDirectory string
}

func configPath(projectDir string) string {
	return filepath.Join(projectDir, ".neat", "config")
}

// readConfig parses a project config file as JSON.
func readConfig(pathString string) (Config, error) {
	if _, err := os.Stat(pathString); err != nil && os.IsNotExist(err) {
		return Config{}, fmt.Errorf("file %s does not exist", pathString)
	}
	// warn about sloppy permissions, the config may name data paths
	if fileInfo, err := os.Stat(pathString); err == nil {
		mode := fileInfo.Mode()
		if fmt.Sprintf("%s", mode) != "-rw-------" {
			fmt.Println("Warning: Your config file is not secure. Change the permissions by 'chmod 0600 .neat/config'. Now: ", mode)
		}
	}
	data, err := os.ReadFile(pathString)
	if err != nil {
		return Config{}, fmt.Errorf("could not read the file %s", pathString)
	}
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("could not parse %s: %v", pathString, err)
	}
	return config, nil
}

func writeConfig(projectDir string, config Config) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	p := configPath(projectDir)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("could not create %s", filepath.Dir(p))
	}
	return os.WriteFile(p, data, 0600)
}

// loadProject reads the config for a project directory or explains how to
// create one.
func loadProject(projectDir string) Config {
	config, err := readConfig(configPath(projectDir))
	if err != nil {
		exitGracefully(fmt.Errorf("%s is not a neat directory. Change to the correct directory first or create a new project by running\n\n\t%s init project01\n ", projectDir, ownName))
	}
	return config
}

// materializeTemplate writes one of the embedded design templates to the
// project so users can tune it. An existing file is kept as is.
func materializeTemplate(projectDir string, name string) (string, error) {
	dest := filepath.Join(projectDir, ".neat", "templates", name)
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}
	data, err := designTemplates.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("no embedded template %s", name)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("could not create %s", filepath.Dir(dest))
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return "", fmt.Errorf("could not write %s", dest)
	}
	return dest, nil
}

// initProject scaffolds a BIDS style project directory.
func initProject(projectDir string, config Config) error {
	if _, err := os.Stat(filepath.Join(projectDir, ".neat")); !os.IsNotExist(err) {
		return fmt.Errorf("this directory has already been initialized. Delete the .neat directory to do this again")
	}
	for _, sub := range []string{".neat", "sourcedata", "derivatives", "code"} {
		if err := os.MkdirAll(filepath.Join(projectDir, sub), 0755); err != nil {
			return fmt.Errorf("could not create %s", filepath.Join(projectDir, sub))
		}
	}
	description := map[string]interface{}{
		"Name":        config.ProjectName,
		"BIDSVersion": "1.8.0",
		"DatasetType": "raw",
		"Authors":     []string{config.Author.Name},
		"GeneratedBy": []map[string]string{{"Name": ownName, "Version": version}},
	}
	data, _ := json.MarshalIndent(description, "", "  ")
	if err := os.WriteFile(filepath.Join(projectDir, "dataset_description.json"), data, 0644); err != nil {
		return fmt.Errorf("could not write dataset_description.json")
	}
	if err := os.WriteFile(filepath.Join(projectDir, "README.md"), []byte(readme), 0644); err != nil {
		return fmt.Errorf("could not write README.md")
	}
	if _, err := materializeTemplate(projectDir, "level2.fsf"); err != nil {
		return err
	}
	if _, err := materializeTemplate(projectDir, "level3.fsf"); err != nil {
		return err
	}
	return writeConfig(projectDir, config)
}

func printUsage(commands map[string]*flag.FlagSet) {
	fmt.Printf("neat - NEuroimaging Analysis Tool\n")
	fmt.Printf("Version: %s%s\n\n", version, compileDate)
	fmt.Println(" Orchestrates a BIDS style preprocessing and multi-level analysis")
	fmt.Println(" workflow. DICOM conversion, preprocessing and statistics are done")
	fmt.Printf(" by external tools, %s keeps the directories straight.\n\n", ownName)
	fmt.Printf("Usage: %s [init|config|convert|events|level2|level3|status] [options]\n\n", ownName)
	for _, name := range []string{"init", "config", "convert", "events", "level2", "level3", "status"} {
		fmt.Printf("Option %s:\n", name)
		commands[name].PrintDefaults()
		fmt.Println("")
	}
}

func main() {

	initCommand := flag.NewFlagSet("init", flag.ContinueOnError)
	configCommand := flag.NewFlagSet("config", flag.ContinueOnError)
	convertCommand := flag.NewFlagSet("convert", flag.ContinueOnError)
	eventsCommand := flag.NewFlagSet("events", flag.ContinueOnError)
	level2Command := flag.NewFlagSet("level2", flag.ContinueOnError)
	level3Command := flag.NewFlagSet("level3", flag.ContinueOnError)
	statusCommand := flag.NewFlagSet("status", flag.ContinueOnError)
	commands := map[string]*flag.FlagSet{
		"init": initCommand, "config": configCommand, "convert": convertCommand,
		"events": eventsCommand, "level2": level2Command, "level3": level3Command,
		"status": statusCommand,
	}

	var authorName string
	initCommand.StringVar(&authorName, "author_name", "", "Author name stored in the project metadata.")
	var authorEmail string
	initCommand.StringVar(&authorEmail, "author_email", "", "Author email stored in the project metadata.")
	var projectName string
	initCommand.StringVar(&projectName, "project_name", "", "The name of the project.")

	var dataPath string
	configCommand.StringVar(&dataPath, "data", "", "Path to a folder with DICOM files. Glob syntax with double quotes\nis supported, for example --data \"path/to/data/0[8-9]*\".")
	var engineString string
	configCommand.StringVar(&engineString, "engine", "", "The command line of the external statistics engine, for example \"feat\".\nThe design file path will be appended.")
	var converterString string
	configCommand.StringVar(&converterString, "converter", "", "The command line of the DICOM to NIfTI converter, for example\n\"dcm2niix -z y\".")
	var preprocString string
	configCommand.StringVar(&preprocString, "preproc", "", "Optional preprocessing hook run once per converted anatomical image\n(skull stripping, field map correction). The image path is appended.")
	var standardImage string
	configCommand.StringVar(&standardImage, "standard", "", "Path to the standard space template image used in higher-level designs.")
	var configTempDirectory string
	configCommand.StringVar(&configTempDirectory, "temp_directory", "", "Directory for temporary folders.")

	var convertPreview bool
	convertCommand.BoolVar(&convertPreview, "preview", false, "Show an ASCII rendering of one image per series while scanning.")
	var convertSeries string
	convertCommand.StringVar(&convertSeries, "select", "", "Only convert series whose description matches this regular expression.")
	var convertTest bool
	convertCommand.BoolVar(&convertTest, "test", false, "Scan and classify only, do not call the converter.")

	var eventsTasks string
	eventsCommand.StringVar(&eventsTasks, "tasks", "code/tasks.yaml", "YAML file with the task and event timing definitions.")

	addAnalysisFlags := func(fs *flag.FlagSet, o *sessionOptions) {
		fs.StringVar(&o.BaseDir, "base", "", "Base directory with the lower-level results (default derivatives/).")
		fs.StringVar(&o.Template, "template", "", "Design template file (default the project template).")
		fs.Float64Var(&o.ZThreshold, "z", 0, "Z threshold (default from config or 3.1).")
		fs.Float64Var(&o.ClusterP, "p", 0, "Cluster p threshold (default from config or 0.05).")
		fs.StringVar(&o.Selection, "select", "", "Selection rules, space separated [-]subject[:session[:runs]] tokens.")
		fs.BoolVar(&o.AssumeYes, "yes", false, "Do not ask questions, accept the discovered selection and run.")
	}
	var level2Opts, level3Opts sessionOptions
	addAnalysisFlags(level2Command, &level2Opts)
	addAnalysisFlags(level3Command, &level3Opts)
	level2Command.StringVar(&level2Opts.OnError, "on_error", "abort", "What to do when the engine fails: abort or continue.")
	level3Command.StringVar(&level3Opts.OnError, "on_error", "continue", "What to do when the engine fails for one contrast: abort or continue.\nThe historic behavior for the per-contrast batch is continue.")
	level3Command.StringVar(&level3Opts.OutDir, "out", "", "Output directory for the group-level results (default derivatives/group).")
	var level3NCopes int
	level3Command.IntVar(&level3NCopes, "ncopes", 0, "Only carry the first N contrasts into the group analysis.")

	var projectDir string
	for _, fs := range commands {
		fs.StringVar(&projectDir, "dir", ".", "The project directory.")
	}

	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "Show the version number.")

	ownName = filepath.Base(os.Args[0])
	flag.Usage = func() { printUsage(commands) }

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(-1)
	}

	reader := bufio.NewReader(os.Stdin)

	switch os.Args[1] {
	case "init":
		if err := initCommand.Parse(os.Args[2:]); err != nil {
			return
		}
		values := initCommand.Args()
		if len(values) != 1 {
			exitGracefully(fmt.Errorf("we need a single project directory, for example\n\n\t%s init project01", ownName))
		}
		projectDir = initCommand.Arg(0)
		if projectName == "" {
			projectName = filepath.Base(projectDir)
		}
		if authorName == "" {
			fmt.Printf("Author name: ")
			if line, err := reader.ReadString('\n'); err == nil {
				authorName = strings.TrimSuffix(line, "\n")
			}
		}
		if authorEmail == "" {
			fmt.Printf("Author email: ")
			if line, err := reader.ReadString('\n'); err == nil {
				authorEmail = strings.TrimSuffix(line, "\n")
			}
		}
		config := Config{
			Date:        time.Now().Format("2006-01-02 15:04:05"),
			ProjectName: projectName,
			Author:      AuthorInfo{Name: authorName, Email: authorEmail},
			Converter:   "dcm2niix -z y",
			Engine:      "feat",
			ZThreshold:  3.1,
			ClusterP:    0.05,
		}
		check(initProject(projectDir, config))
		fmt.Printf("Initialized %s. Continue with\n\n\t%s config --data \"<dicom folder>\"\n", projectDir, ownName)
	case "config":
		if err := configCommand.Parse(os.Args[2:]); err != nil {
			return
		}
		config := loadProject(projectDir)
		changed := false
		if dataPath != "" {
			if _, err := os.Stat(dataPath); err != nil && os.IsNotExist(err) {
				if matches, _ := filepath.Glob(dataPath); len(matches) == 0 {
					exitGracefully(fmt.Errorf("data path %s does not exist", dataPath))
				}
			}
			config.DataPath = dataPath
			changed = true
		}
		if engineString != "" {
			config.Engine = engineString
			changed = true
		}
		if converterString != "" {
			config.Converter = converterString
			changed = true
		}
		if preprocString != "" {
			config.Preproc = preprocString
			changed = true
		}
		if standardImage != "" {
			if _, err := os.Stat(standardImage); err != nil {
				exitGracefully(fmt.Errorf("standard space image %s does not exist", standardImage))
			}
			config.StandardImage = standardImage
			changed = true
		}
		if configTempDirectory != "" {
			config.TempDirectory = configTempDirectory
			changed = true
		}
		if changed {
			check(writeConfig(projectDir, config))
		}
		data, _ := json.MarshalIndent(config, "", "  ")
		fmt.Println(string(data))
	case "convert":
		if err := convertCommand.Parse(os.Args[2:]); err != nil {
			return
		}
		config := loadProject(projectDir)
		check(setupLog(filepath.Join(projectDir, ".neat", "log")))
		defer closeLog()
		check(runConvert(projectDir, config, convertOptions{
			Preview:      convertPreview,
			SeriesFilter: convertSeries,
			Test:         convertTest,
		}))
	case "events":
		if err := eventsCommand.Parse(os.Args[2:]); err != nil {
			return
		}
		_ = loadProject(projectDir)
		check(setupLog(filepath.Join(projectDir, ".neat", "log")))
		defer closeLog()
		check(runEvents(projectDir, eventsTasks))
	case "level2":
		if err := level2Command.Parse(os.Args[2:]); err != nil {
			return
		}
		config := loadProject(projectDir)
		check(setupLog(filepath.Join(projectDir, ".neat", "log")))
		defer closeLog()
		fillAnalysisDefaults(&level2Opts, projectDir, config, "level2.fsf")
		check(runLevel2(level2Opts, reader))
	case "level3":
		if err := level3Command.Parse(os.Args[2:]); err != nil {
			return
		}
		config := loadProject(projectDir)
		check(setupLog(filepath.Join(projectDir, ".neat", "log")))
		defer closeLog()
		fillAnalysisDefaults(&level3Opts, projectDir, config, "level3.fsf")
		if level3Opts.OutDir == "" {
			level3Opts.OutDir = filepath.Join(projectDir, "derivatives", "group")
		}
		level3Opts.Inputs = level3Command.Args()
		level3Opts.NCopes = level3NCopes
		check(runLevel3(level3Opts, reader))
	case "status":
		if err := statusCommand.Parse(os.Args[2:]); err != nil {
			return
		}
		config := loadProject(projectDir)
		statusTUI := StatusTUI{projectDir: projectDir, config: config}
		statusTUI.Run()
	case "version", "--version", "-version":
		fmt.Printf("%s version %s%s\n", ownName, version, compileDate)
	default:
		flag.Usage()
		os.Exit(-1)
	}
}

// fillAnalysisDefaults resolves option values from, in order, the command
// line, the project config, and built-in defaults.
func fillAnalysisDefaults(opts *sessionOptions, projectDir string, config Config, templateName string) {
	if opts.BaseDir == "" {
		opts.BaseDir = filepath.Join(projectDir, "derivatives")
	}
	if opts.Template == "" {
		dest, err := materializeTemplate(projectDir, templateName)
		check(err)
		opts.Template = dest
	}
	if opts.Engine == "" {
		opts.Engine = config.Engine
	}
	if opts.StandardImage == "" {
		opts.StandardImage = config.StandardImage
	}
	if opts.ZThreshold == 0 {
		opts.ZThreshold = config.ZThreshold
	}
	if opts.ZThreshold == 0 {
		opts.ZThreshold = 3.1
	}
	if opts.ClusterP == 0 {
		opts.ClusterP = config.ClusterP
	}
	if opts.ClusterP == 0 {
		opts.ClusterP = 0.05
	}
}
