package main

import (
	"fmt"
	"path/filepath"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// StatusTUI is the interactive overview of the analysis state: which
// subjects and sessions have run-level results, what the per-group
// contrast reconciliation says about them, and which contrasts would
// survive a group analysis over everything.
type StatusTUI struct {
	projectDir string
	config     Config
	app        *tview.Application
	tree       *tview.TreeView
	detail     *tview.TextView
	summary    *tview.TextView
	flex       *tview.Flex
}

func (s *StatusTUI) showDetail(dir ResultDir) {
	s.detail.Clear()
	fmt.Fprintf(s.detail, "%s\n\nsubject: %s\nsession: %s\nrun: %s\nlevel: %s\ncontrasts: %v\n",
		dir.Path, dir.Subject, dir.Session, dir.Run, dir.Level, dir.Contrasts)
}

func (s *StatusTUI) showGroup(key string, runs []ResultDir) {
	s.detail.Clear()
	rec, err := reconcileRuns(runs)
	if err != nil {
		fmt.Fprintf(s.detail, "%s\n\n[red]excluded:[-] %v\n", key, err)
		return
	}
	fmt.Fprintf(s.detail, "%s\n\ncommon contrast count: %d\nvalid runs: %d\n", key, rec.Count, len(rec.Valid))
	for _, ex := range rec.Excluded {
		fmt.Fprintf(s.detail, "[yellow]%s %s[-]\n", filepath.Base(ex.Dir.Path), ex.Reason)
	}
}

// Init builds the widget tree from the discovered run directories.
func (s *StatusTUI) Init() {
	base := filepath.Join(s.projectDir, "derivatives")
	keys, groups := discoverRuns(base)

	newPrimitive := func(text string) *tview.TextView {
		return tview.NewTextView().
			SetTextAlign(tview.AlignLeft).
			SetText(text)
	}
	s.detail = newPrimitive("").SetDynamicColors(true)
	s.detail.SetBorder(true).SetTitle("Details")
	s.summary = newPrimitive("").SetDynamicColors(true)
	s.summary.SetBorder(true).SetTitle("Summary")

	root := tview.NewTreeNode(s.config.ProjectName).SetColor(tcell.ColorYellow)
	s.tree = tview.NewTreeView().SetRoot(root).SetCurrentNode(root)
	s.tree.SetBorder(true)
	s.tree.SetTitle("Results")

	var all []ResultDir
	for _, key := range keys {
		runs := groups[key]
		all = append(all, runs...)
		groupNode := tview.NewTreeNode(key).SetReference(key).SetSelectable(true)
		if _, err := reconcileRuns(runs); err != nil {
			groupNode.SetColor(tcell.ColorRed)
		} else {
			groupNode.SetColor(tcell.ColorGreen)
		}
		for _, r := range runs {
			label := fmt.Sprintf("%s (%d contrasts)", filepath.Base(r.Path), len(r.Contrasts))
			runNode := tview.NewTreeNode(label).SetReference(r).SetSelectable(true)
			groupNode.AddChild(runNode)
		}
		root.AddChild(groupNode)
	}

	if len(all) > 0 {
		if common, err := intersectContrasts(all); err == nil {
			fmt.Fprintf(s.summary, "%d result directories in %d subject-sessions.\nContrasts common to all: %v\n", len(all), len(keys), common)
		} else {
			fmt.Fprintf(s.summary, "%d result directories in %d subject-sessions.\n[red]%v[-]\n", len(all), len(keys), err)
		}
	} else {
		fmt.Fprintf(s.summary, "No run-level results below %s yet.\n", base)
	}

	s.tree.SetChangedFunc(func(node *tview.TreeNode) {
		switch ref := node.GetReference().(type) {
		case ResultDir:
			s.showDetail(ref)
		case string:
			s.showGroup(ref, groups[ref])
		}
	})

	s.flex = tview.NewFlex().
		AddItem(s.tree, 0, 1, true).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(s.summary, 7, 1, false).
			AddItem(s.detail, 0, 1, false), 0, 1, false)

	s.app = tview.NewApplication()
	s.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == 'q' || event.Key() == tcell.KeyEscape {
			s.app.Stop()
			return nil
		}
		return event
	})
}

// Run starts the TUI and blocks until the user quits.
func (s *StatusTUI) Run() {
	s.Init()
	if err := s.app.SetRoot(s.flex, true).SetFocus(s.tree).Run(); err != nil {
		exitGracefully(err)
	}
}
