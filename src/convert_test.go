package main

import (
	"testing"
)

func Test_classifySeries(t *testing.T) {
	tests := []struct {
		description string
		wantType    string
		wantSuffix  string
	}{
		{"t1_mprage_sag_p2", "anat", "T1w"},
		{"T1w_3D", "anat", "T1w"},
		{"t2_space_dark-fluid", "anat", "T2w"},
		{"ax FLAIR", "anat", "FLAIR"},
		{"ep2d_bold_task_nback", "func", "bold"},
		{"resting_state_run1", "func", "bold"},
		{"gre_field_mapping_phase", "fmap", "phasediff"},
		{"gre_field_mapping_magn", "fmap", "magnitude"},
		{"ep2d_diff_64dir", "dwi", "dwi"},
		{"localizer", "", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			gotType, gotSuffix := classifySeries(tt.description)
			if gotType != tt.wantType || gotSuffix != tt.wantSuffix {
				t.Errorf("classifySeries(%q) = %q/%q, want %q/%q",
					tt.description, gotType, gotSuffix, tt.wantType, tt.wantSuffix)
			}
		})
	}
}

func Test_runCommand(t *testing.T) {
	if err := runCommand("true"); err != nil {
		t.Errorf("runCommand(true) = %v", err)
	}
	if err := runCommand("false"); err == nil {
		t.Errorf("runCommand(false) succeeded")
	}
	if err := runCommand(""); err == nil {
		t.Errorf("runCommand with an empty command line succeeded")
	}
}
