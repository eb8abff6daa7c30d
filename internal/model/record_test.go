package model

import "testing"

func intPtr(v int) *int { return &v }

func TestCloneIsDeep(t *testing.T) {
	ref := int64(1000)
	start := int64(5)
	closed := int64(9)
	stress := 42.0

	r := SessionRecord{
		Timing: TimingLog{
			Reference:    &ref,
			TestStart:    &start,
			CancelDialog: []AbortWindow{{Opened: 7, Closed: &closed}},
		},
		MathTask:      []MathQuestion{{QuestionNumber: 0}},
		MathTaskScore: intPtr(3),
		Meta:          ParticipantMeta{Age: intPtr(30)},
	}
	r.SelfReports.VASBaseline.Stress = &stress
	r.SelfReports.PANASBegin.Active = intPtr(4)
	r.SpeechAnalysis.Questions[0].SpeakingTicks = intPtr(12)

	c := r.Clone()

	*r.Timing.TestStart = 99
	*r.Timing.CancelDialog[0].Closed = 99
	r.MathTask[0].QuestionNumber = 99
	*r.MathTaskScore = 99
	*r.Meta.Age = 99
	*r.SelfReports.VASBaseline.Stress = 99
	*r.SelfReports.PANASBegin.Active = 99
	*r.SpeechAnalysis.Questions[0].SpeakingTicks = 99

	if *c.Timing.TestStart != 5 || *c.Timing.CancelDialog[0].Closed != 9 {
		t.Error("timing shared with clone")
	}
	if c.MathTask[0].QuestionNumber != 0 || *c.MathTaskScore != 3 {
		t.Error("math data shared with clone")
	}
	if *c.Meta.Age != 30 {
		t.Error("meta shared with clone")
	}
	if *c.SelfReports.VASBaseline.Stress != 42 || *c.SelfReports.PANASBegin.Active != 4 {
		t.Error("self reports shared with clone")
	}
	if *c.SpeechAnalysis.Questions[0].SpeakingTicks != 12 {
		t.Error("speech analysis shared with clone")
	}
}

func TestTimingFieldCoversCheckpoints(t *testing.T) {
	var log TimingLog
	for _, cp := range Checkpoints {
		if log.Field(cp) == nil {
			t.Errorf("no field for %s", cp)
		}
	}
	if log.Field("bogus") != nil {
		t.Error("expected nil for unknown checkpoint")
	}
}

func TestMetaPatchApply(t *testing.T) {
	m := ParticipantMeta{Language: "de", Device: "desktop"}
	gender := "female"
	MetaPatch{Age: intPtr(25), Gender: &gender}.Apply(&m)

	if m.Language != "de" || m.Device != "desktop" {
		t.Error("patch overwrote unset fields")
	}
	if *m.Age != 25 || *m.Gender != "female" {
		t.Errorf("patch not applied: %+v", m)
	}
}

func TestParseTimepoints(t *testing.T) {
	if _, err := ParseVASTimepoint("intermediate"); err != nil {
		t.Error(err)
	}
	if _, err := ParseVASTimepoint("begin_panas"); err == nil {
		t.Error("expected error for PANAS name as VAS timepoint")
	}
	if _, err := ParsePANASTimepoint("end_panas"); err != nil {
		t.Error(err)
	}
	if _, err := ParsePANASTimepoint("end"); err == nil {
		t.Error("expected error for VAS name as PANAS timepoint")
	}
}

func TestSelfReportPopulated(t *testing.T) {
	three := 3
	stress := 12.0
	tests := []struct {
		name  string
		panas PANAS
		vas   VAS
		want  bool
	}{
		{"empty", PANAS{}, VAS{}, false},
		{"first item only", PANAS{Active: &three}, VAS{Stress: &stress}, true},
		{"first item missing", PANAS{Afraid: &three}, VAS{Ashamed: &stress}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.panas.Populated(); got != tt.want {
				t.Errorf("PANAS.Populated() = %v, want %v", got, tt.want)
			}
			if got := tt.vas.Populated(); got != tt.want {
				t.Errorf("VAS.Populated() = %v, want %v", got, tt.want)
			}
		})
	}
}
