// Package model defines the data collected during one study session.
package model

// Checkpoint names a timing field of the TimingLog.
type Checkpoint string

// Checkpoints in the order a full study run reaches them.
const (
	TestStart          Checkpoint = "test_start"
	PanasBaselineStart Checkpoint = "panasBaseline_start"
	PanasBaselineEnd   Checkpoint = "panasBaseline_end"
	MathTaskStart      Checkpoint = "mathTask_start"
	MathTaskEnd        Checkpoint = "mathTask_end"
	SpeechTaskStart    Checkpoint = "speechTask_start"
	SpeechTaskEnd      Checkpoint = "speechTask_end"
	PanasEndStart      Checkpoint = "panasEnd_start"
	PanasEndEnd        Checkpoint = "panasEnd_end"
	TestEnd            Checkpoint = "test_end"
)

// Checkpoints lists every named checkpoint.
var Checkpoints = []Checkpoint{
	TestStart, PanasBaselineStart, PanasBaselineEnd,
	MathTaskStart, MathTaskEnd, SpeechTaskStart, SpeechTaskEnd,
	PanasEndStart, PanasEndEnd, TestEnd,
}

// AbortWindow is one open/close pair of the abort confirmation dialog.
type AbortWindow struct {
	Opened int64  `json:"cancelOpened"`
	Closed *int64 `json:"cancelClosed"`
}

// TimingLog holds the reference instant (epoch ms) and checkpoint offsets (ms).
type TimingLog struct {
	Reference          *int64        `json:"reference"`
	TestStart          *int64        `json:"testStart"`
	TestEnd            *int64        `json:"testEnd"`
	MathTaskStart      *int64        `json:"mathTaskStart"`
	MathTaskEnd        *int64        `json:"mathTaskEnd"`
	SpeechTaskStart    *int64        `json:"speechTaskStart"`
	SpeechTaskEnd      *int64        `json:"speechTaskEnd"`
	PanasBaselineStart *int64        `json:"panasBaselineStart"`
	PanasBaselineEnd   *int64        `json:"panasBaselineEnd"`
	PanasEndStart      *int64        `json:"panasEndStart"`
	PanasEndEnd        *int64        `json:"panasEndEnd"`
	CancelDialog       []AbortWindow `json:"cancelDialog"`
}

// Field returns a pointer to the slot of cp, or nil for an unknown name.
func (t *TimingLog) Field(cp Checkpoint) **int64 {
	switch cp {
	case TestStart:
		return &t.TestStart
	case TestEnd:
		return &t.TestEnd
	case MathTaskStart:
		return &t.MathTaskStart
	case MathTaskEnd:
		return &t.MathTaskEnd
	case SpeechTaskStart:
		return &t.SpeechTaskStart
	case SpeechTaskEnd:
		return &t.SpeechTaskEnd
	case PanasBaselineStart:
		return &t.PanasBaselineStart
	case PanasBaselineEnd:
		return &t.PanasBaselineEnd
	case PanasEndStart:
		return &t.PanasEndStart
	case PanasEndEnd:
		return &t.PanasEndEnd
	}
	return nil
}

// MathQuestion is one answered (or timed out) arithmetic question.
type MathQuestion struct {
	SubjectID       string  `json:"subjectId"`
	QuestionNumber  int     `json:"questionNumber"`
	BeginTotalTime  float64 `json:"beginTotalTime"` // seconds
	EndTotalTime    float64 `json:"endTotalTime"`   // seconds
	TimePaused      float64 `json:"timePaused"`     // milliseconds
	TimeAvailable   float64 `json:"timeAvailable"`  // seconds
	TimeNeeded      float64 `json:"timeNeeded"`     // seconds
	Question        string  `json:"taskQuestion"`
	Answer          string  `json:"taskAnswer"`
	Input           string  `json:"taskInput,omitempty"`
	Feedback        string  `json:"taskFeedback,omitempty"`
	Correct         bool    `json:"correctAnswer"`
	UserInteraction bool    `json:"userInteraction"`
}

// SpeechFeedback is one feedback event shown during the speech task.
type SpeechFeedback struct {
	SubjectID    string  `json:"subjectId"`
	Stage        string  `json:"stage"`
	Feedback     string  `json:"feedback"`
	NoiseLevel   float64 `json:"noiseLevel"`
	RelativeTime int64   `json:"relativeTime"`
}

// SpeechQuestionAnalysis holds aggregate audio metrics for one speech question.
type SpeechQuestionAnalysis struct {
	SpeakingTicks *int     `json:"speakingTickCounter"`
	SpeakBreaks   *int     `json:"speakBreakCounter"`
	AudioMean     *float64 `json:"audioMean"`
	VolumeHigh    *float64 `json:"volumeHigh"`
}

// SpeechAnalysis covers the three speech questions.
type SpeechAnalysis struct {
	Questions [3]SpeechQuestionAnalysis `json:"questions"`
}

// Populated reports whether the collaborator has delivered the summary.
func (a SpeechAnalysis) Populated() bool {
	return a.Questions[0].SpeakingTicks != nil
}

// ParticipantMeta holds identity and environment of the participant.
type ParticipantMeta struct {
	StudyID            *int    `json:"studyId"`
	StudyTitle         string  `json:"studyTitle"`
	StudyUUID          string  `json:"studyUuid"`
	ComponentID        *int    `json:"componentId"`
	StudyResultID      string  `json:"studyResultId"`
	WorkerID           *string `json:"workerId"`
	Device             string  `json:"device"`
	OperatingSystem    string  `json:"operatingSystem"`
	Browser            string  `json:"browser"`
	Language           string  `json:"language"`
	SurveyURL          string  `json:"surveyURL"`
	Age                *int    `json:"age"`
	Gender             *string `json:"gender"`
	PriorParticipation *bool   `json:"priorParticipation"`
	VideosSubmitted    *bool   `json:"videosSubmitted"`
}

// MetaPatch carries the ParticipantMeta fields to overwrite. Nil fields are kept.
type MetaPatch struct {
	StudyID            *int
	StudyTitle         *string
	StudyUUID          *string
	StudyResultID      *string
	Device             *string
	OperatingSystem    *string
	Browser            *string
	Language           *string
	SurveyURL          *string
	WorkerID           *string
	Age                *int
	Gender             *string
	PriorParticipation *bool
	VideosSubmitted    *bool
}

// Apply merges p into m.
func (p MetaPatch) Apply(m *ParticipantMeta) {
	setString(&m.StudyTitle, p.StudyTitle)
	setString(&m.StudyUUID, p.StudyUUID)
	setString(&m.StudyResultID, p.StudyResultID)
	setString(&m.Device, p.Device)
	setString(&m.OperatingSystem, p.OperatingSystem)
	setString(&m.Browser, p.Browser)
	setString(&m.Language, p.Language)
	setString(&m.SurveyURL, p.SurveyURL)
	if p.StudyID != nil {
		v := *p.StudyID
		m.StudyID = &v
	}
	if p.WorkerID != nil {
		v := *p.WorkerID
		m.WorkerID = &v
	}
	if p.Age != nil {
		v := *p.Age
		m.Age = &v
	}
	if p.Gender != nil {
		v := *p.Gender
		m.Gender = &v
	}
	if p.PriorParticipation != nil {
		v := *p.PriorParticipation
		m.PriorParticipation = &v
	}
	if p.VideosSubmitted != nil {
		v := *p.VideosSubmitted
		m.VideosSubmitted = &v
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// SessionRecord is everything collected during one session.
type SessionRecord struct {
	Timing         TimingLog        `json:"studyTimes"`
	MathTask       []MathQuestion   `json:"mathTaskPerformance"`
	MathTaskScore  *int             `json:"mathTaskScore"`
	Speech         []SpeechFeedback `json:"speechTaskFeedback"`
	SpeechAnalysis SpeechAnalysis   `json:"speechTestAnalysis"`
	SelfReports    SelfReports      `json:"selfReports"`
	Meta           ParticipantMeta  `json:"studyMetaTracker"`
}

// Clone returns a deep copy of r.
func (r SessionRecord) Clone() SessionRecord {
	out := r
	out.Timing = r.Timing.clone()
	out.MathTask = append([]MathQuestion(nil), r.MathTask...)
	out.Speech = append([]SpeechFeedback(nil), r.Speech...)
	out.MathTaskScore = clonePtr(r.MathTaskScore)
	for i, q := range r.SpeechAnalysis.Questions {
		out.SpeechAnalysis.Questions[i] = SpeechQuestionAnalysis{
			SpeakingTicks: clonePtr(q.SpeakingTicks),
			SpeakBreaks:   clonePtr(q.SpeakBreaks),
			AudioMean:     clonePtr(q.AudioMean),
			VolumeHigh:    clonePtr(q.VolumeHigh),
		}
	}
	out.SelfReports = r.SelfReports.clone()
	out.Meta = r.Meta.clone()
	return out
}

func (t TimingLog) clone() TimingLog {
	out := t
	out.Reference = clonePtr(t.Reference)
	for _, cp := range Checkpoints {
		slot := out.Field(cp)
		*slot = clonePtr(*slot)
	}
	out.CancelDialog = make([]AbortWindow, len(t.CancelDialog))
	for i, w := range t.CancelDialog {
		out.CancelDialog[i] = AbortWindow{Opened: w.Opened, Closed: clonePtr(w.Closed)}
	}
	return out
}

func (m ParticipantMeta) clone() ParticipantMeta {
	out := m
	out.StudyID = clonePtr(m.StudyID)
	out.ComponentID = clonePtr(m.ComponentID)
	out.WorkerID = clonePtr(m.WorkerID)
	out.Age = clonePtr(m.Age)
	out.Gender = clonePtr(m.Gender)
	out.PriorParticipation = clonePtr(m.PriorParticipation)
	out.VideosSubmitted = clonePtr(m.VideosSubmitted)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
