package upload

import (
	"math"
	"strconv"

	"github.com/rcliao/dst-flow/internal/model"
)

// Backend table names.
const (
	tableVAS            = "vas_scores"
	tablePANAS          = "panas_scores"
	tableMath           = "math_task_performance"
	tableSpeechFeedback = "speech_task_feedback"
	tableSpeechAnalysis = "speech_task_analysis"
)

// ParticipantRow is the body of the participant creation request.
type ParticipantRow struct {
	Age                *int    `json:"age"`
	Gender             *string `json:"gender"`
	PriorParticipation *bool   `json:"prior_participation"`
	Device             string  `json:"device"`
	OperatingSystem    string  `json:"operating_system"`
	Browser            string  `json:"browser"`
	Language           string  `json:"language"`
	StudyTitle         string  `json:"study_title"`
	StudyUUID          string  `json:"study_uuid"`
	WorkerID           *string `json:"worker_id"`
	ReferenceTime      int64   `json:"reference_time"`
}

type cancelWindowRow struct {
	Opened int64  `json:"cancel_opened"`
	Closed *int64 `json:"cancel_closed"`
}

type timingPatch struct {
	TestStart          *int64            `json:"test_start"`
	TestEnd            *int64            `json:"test_end"`
	MathTaskStart      *int64            `json:"math_task_start"`
	MathTaskEnd        *int64            `json:"math_task_end"`
	SpeechTaskStart    *int64            `json:"speech_task_start"`
	SpeechTaskEnd      *int64            `json:"speech_task_end"`
	PanasBaselineStart *int64            `json:"panas_baseline_start"`
	PanasBaselineEnd   *int64            `json:"panas_baseline_end"`
	PanasEndStart      *int64            `json:"panas_end_start"`
	PanasEndEnd        *int64            `json:"panas_end_end"`
	CancelDialogTimes  []cancelWindowRow `json:"cancel_dialog_times"`
}

type vasRow struct {
	ParticipantID string   `json:"participant_id"`
	Timepoint     string   `json:"timepoint"`
	Stress        *float64 `json:"stress"`
	Frustrated    *float64 `json:"frustrated"`
	Overstrained  *float64 `json:"overstrained"`
	Ashamed       *float64 `json:"ashamed"`
}

type panasRow struct {
	ParticipantID string `json:"participant_id"`
	Timepoint     string `json:"timepoint"`
	Active        *int   `json:"active"`
	Upset         *int   `json:"upset"`
	Hostile       *int   `json:"hostile"`
	Inspired      *int   `json:"inspired"`
	Ashamed       *int   `json:"ashamed"`
	Alert         *int   `json:"alert"`
	Nervous       *int   `json:"nervous"`
	Determined    *int   `json:"determined"`
	Attentive     *int   `json:"attentive"`
	Afraid        *int   `json:"afraid"`
}

type mathRow struct {
	ParticipantID   string  `json:"participant_id"`
	QuestionNumber  int     `json:"question_number"`
	BeginTotalTime  int64   `json:"begin_total_time"`
	EndTotalTime    int64   `json:"end_total_time"`
	TimePaused      int64   `json:"time_paused"`
	TimeAvailable   int64   `json:"time_available"`
	TimeNeeded      int64   `json:"time_needed"`
	TaskQuestion    string  `json:"task_question"`
	TaskAnswer      string  `json:"task_answer"`
	TaskInput       *string `json:"task_input"`
	TaskFeedback    *string `json:"task_feedback"`
	CorrectAnswer   bool    `json:"correct_answer"`
	UserInteraction string  `json:"user_interaction"`
}

type speechFeedbackRow struct {
	ParticipantID string  `json:"participant_id"`
	Stage         string  `json:"stage"`
	Feedback      string  `json:"feedback"`
	NoiseLevel    float64 `json:"noise_level"`
	RelativeTime  int64   `json:"relative_time"`
}

type speechAnalysisRow struct {
	ParticipantID         string   `json:"participant_id"`
	SpeakingTickCounterQ1 *int     `json:"speaking_tick_counter_q1"`
	SpeakBreakCounterQ1   *int     `json:"speak_break_counter_q1"`
	AudioMeanQ1           *float64 `json:"audio_mean_q1"`
	VolumeHighQ1          *float64 `json:"volume_high_q1"`
	SpeakingTickCounterQ2 *int     `json:"speaking_tick_counter_q2"`
	SpeakBreakCounterQ2   *int     `json:"speak_break_counter_q2"`
	AudioMeanQ2           *float64 `json:"audio_mean_q2"`
	VolumeHighQ2          *float64 `json:"volume_high_q2"`
	SpeakingTickCounterQ3 *int     `json:"speaking_tick_counter_q3"`
	SpeakBreakCounterQ3   *int     `json:"speak_break_counter_q3"`
	AudioMeanQ3           *float64 `json:"audio_mean_q3"`
	VolumeHighQ3          *float64 `json:"volume_high_q3"`
}

type scorePatch struct {
	MathTaskScore int `json:"math_task_score"`
}

type metaPatch struct {
	Age                *int    `json:"age,omitempty"`
	Gender             *string `json:"gender,omitempty"`
	PriorParticipation *bool   `json:"prior_participation,omitempty"`
}

func toTimingPatch(t model.TimingLog) timingPatch {
	windows := make([]cancelWindowRow, 0, len(t.CancelDialog))
	for _, w := range t.CancelDialog {
		windows = append(windows, cancelWindowRow{Opened: w.Opened, Closed: w.Closed})
	}
	return timingPatch{
		TestStart:          t.TestStart,
		TestEnd:            t.TestEnd,
		MathTaskStart:      t.MathTaskStart,
		MathTaskEnd:        t.MathTaskEnd,
		SpeechTaskStart:    t.SpeechTaskStart,
		SpeechTaskEnd:      t.SpeechTaskEnd,
		PanasBaselineStart: t.PanasBaselineStart,
		PanasBaselineEnd:   t.PanasBaselineEnd,
		PanasEndStart:      t.PanasEndStart,
		PanasEndEnd:        t.PanasEndEnd,
		CancelDialogTimes:  windows,
	}
}

func toVASRow(pid string, tp model.VASTimepoint, v model.VAS) vasRow {
	return vasRow{
		ParticipantID: pid,
		Timepoint:     string(tp),
		Stress:        v.Stress,
		Frustrated:    v.Frustrated,
		Overstrained:  v.Overstrained,
		Ashamed:       v.Ashamed,
	}
}

func toPANASRow(pid string, tp model.PANASTimepoint, p model.PANAS) panasRow {
	return panasRow{
		ParticipantID: pid,
		Timepoint:     string(tp),
		Active:        p.Active,
		Upset:         p.Upset,
		Hostile:       p.Hostile,
		Inspired:      p.Inspired,
		Ashamed:       p.Ashamed,
		Alert:         p.Alert,
		Nervous:       p.Nervous,
		Determined:    p.Determined,
		Attentive:     p.Attentive,
		Afraid:        p.Afraid,
	}
}

// toMathRows drops placeholder entries that carry no subject id.
// Second-based fields are sent as integer milliseconds.
func toMathRows(pid string, qs []model.MathQuestion) []mathRow {
	rows := make([]mathRow, 0, len(qs))
	for _, q := range qs {
		if q.SubjectID == "" {
			continue
		}
		rows = append(rows, mathRow{
			ParticipantID:   pid,
			QuestionNumber:  q.QuestionNumber,
			BeginTotalTime:  secondsToMillis(q.BeginTotalTime),
			EndTotalTime:    secondsToMillis(q.EndTotalTime),
			TimePaused:      int64(math.Round(q.TimePaused)),
			TimeAvailable:   secondsToMillis(q.TimeAvailable),
			TimeNeeded:      secondsToMillis(q.TimeNeeded),
			TaskQuestion:    q.Question,
			TaskAnswer:      q.Answer,
			TaskInput:       nonEmpty(q.Input),
			TaskFeedback:    nonEmpty(q.Feedback),
			CorrectAnswer:   q.Correct,
			UserInteraction: strconv.FormatBool(q.UserInteraction),
		})
	}
	return rows
}

func toSpeechFeedbackRows(pid string, events []model.SpeechFeedback) []speechFeedbackRow {
	rows := make([]speechFeedbackRow, 0, len(events))
	for _, e := range events {
		if e.SubjectID == "" {
			continue
		}
		rows = append(rows, speechFeedbackRow{
			ParticipantID: pid,
			Stage:         e.Stage,
			Feedback:      e.Feedback,
			NoiseLevel:    e.NoiseLevel,
			RelativeTime:  e.RelativeTime,
		})
	}
	return rows
}

func toSpeechAnalysisRow(pid string, a model.SpeechAnalysis) speechAnalysisRow {
	q := a.Questions
	return speechAnalysisRow{
		ParticipantID:         pid,
		SpeakingTickCounterQ1: q[0].SpeakingTicks,
		SpeakBreakCounterQ1:   q[0].SpeakBreaks,
		AudioMeanQ1:           q[0].AudioMean,
		VolumeHighQ1:          q[0].VolumeHigh,
		SpeakingTickCounterQ2: q[1].SpeakingTicks,
		SpeakBreakCounterQ2:   q[1].SpeakBreaks,
		AudioMeanQ2:           q[1].AudioMean,
		VolumeHighQ2:          q[1].VolumeHigh,
		SpeakingTickCounterQ3: q[2].SpeakingTicks,
		SpeakBreakCounterQ3:   q[2].SpeakBreaks,
		AudioMeanQ3:           q[2].AudioMean,
		VolumeHighQ3:          q[2].VolumeHigh,
	}
}

func secondsToMillis(s float64) int64 {
	return int64(math.Round(s * 1000))
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
