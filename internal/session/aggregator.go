// Package session owns the in-memory record of one study session and exposes
// the narrow set of mutations the study flow is allowed to perform on it.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/dst-flow/internal/model"
	"github.com/rcliao/dst-flow/internal/timing"
)

// ErrUnknownCheckpoint is returned for a checkpoint name the TimingLog lacks.
var ErrUnknownCheckpoint = errors.New("unknown checkpoint")

// MathOutcome is what the math task page reports after each question.
type MathOutcome struct {
	Correct          bool
	NoAnswerStreak   int
	ElapsedSeconds   float64 // time needed for this question
	PausedMillis     float64
	QuestionDuration time.Duration // time budget
	Question         string
	Answer           string
	Input            string
	Feedback         string
	BeginTotal       float64 // seconds since task start
	EndTotal         float64
}

// SpeechEvent is one feedback event raised by the speech task page.
type SpeechEvent struct {
	Stage        string
	Feedback     string
	NoiseLevel   float64
	RelativeTime int64
}

// Aggregator is the single owner of a SessionRecord.
type Aggregator struct {
	mu    sync.RWMutex
	rec   model.SessionRecord
	clock *timing.Tracker
	log   *zap.Logger
}

// New creates an empty aggregator bound to the given time tracker.
func New(clock *timing.Tracker, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{clock: clock, log: log}
}

// InitReference captures the session reference and stores it in the TimingLog.
func (a *Aggregator) InitReference() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.clock.InitReference(); err != nil {
		a.log.Warn("time reference initialized twice")
		return 0, err
	}
	ms, _ := a.clock.ReferenceMillis()
	a.rec.Timing.Reference = &ms
	return ms, nil
}

// Elapsed returns milliseconds since the session reference.
func (a *Aggregator) Elapsed() (int64, error) {
	return a.clock.Elapsed()
}

// RecordCheckpoint stores explicit verbatim when given, otherwise the current
// offset from the reference.
func (a *Aggregator) RecordCheckpoint(cp model.Checkpoint, explicit *int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recordCheckpoint(cp, explicit)
}

func (a *Aggregator) recordCheckpoint(cp model.Checkpoint, explicit *int64) (int64, error) {
	slot := a.rec.Timing.Field(cp)
	if slot == nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCheckpoint, cp)
	}

	var v int64
	if explicit != nil {
		v = *explicit
	} else {
		elapsed, err := a.clock.Elapsed()
		if err != nil {
			return 0, fmt.Errorf("checkpoint %s: %w", cp, err)
		}
		v = elapsed
	}
	if *slot != nil {
		a.log.Warn("checkpoint overwritten", zap.String("checkpoint", string(cp)),
			zap.Int64("previous", **slot), zap.Int64("value", v))
	}
	*slot = &v
	return v, nil
}

// BeginMathTask clears the math log.
func (a *Aggregator) BeginMathTask() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rec.MathTask = []model.MathQuestion{}
}

// RecordMathQuestion appends one question and returns its number, which is
// always the count of entries logged before it.
func (a *Aggregator) RecordMathQuestion(o MathOutcome) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.rec.MathTask)
	a.rec.MathTask = append(a.rec.MathTask, model.MathQuestion{
		SubjectID:       a.rec.Meta.StudyResultID,
		QuestionNumber:  n,
		BeginTotalTime:  o.BeginTotal,
		EndTotalTime:    o.EndTotal,
		TimePaused:      o.PausedMillis,
		TimeAvailable:   o.QuestionDuration.Seconds(),
		TimeNeeded:      o.ElapsedSeconds,
		Question:        o.Question,
		Answer:          o.Answer,
		Input:           o.Input,
		Feedback:        o.Feedback,
		Correct:         o.Correct,
		UserInteraction: o.NoAnswerStreak <= 0,
	})
	return n
}

// EndMathTask stores the final score and records the mathTask_end checkpoint.
func (a *Aggregator) EndMathTask(score int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rec.MathTaskScore = &score
	_, err := a.recordCheckpoint(model.MathTaskEnd, nil)
	return err
}

// BeginSpeechTask clears the speech log and records speechTask_start.
func (a *Aggregator) BeginSpeechTask() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rec.Speech = []model.SpeechFeedback{}
	_, err := a.recordCheckpoint(model.SpeechTaskStart, nil)
	return err
}

// RecordSpeechFeedback appends one speech feedback event.
func (a *Aggregator) RecordSpeechFeedback(e SpeechEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rec.Speech = append(a.rec.Speech, model.SpeechFeedback{
		SubjectID:    a.rec.Meta.StudyResultID,
		Stage:        e.Stage,
		Feedback:     e.Feedback,
		NoiseLevel:   e.NoiseLevel,
		RelativeTime: e.RelativeTime,
	})
}

// EndSpeechTask records speechTask_end.
func (a *Aggregator) EndSpeechTask() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.recordCheckpoint(model.SpeechTaskEnd, nil)
	return err
}

// SetSpeechAnalysis stores the summary computed by the speech task page.
func (a *Aggregator) SetSpeechAnalysis(s model.SpeechAnalysis) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rec.SpeechAnalysis = s
}

// RecordVAS stores a VAS block at tp.
func (a *Aggregator) RecordVAS(tp model.VASTimepoint, v model.VAS) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	slot := a.rec.SelfReports.VAS(tp)
	if slot == nil {
		return fmt.Errorf("record vas: unknown timepoint %q", tp)
	}
	*slot = v
	return nil
}

// RecordPANAS stores a PANAS block at tp.
func (a *Aggregator) RecordPANAS(tp model.PANASTimepoint, p model.PANAS) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	slot := a.rec.SelfReports.PANAS(tp)
	if slot == nil {
		return fmt.Errorf("record panas: unknown timepoint %q", tp)
	}
	*slot = p
	return nil
}

// SetParticipantMeta merges p into the participant metadata.
func (a *Aggregator) SetParticipantMeta(p model.MetaPatch) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p.Apply(&a.rec.Meta)
}

// MarkVideosSubmitted records whether the participant handed in the recordings.
func (a *Aggregator) MarkVideosSubmitted(submitted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rec.Meta.VideosSubmitted = &submitted
}

// Meta returns a copy of the participant metadata.
func (a *Aggregator) Meta() model.ParticipantMeta {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rec.Clone().Meta
}

// Timing returns a copy of the TimingLog.
func (a *Aggregator) Timing() model.TimingLog {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rec.Clone().Timing
}

// Snapshot returns a deep copy of the whole record.
func (a *Aggregator) Snapshot() model.SessionRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rec.Clone()
}
