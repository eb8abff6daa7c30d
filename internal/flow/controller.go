// Package flow drives one participant through the study: it turns page events
// into navigation, record mutations and queued uploads.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rcliao/dst-flow/internal/env"
	"github.com/rcliao/dst-flow/internal/ledger"
	"github.com/rcliao/dst-flow/internal/model"
	"github.com/rcliao/dst-flow/internal/sequence"
	"github.com/rcliao/dst-flow/internal/session"
	"github.com/rcliao/dst-flow/internal/store"
	"github.com/rcliao/dst-flow/internal/timing"
	"github.com/rcliao/dst-flow/internal/upload"
)

var (
	ErrNotStarted      = errors.New("session not started")
	ErrAlreadyStarted  = errors.New("session already started")
	ErrAlreadyFinished = errors.New("session already finished")
)

// Options configures a Controller.
type Options struct {
	Sequence       sequence.Config
	StudyTitle     string
	SurveyHostPath string

	// Backend receives uploads. Nil runs the session local-only.
	Backend upload.Backend
	// Archive keeps local snapshots. Optional.
	Archive store.Store

	Log           *zap.Logger
	Now           func() time.Time
	UploadTimeout time.Duration
}

// StartParams carries what is known about the participant at the first page.
type StartParams struct {
	UserAgent      string
	AcceptLanguage string
	Language       string // overrides AcceptLanguage when set
	StudyID        *int
	WorkerID       *string
}

// StartResult reports the identity assigned at session start.
type StartResult struct {
	ParticipantID string            `json:"participant_id"`
	Degraded      bool              `json:"degraded"`
	Reference     int64             `json:"reference"`
	SurveyURL     string            `json:"survey_url"`
	Position      sequence.Position `json:"position"`
}

// Controller owns every component of one session.
type Controller struct {
	log     *zap.Logger
	nav     *sequence.Navigator
	agg     *session.Aggregator
	videos  *ledger.Ledger
	gw      *upload.Gateway
	queue   *upload.Queue
	archive store.Store

	studyTitle string
	surveyHost string

	mu        sync.Mutex
	started   bool
	finished  bool
	archiveID string
	final     *upload.FinalReport
}

// New builds a controller positioned at the first slide.
func New(opts Options) (*Controller, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	cfg := opts.Sequence
	if len(cfg.Pages) == 0 {
		cfg = sequence.Default()
	}
	nav, err := sequence.NewNavigator(cfg)
	if err != nil {
		return nil, fmt.Errorf("sequence: %w", err)
	}

	return &Controller{
		log:        log.Named("flow"),
		nav:        nav,
		agg:        session.New(timing.New(opts.Now), log.Named("session")),
		videos:     ledger.New(),
		gw:         upload.NewGateway(opts.Backend, log),
		queue:      upload.NewQueue(log, opts.UploadTimeout),
		archive:    opts.Archive,
		studyTitle: opts.StudyTitle,
		surveyHost: opts.SurveyHostPath,
	}, nil
}

// Start sets the time reference, identifies the participant with the backend,
// records test_start and leaves the start page.
func (c *Controller) Start(ctx context.Context, p StartParams) (StartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return StartResult{}, ErrAlreadyStarted
	}
	ref, err := c.agg.InitReference()
	if err != nil {
		return StartResult{}, fmt.Errorf("start: %w", err)
	}
	c.started = true

	e := env.DetectRequest(p.UserAgent, p.AcceptLanguage)
	if p.Language != "" {
		e.Language = p.Language
	}
	studyUUID := uuid.NewString()

	id := c.gw.InitializeSession(ctx, upload.SessionMetadata{
		Device:          e.Device,
		OperatingSystem: e.OperatingSystem,
		Browser:         e.Browser,
		Language:        e.Language,
		StudyTitle:      c.studyTitle,
		StudyUUID:       studyUUID,
		WorkerID:        p.WorkerID,
		ReferenceTime:   ref,
	})
	degraded := c.gw.Degraded()

	var survey string
	if !degraded && c.surveyHost != "" {
		survey = env.SurveyURL(c.surveyHost, p.StudyID, id)
	}

	c.agg.SetParticipantMeta(model.MetaPatch{
		StudyTitle:      &c.studyTitle,
		StudyUUID:       &studyUUID,
		StudyResultID:   &id,
		Device:          &e.Device,
		OperatingSystem: &e.OperatingSystem,
		Browser:         &e.Browser,
		Language:        &e.Language,
		SurveyURL:       &survey,
		StudyID:         p.StudyID,
		WorkerID:        p.WorkerID,
	})

	if _, err := c.agg.RecordCheckpoint(model.TestStart, nil); err != nil {
		return StartResult{}, err
	}
	c.saveSnapshot(ctx)
	c.pushCheckpoint()

	// A single-slide sequence starts on its terminal slide.
	pos := c.nav.Position()
	if !c.nav.Done() {
		if pos, err = c.advance(); err != nil {
			return StartResult{}, err
		}
	}

	c.log.Info("session started",
		zap.String("participant", id),
		zap.Bool("degraded", degraded),
		zap.String("device", e.Device),
		zap.String("browser", e.Browser))

	return StartResult{
		ParticipantID: id,
		Degraded:      degraded,
		Reference:     ref,
		SurveyURL:     survey,
		Position:      pos,
	}, nil
}

// Advance moves to the next slide.
func (c *Controller) Advance() (sequence.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.active(); err != nil {
		return sequence.Position{}, err
	}
	return c.advance()
}

// Checkpoint records cp, explicit when given, and queues a timing push.
func (c *Controller) Checkpoint(ctx context.Context, cp model.Checkpoint, explicit *int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.active(); err != nil {
		return 0, err
	}
	v, err := c.agg.RecordCheckpoint(cp, explicit)
	if err != nil {
		return 0, err
	}
	c.saveSnapshot(ctx)
	c.pushCheckpoint()
	return v, nil
}

// StartMathTask clears the math log and moves onto the task page.
func (c *Controller) StartMathTask() (sequence.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.active(); err != nil {
		return sequence.Position{}, err
	}
	c.agg.BeginMathTask()
	return c.advance()
}

// RecordMathQuestion appends one answered question and returns its number.
func (c *Controller) RecordMathQuestion(o session.MathOutcome) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.active(); err != nil {
		return 0, err
	}
	return c.agg.RecordMathQuestion(o), nil
}

// EndMathTask stores the score, pushes timing and moves on.
func (c *Controller) EndMathTask(ctx context.Context, score int) (sequence.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.active(); err != nil {
		return sequence.Position{}, err
	}
	if err := c.agg.EndMathTask(score); err != nil {
		return sequence.Position{}, err
	}
	c.saveSnapshot(ctx)
	c.pushCheckpoint()
	return c.advance()
}

// StartSpeechTask clears the speech log and pushes speechTask_start.
func (c *Controller) StartSpeechTask(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.active(); err != nil {
		return err
	}
	if err := c.agg.BeginSpeechTask(); err != nil {
		return err
	}
	c.saveSnapshot(ctx)
	c.pushCheckpoint()
	return nil
}

// RecordSpeechFeedback appends one speech feedback event.
func (c *Controller) RecordSpeechFeedback(e session.SpeechEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.active(); err != nil {
		return err
	}
	c.agg.RecordSpeechFeedback(e)
	return nil
}

// EndSpeechTask pushes speechTask_end and moves on.
func (c *Controller) EndSpeechTask(ctx context.Context) (sequence.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.active(); err != nil {
		return sequence.Position{}, err
	}
	if err := c.agg.EndSpeechTask(); err != nil {
		return sequence.Position{}, err
	}
	c.saveSnapshot(ctx)
	c.pushCheckpoint()
	return c.advance()
}

// SetSpeechAnalysis stores the audio summary of the speech task.
func (c *Controller) SetSpeechAnalysis(a model.SpeechAnalysis) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.active(); err != nil {
		return err
	}
	c.agg.SetSpeechAnalysis(a)
	return nil
}

// SubmitVAS stores a VAS block and leaves the slide.
func (c *Controller) SubmitVAS(tp model.VASTimepoint, v model.VAS) (sequence.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.active(); err != nil {
		return sequence.Position{}, err
	}
	if err := c.agg.RecordVAS(tp, v); err != nil {
		return sequence.Position{}, err
	}
	return c.advance()
}

// SubmitPANAS stores a PANAS block. startedAt is the offset at which the
// questionnaire was shown; the end checkpoint is taken now.
func (c *Controller) SubmitPANAS(ctx context.Context, tp model.PANASTimepoint, p model.PANAS, startedAt int64) (sequence.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.active(); err != nil {
		return sequence.Position{}, err
	}

	startCp, endCp := model.PanasBaselineStart, model.PanasBaselineEnd
	if tp == model.PANASEnd {
		startCp, endCp = model.PanasEndStart, model.PanasEndEnd
	}
	if err := c.agg.RecordPANAS(tp, p); err != nil {
		return sequence.Position{}, err
	}
	if _, err := c.agg.RecordCheckpoint(startCp, &startedAt); err != nil {
		return sequence.Position{}, err
	}
	if _, err := c.agg.RecordCheckpoint(endCp, nil); err != nil {
		return sequence.Position{}, err
	}
	c.saveSnapshot(ctx)
	c.pushCheckpoint()
	return c.advance()
}

// SetDemographics stores age and gender and queues the participant update.
func (c *Controller) SetDemographics(age *int, gender *string) error {
	return c.patchMeta(model.MetaPatch{Age: age, Gender: gender})
}

// SetPriorParticipation stores the prior participation answer and queues the update.
func (c *Controller) SetPriorParticipation(participated bool) error {
	return c.patchMeta(model.MetaPatch{PriorParticipation: &participated})
}

func (c *Controller) patchMeta(p model.MetaPatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.active(); err != nil {
		return err
	}
	c.agg.SetParticipantMeta(p)
	c.enqueue(upload.CategoryParticipant, func(ctx context.Context) error {
		return c.gw.PatchParticipant(ctx, p)
	})
	return nil
}

// RegisterVideoUpload records a video upload that has started.
func (c *Controller) RegisterVideoUpload() ledger.Token {
	tok := c.videos.Register()
	c.log.Debug("video upload started", zap.Int("token", int(tok)))
	return tok
}

// CompleteVideoUpload marks a video upload finished. Safe from any goroutine.
func (c *Controller) CompleteVideoUpload(tok ledger.Token) error {
	if err := c.videos.Complete(tok); err != nil {
		return err
	}
	c.log.Debug("video upload finished", zap.Int("token", int(tok)),
		zap.Bool("all_uploaded", c.videos.AllUploaded()))
	return nil
}

// OpenAbort opens the abort dialog. It never cancels uploads.
func (c *Controller) OpenAbort() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.active(); err != nil {
		return 0, err
	}
	return c.agg.OpenAbort()
}

// CloseAbort closes the abort dialog.
func (c *Controller) CloseAbort() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.active(); err != nil {
		return 0, err
	}
	return c.agg.CloseAbort()
}

// ToggleAbort opens the dialog when closed and closes it when open.
// It reports whether the dialog is now open.
func (c *Controller) ToggleAbort() (bool, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.active(); err != nil {
		return false, 0, err
	}
	if c.agg.AbortOpen() {
		at, err := c.agg.CloseAbort()
		return false, at, err
	}
	at, err := c.agg.OpenAbort()
	return true, at, err
}

// Finish ends the session, at the last page or after a confirmed abort.
// It records test_end, archives the record and queues the final upload.
func (c *Controller) Finish(ctx context.Context, videosSubmitted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.active(); err != nil {
		return err
	}
	if _, err := c.agg.RecordCheckpoint(model.TestEnd, nil); err != nil {
		return err
	}
	c.agg.MarkVideosSubmitted(videosSubmitted)
	c.finished = true

	c.saveSnapshot(ctx)
	rec := c.agg.Snapshot()
	archiveID := c.archiveID

	c.queue.Enqueue(upload.Task{Category: upload.CategoryFinal, Run: func(ctx context.Context) error {
		report := c.gw.PushFinal(ctx, rec)
		c.mu.Lock()
		c.final = &report
		c.mu.Unlock()
		for _, s := range report.Steps {
			c.recordUpload(ctx, archiveID, store.UploadEvent{
				Category: string(s.Category),
				Label:    s.Label,
				OK:       !s.Skipped && s.Error == "",
				Skipped:  s.Skipped,
				Error:    s.Error,
			})
		}
		if n := report.Failed(); n > 0 {
			return fmt.Errorf("final upload: %d of %d steps failed", n, len(report.Steps))
		}
		return nil
	}})

	c.log.Info("session finished",
		zap.String("participant", c.gw.ParticipantID()),
		zap.Bool("videos_submitted", videosSubmitted),
		zap.Bool("all_videos_uploaded", c.videos.AllUploaded()))
	return nil
}

// FinalReport returns the outcome of the final upload once it has run.
func (c *Controller) FinalReport() (upload.FinalReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.final == nil {
		return upload.FinalReport{}, false
	}
	return *c.final, true
}

// Record returns a deep copy of everything collected so far.
func (c *Controller) Record() model.SessionRecord {
	return c.agg.Snapshot()
}

// Flush waits until every queued upload has run.
func (c *Controller) Flush(ctx context.Context) error {
	return c.queue.Drain(ctx)
}

// Close drains pending uploads and stops the upload worker. An unfinished
// session is archived as is.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.started && !c.finished {
		c.saveSnapshot(ctx)
	}
	c.mu.Unlock()
	return c.queue.Close(ctx)
}

func (c *Controller) active() error {
	switch {
	case !c.started:
		return ErrNotStarted
	case c.finished:
		return ErrAlreadyFinished
	}
	return nil
}

func (c *Controller) advance() (sequence.Position, error) {
	pos, err := c.nav.Advance()
	if err != nil {
		c.log.Warn("advance rejected", zap.Error(err),
			zap.String("page", c.nav.CurrentPage()), zap.String("slide", c.nav.CurrentSlide()))
		return pos, err
	}
	c.log.Debug("advanced", zap.String("page", c.nav.CurrentPage()), zap.String("slide", c.nav.CurrentSlide()))
	return pos, nil
}

// pushCheckpoint queues a push of the timing log as it is now.
func (c *Controller) pushCheckpoint() {
	t := c.agg.Timing()
	c.enqueue(upload.CategoryTiming, func(ctx context.Context) error {
		return c.gw.PushCheckpoint(ctx, t)
	})
}

func (c *Controller) enqueue(cat upload.Category, run func(context.Context) error) {
	archiveID := c.archiveID
	c.queue.Enqueue(upload.Task{Category: cat, Run: func(ctx context.Context) error {
		err := run(ctx)
		ev := store.UploadEvent{Category: string(cat), OK: err == nil, Skipped: upload.IsSkipped(err)}
		if err != nil && !ev.Skipped {
			ev.Error = err.Error()
		}
		c.recordUpload(ctx, archiveID, ev)
		return err
	}})
}

func (c *Controller) recordUpload(ctx context.Context, archiveID string, ev store.UploadEvent) {
	if c.archive == nil || archiveID == "" {
		return
	}
	ev.SessionID = archiveID
	if err := c.archive.RecordUpload(ctx, ev); err != nil {
		c.log.Warn("failed to archive upload outcome", zap.Error(err))
	}
}

// saveSnapshot writes the record to the local archive. Failures are logged only.
func (c *Controller) saveSnapshot(ctx context.Context) {
	if c.archive == nil {
		return
	}
	sess, err := c.archive.SaveSnapshot(ctx, store.SaveParams{
		ID:            c.archiveID,
		ParticipantID: c.gw.ParticipantID(),
		Degraded:      c.gw.Degraded(),
		Finished:      c.finished,
		Record:        c.agg.Snapshot(),
	})
	if err != nil {
		c.log.Warn("failed to archive session", zap.Error(err))
		return
	}
	c.archiveID = sess.ID
}
