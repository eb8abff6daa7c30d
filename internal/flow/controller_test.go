package flow

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rcliao/dst-flow/internal/ledger"
	"github.com/rcliao/dst-flow/internal/model"
	"github.com/rcliao/dst-flow/internal/sequence"
	"github.com/rcliao/dst-flow/internal/session"
	"github.com/rcliao/dst-flow/internal/store"
	"github.com/rcliao/dst-flow/internal/upload"
)

type backendCall struct {
	Op    string
	Table string
	Body  any
}

type fakeBackend struct {
	mu         sync.Mutex
	calls      []backendCall
	failCreate bool
	failTables map[string]bool
}

func (b *fakeBackend) CreateParticipant(_ context.Context, row upload.ParticipantRow) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, backendCall{Op: "create", Table: "participants", Body: row})
	if b.failCreate {
		return "", errors.New("connection refused")
	}
	return "42", nil
}

func (b *fakeBackend) PatchParticipant(_ context.Context, _ string, patch any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, backendCall{Op: "patch", Table: "participants", Body: patch})
	return nil
}

func (b *fakeBackend) Insert(_ context.Context, table string, rows any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, backendCall{Op: "insert", Table: table, Body: rows})
	if b.failTables[table] {
		return errors.New("backend error 500")
	}
	return nil
}

func (b *fakeBackend) inserts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, c := range b.calls {
		if c.Op == "insert" {
			out = append(out, c.Table)
		}
	}
	return out
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

// Now returns the current instant and moves the clock forward by one second.
func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(time.Second)
	return now
}

func newTestController(t *testing.T, b upload.Backend, archive store.Store) *Controller {
	t.Helper()
	clk := &stepClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	c, err := New(Options{
		StudyTitle:     "DST",
		SurveyHostPath: "https://survey.example/s",
		Backend:        b,
		Archive:        archive,
		Log:            zap.NewNop(),
		Now:            clk.Now,
		UploadTimeout:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func newTestArchive(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func flush(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Flush(ctx))
}

func ip(v int) *int         { return &v }
func fp(v float64) *float64 { return &v }

func fullPANAS(v int) model.PANAS {
	var p model.PANAS
	for _, k := range model.PANASItems {
		n := v
		*p.Item(k) = &n
	}
	return p
}

func fullVAS(v float64) model.VAS {
	return model.VAS{Stress: fp(v), Frustrated: fp(v), Overstrained: fp(v), Ashamed: fp(v)}
}

func pos(page, slide int) sequence.Position { return sequence.Position{Page: page, Slide: slide} }

// runStudy walks the default sequence from start to the last slide.
func runStudy(t *testing.T, c *Controller) StartResult {
	t.Helper()
	ctx := context.Background()

	res, err := c.Start(ctx, StartParams{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		AcceptLanguage: "de-DE,de;q=0.9",
		StudyID:        ip(3),
	})
	require.NoError(t, err)
	assert.Equal(t, pos(1, 0), res.Position)

	step := func(want sequence.Position, got sequence.Position, err error) {
		t.Helper()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	p, err := c.Advance()
	step(pos(1, 1), p, err)
	require.NoError(t, c.SetPriorParticipation(false))
	p, err = c.Advance()
	step(pos(1, 2), p, err)
	p, err = c.SubmitVAS(model.VASBaseline, fullVAS(10))
	step(pos(1, 3), p, err)
	elapsed, err := c.agg.Elapsed()
	require.NoError(t, err)
	p, err = c.SubmitPANAS(ctx, model.PANASBegin, fullPANAS(2), elapsed)
	step(pos(1, 4), p, err)
	p, err = c.Advance()
	step(pos(2, 0), p, err)

	require.NoError(t, c.SetDemographics(ip(29), nil))
	p, err = c.Advance()
	step(pos(2, 1), p, err)
	p, err = c.Advance()
	step(pos(2, 2), p, err)
	p, err = c.StartMathTask()
	step(pos(3, 0), p, err)

	_, err = c.Checkpoint(ctx, model.MathTaskStart, nil)
	require.NoError(t, err)
	n, err := c.RecordMathQuestion(session.MathOutcome{Correct: true, Question: "3 + 4", Answer: "7", Input: "7", QuestionDuration: 8 * time.Second, ElapsedSeconds: 2.5})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = c.RecordMathQuestion(session.MathOutcome{NoAnswerStreak: 1, Question: "9 - 5", Answer: "4", QuestionDuration: 8 * time.Second, ElapsedSeconds: 8})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	p, err = c.EndMathTask(ctx, 1)
	step(pos(4, 0), p, err)

	p, err = c.Advance()
	step(pos(5, 0), p, err)
	p, err = c.SubmitVAS(model.VASIntermediate, fullVAS(60))
	step(pos(5, 1), p, err)
	p, err = c.Advance()
	step(pos(5, 2), p, err)
	p, err = c.Advance()
	step(pos(6, 0), p, err)

	require.NoError(t, c.StartSpeechTask(ctx))
	require.NoError(t, c.RecordSpeechFeedback(session.SpeechEvent{Stage: "q1", Feedback: "speak louder", NoiseLevel: 0.2, RelativeTime: 1500}))
	var analysis model.SpeechAnalysis
	analysis.Questions[0].SpeakingTicks = ip(30)
	require.NoError(t, c.SetSpeechAnalysis(analysis))
	p, err = c.EndSpeechTask(ctx)
	step(pos(7, 0), p, err)

	p, err = c.SubmitVAS(model.VASEnd, fullVAS(20))
	step(pos(7, 1), p, err)
	elapsed, err = c.agg.Elapsed()
	require.NoError(t, err)
	p, err = c.SubmitPANAS(ctx, model.PANASEnd, fullPANAS(1), elapsed)
	step(pos(7, 2), p, err)
	p, err = c.Advance()
	step(pos(7, 3), p, err)
	return res
}

func TestFullStudy(t *testing.T) {
	b := &fakeBackend{}
	archive := newTestArchive(t)
	c := newTestController(t, b, archive)

	res := runStudy(t, c)
	assert.Equal(t, "42", res.ParticipantID)
	assert.False(t, res.Degraded)
	assert.Equal(t, "https://survey.example/s?q=DST_video&r=03000042", res.SurveyURL)

	st := c.State()
	assert.True(t, st.Done)
	_, err := c.Advance()
	assert.ErrorIs(t, err, sequence.ErrPastEnd)
	assert.Equal(t, pos(7, 3), c.State().Position)

	require.NoError(t, c.Finish(context.Background(), true))
	flush(t, c)

	report, ok := c.FinalReport()
	require.True(t, ok)
	assert.Zero(t, report.Failed())
	assert.Equal(t, []string{
		"vas_scores", "vas_scores", "vas_scores",
		"panas_scores", "panas_scores",
		"math_task_performance",
		"speech_task_feedback",
		"speech_task_analysis",
	}, b.inserts())

	rec := c.Record()
	for _, cp := range model.Checkpoints {
		assert.NotNil(t, *rec.Timing.Field(cp), "checkpoint %s not set", cp)
	}
	assert.Equal(t, "42", rec.Meta.StudyResultID)
	assert.Equal(t, "desktop", rec.Meta.Device)
	assert.Equal(t, "de-DE", rec.Meta.Language)
	assert.Equal(t, 29, *rec.Meta.Age)
	assert.False(t, *rec.Meta.PriorParticipation)
	assert.True(t, *rec.Meta.VideosSubmitted)
	assert.Equal(t, 3, *rec.Meta.StudyID)
	assert.Len(t, rec.MathTask, 2)
	assert.False(t, rec.MathTask[1].UserInteraction)
	assert.Equal(t, 1, *rec.MathTaskScore)
	assert.LessOrEqual(t, *rec.Timing.PanasBaselineStart, *rec.Timing.PanasBaselineEnd)

	st = c.State()
	assert.True(t, st.Finished)
	assert.Equal(t, 1, st.Uploads[upload.CategoryFinal].Succeeded)
	assert.Zero(t, st.Uploads[upload.CategoryTiming].Failed)
	assert.Equal(t, 2, st.Uploads[upload.CategoryParticipant].Succeeded)

	sess, err := archive.Get(context.Background(), st.ArchiveID)
	require.NoError(t, err)
	assert.True(t, sess.Finished)
	assert.False(t, sess.Degraded)
	assert.Equal(t, "42", sess.ParticipantID)
	assert.NotNil(t, sess.Record.Timing.TestEnd)

	events, err := archive.UploadEvents(context.Background(), st.ArchiveID)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
	for _, e := range events {
		assert.Empty(t, e.Error, "category %s", e.Category)
	}
}

func TestDegradedSession(t *testing.T) {
	b := &fakeBackend{failCreate: true}
	archive := newTestArchive(t)
	c := newTestController(t, b, archive)

	res := runStudy(t, c)
	assert.True(t, res.Degraded)
	assert.True(t, strings.HasPrefix(res.ParticipantID, "local-"), res.ParticipantID)
	assert.Empty(t, res.SurveyURL)

	before := c.Record()
	done := make(chan error, 1)
	go func() { done <- c.Finish(context.Background(), false) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Finish blocked in degraded mode")
	}
	flush(t, c)

	assert.Equal(t, 1, b.count(), "only the failed creation should reach the backend")

	after := c.Record()
	assert.Equal(t, before.MathTask, after.MathTask)
	assert.Equal(t, before.SelfReports, after.SelfReports)
	assert.Equal(t, before.Speech, after.Speech)
	assert.NotNil(t, after.Timing.TestEnd)
	assert.Equal(t, res.ParticipantID, after.Meta.StudyResultID)

	report, ok := c.FinalReport()
	require.True(t, ok)
	assert.Zero(t, report.Failed())

	sess, err := archive.Get(context.Background(), c.State().ArchiveID)
	require.NoError(t, err)
	assert.True(t, sess.Degraded)
	assert.True(t, sess.Finished)
	assert.Len(t, sess.Record.MathTask, 2)
}

func TestLocalOnlySession(t *testing.T) {
	c := newTestController(t, nil, nil)
	res := runStudy(t, c)
	assert.True(t, res.Degraded)

	require.NoError(t, c.Finish(context.Background(), false))
	flush(t, c)
	st := c.State()
	assert.Zero(t, st.Uploads[upload.CategoryFinal].Failed)
	assert.Empty(t, st.ArchiveID)
}

func TestFinalUploadFailureIsContained(t *testing.T) {
	b := &fakeBackend{failTables: map[string]bool{"math_task_performance": true}}
	c := newTestController(t, b, nil)
	runStudy(t, c)

	require.NoError(t, c.Finish(context.Background(), true))
	flush(t, c)

	report, ok := c.FinalReport()
	require.True(t, ok)
	assert.Equal(t, 1, report.Failed())
	assert.Contains(t, b.inserts(), "speech_task_analysis")
	assert.Equal(t, 1, c.State().Uploads[upload.CategoryFinal].Failed)
}

func TestLifecycleErrors(t *testing.T) {
	c := newTestController(t, &fakeBackend{}, nil)
	ctx := context.Background()

	_, err := c.Advance()
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, c.Finish(ctx, false), ErrNotStarted)
	_, err = c.OpenAbort()
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = c.Start(ctx, StartParams{})
	require.NoError(t, err)
	_, err = c.Start(ctx, StartParams{})
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	_, err = c.Checkpoint(ctx, "lunch_break", nil)
	assert.ErrorIs(t, err, session.ErrUnknownCheckpoint)
	_, err = c.SubmitVAS("later", model.VAS{})
	assert.Error(t, err)

	require.NoError(t, c.Finish(ctx, false))
	assert.ErrorIs(t, c.Finish(ctx, false), ErrAlreadyFinished)
	_, err = c.Advance()
	assert.ErrorIs(t, err, ErrAlreadyFinished)
}

func TestStartDefaultsUnknownEnvironment(t *testing.T) {
	c := newTestController(t, nil, nil)
	_, err := c.Start(context.Background(), StartParams{Language: "en"})
	require.NoError(t, err)

	meta := c.Record().Meta
	assert.Equal(t, "unknown", meta.Device)
	assert.Equal(t, "unknown", meta.OperatingSystem)
	assert.Equal(t, "en", meta.Language)
	assert.NotEmpty(t, meta.StudyUUID)
	assert.Equal(t, "DST", meta.StudyTitle)
}

func TestAbortDialog(t *testing.T) {
	c := newTestController(t, nil, nil)
	_, err := c.Start(context.Background(), StartParams{})
	require.NoError(t, err)

	_, err = c.CloseAbort()
	assert.ErrorIs(t, err, session.ErrAbortNotOpen)

	open, _, err := c.ToggleAbort()
	require.NoError(t, err)
	assert.True(t, open)
	assert.True(t, c.State().AbortOpen)

	_, err = c.OpenAbort()
	assert.ErrorIs(t, err, session.ErrAbortAlreadyOpen)

	open, _, err = c.ToggleAbort()
	require.NoError(t, err)
	assert.False(t, open)

	_, err = c.OpenAbort()
	require.NoError(t, err)
	require.NoError(t, c.Finish(context.Background(), false))

	windows := c.Record().Timing.CancelDialog
	require.Len(t, windows, 2)
	assert.NotNil(t, windows[0].Closed)
	assert.Nil(t, windows[1].Closed)
}

func TestVideoUploads(t *testing.T) {
	c := newTestController(t, nil, nil)
	assert.True(t, c.State().AllVideosUploaded)

	tokens := make([]ledger.Token, 5)
	for i := range tokens {
		tokens[i] = c.RegisterVideoUpload()
	}
	assert.False(t, c.State().AllVideosUploaded)

	var wg sync.WaitGroup
	for _, tok := range tokens {
		wg.Add(1)
		go func(tok ledger.Token) {
			defer wg.Done()
			assert.NoError(t, c.CompleteVideoUpload(tok))
		}(tok)
	}
	wg.Wait()

	st := c.State()
	assert.True(t, st.AllVideosUploaded)
	assert.Equal(t, 5, st.VideoUploads)
	assert.ErrorIs(t, c.CompleteVideoUpload(99), ledger.ErrUnknownToken)
}

func TestCloseArchivesUnfinishedSession(t *testing.T) {
	archive := newTestArchive(t)
	c := newTestController(t, &fakeBackend{}, archive)
	_, err := c.Start(context.Background(), StartParams{})
	require.NoError(t, err)
	_, err = c.Advance()
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))

	list, err := archive.List(context.Background(), store.ListParams{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Finished)
	assert.NotNil(t, list[0].Record.Timing.TestStart)
}

func TestInvalidSequence(t *testing.T) {
	_, err := New(Options{Sequence: sequence.Config{Pages: []string{"a"}}})
	assert.ErrorIs(t, err, sequence.ErrInvalidConfig)
}

func TestStartOnSingleSlideSequence(t *testing.T) {
	c, err := New(Options{
		Sequence: sequence.Config{
			Pages:  []string{"startPage"},
			Slides: map[string][]string{"startPage": {"startPage"}},
		},
		Log:           zap.NewNop(),
		UploadTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })

	res, err := c.Start(context.Background(), StartParams{})
	require.NoError(t, err)
	assert.Equal(t, pos(0, 0), res.Position)
	assert.True(t, c.State().Done)

	_, err = c.Advance()
	assert.ErrorIs(t, err, sequence.ErrPastEnd)
	require.NoError(t, c.Finish(context.Background(), false))
}
