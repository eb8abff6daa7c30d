package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/dst-flow/internal/model"
)

// Category names one independently uploaded block of data.
type Category string

const (
	CategoryParticipant    Category = "participant"
	CategoryTiming         Category = "timing"
	CategoryVAS            Category = tableVAS
	CategoryPANAS          Category = tablePANAS
	CategoryMath           Category = tableMath
	CategorySpeechFeedback Category = tableSpeechFeedback
	CategorySpeechAnalysis Category = tableSpeechAnalysis
	CategoryScore          Category = "math_task_score"

	// CategoryFinal groups the steps of one PushFinal run.
	CategoryFinal Category = "final"
)

// errDegraded marks steps skipped because the session has no backend identity.
var errDegraded = errors.New("no participant id, backend disabled or unreachable")

// SessionMetadata is the environment and study information sent at session creation.
type SessionMetadata struct {
	Device          string
	OperatingSystem string
	Browser         string
	Language        string
	StudyTitle      string
	StudyUUID       string
	WorkerID        *string
	ReferenceTime   int64
}

// StepResult is the outcome of one sub-upload of PushFinal.
type StepResult struct {
	Category Category `json:"category"`
	Label    string   `json:"label,omitempty"`
	Skipped  bool     `json:"skipped"`
	Error    string   `json:"error,omitempty"`
}

// FinalReport lists every step PushFinal attempted or skipped, in order.
type FinalReport struct {
	Steps []StepResult `json:"steps"`
}

// Failed returns the number of steps that errored.
func (r FinalReport) Failed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Error != "" {
			n++
		}
	}
	return n
}

// Gateway owns the backend identity of a session and applies the fail-open
// policy: once initialization fails (or no backend is configured) every later
// upload is a logged no-op.
type Gateway struct {
	backend Backend
	log     *zap.Logger
	now     func() time.Time

	// mu serializes backend writes of this session.
	mu sync.Mutex

	idMu          sync.RWMutex
	participantID string
	localID       string
	initialized   bool
}

// NewGateway creates a gateway over b. A nil backend yields a local-only gateway.
func NewGateway(b Backend, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{backend: b, log: log.Named("upload"), now: time.Now}
}

// InitializeSession creates the participant and returns the session identity.
// It never fails: on error, or without a backend, a local fallback id is used
// and the gateway stays in degraded mode.
func (g *Gateway) InitializeSession(ctx context.Context, meta SessionMetadata) string {
	g.idMu.Lock()
	defer g.idMu.Unlock()

	if g.initialized {
		g.log.Warn("session already initialized", zap.String("id", g.identity()))
		return g.identity()
	}
	g.initialized = true

	if g.backend == nil {
		g.localID = g.fallbackID()
		g.log.Info("backend disabled, running local-only", zap.String("id", g.localID))
		return g.localID
	}

	g.mu.Lock()
	id, err := g.backend.CreateParticipant(ctx, ParticipantRow{
		Device:          meta.Device,
		OperatingSystem: meta.OperatingSystem,
		Browser:         meta.Browser,
		Language:        meta.Language,
		StudyTitle:      meta.StudyTitle,
		StudyUUID:       meta.StudyUUID,
		WorkerID:        meta.WorkerID,
		ReferenceTime:   meta.ReferenceTime,
	})
	g.mu.Unlock()
	if err != nil {
		g.localID = g.fallbackID()
		g.log.Error("failed to create participant, continuing local-only",
			zap.Error(err), zap.String("id", g.localID))
		return g.localID
	}

	g.participantID = id
	g.log.Info("participant created", zap.String("id", id))
	return id
}

// ParticipantID returns the session identity, local or backend-issued.
func (g *Gateway) ParticipantID() string {
	g.idMu.RLock()
	defer g.idMu.RUnlock()
	return g.identity()
}

// Degraded reports whether uploads are disabled for this session.
func (g *Gateway) Degraded() bool {
	g.idMu.RLock()
	defer g.idMu.RUnlock()
	return g.participantID == ""
}

// PushCheckpoint overwrites all timing fields of the participant row.
func (g *Gateway) PushCheckpoint(ctx context.Context, t model.TimingLog) error {
	return g.step(ctx, CategoryTiming, "", func(ctx context.Context, pid string) error {
		return g.backend.PatchParticipant(ctx, pid, toTimingPatch(t))
	})
}

// PatchParticipant sends out-of-band demographic updates.
func (g *Gateway) PatchParticipant(ctx context.Context, p model.MetaPatch) error {
	body := metaPatch{Age: p.Age, Gender: p.Gender, PriorParticipation: p.PriorParticipation}
	if body == (metaPatch{}) {
		return nil
	}
	return g.step(ctx, CategoryParticipant, "", func(ctx context.Context, pid string) error {
		return g.backend.PatchParticipant(ctx, pid, body)
	})
}

// PushFinal uploads everything collected. Timing goes first so it survives
// even if later steps fail; the remaining steps are independent of each other.
func (g *Gateway) PushFinal(ctx context.Context, rec model.SessionRecord) FinalReport {
	var report FinalReport
	add := func(cat Category, label string, err error) {
		r := StepResult{Category: cat, Label: label}
		switch {
		case errors.Is(err, errDegraded):
			r.Skipped = true
		case err != nil:
			r.Error = err.Error()
		}
		report.Steps = append(report.Steps, r)
	}
	skip := func(cat Category, label string) {
		report.Steps = append(report.Steps, StepResult{Category: cat, Label: label, Skipped: true})
	}

	add(CategoryTiming, "", g.PushCheckpoint(ctx, rec.Timing))

	for _, tp := range []model.VASTimepoint{model.VASBaseline, model.VASIntermediate, model.VASEnd} {
		v := *rec.SelfReports.VAS(tp)
		if !v.Populated() {
			skip(CategoryVAS, string(tp))
			continue
		}
		add(CategoryVAS, string(tp), g.step(ctx, CategoryVAS, string(tp), func(ctx context.Context, pid string) error {
			return g.backend.Insert(ctx, tableVAS, toVASRow(pid, tp, v))
		}))
	}

	for _, tp := range []model.PANASTimepoint{model.PANASBegin, model.PANASEnd} {
		p := *rec.SelfReports.PANAS(tp)
		if !p.Populated() {
			skip(CategoryPANAS, string(tp))
			continue
		}
		add(CategoryPANAS, string(tp), g.step(ctx, CategoryPANAS, string(tp), func(ctx context.Context, pid string) error {
			return g.backend.Insert(ctx, tablePANAS, toPANASRow(pid, tp, p))
		}))
	}

	if rows := toMathRows("", rec.MathTask); len(rows) == 0 {
		g.log.Warn("no valid math task data to save")
		skip(CategoryMath, "")
	} else {
		add(CategoryMath, "", g.step(ctx, CategoryMath, "", func(ctx context.Context, pid string) error {
			return g.backend.Insert(ctx, tableMath, toMathRows(pid, rec.MathTask))
		}))
	}

	if rows := toSpeechFeedbackRows("", rec.Speech); len(rows) == 0 {
		skip(CategorySpeechFeedback, "")
	} else {
		add(CategorySpeechFeedback, "", g.step(ctx, CategorySpeechFeedback, "", func(ctx context.Context, pid string) error {
			return g.backend.Insert(ctx, tableSpeechFeedback, toSpeechFeedbackRows(pid, rec.Speech))
		}))
	}

	if !rec.SpeechAnalysis.Populated() {
		skip(CategorySpeechAnalysis, "")
	} else {
		add(CategorySpeechAnalysis, "", g.step(ctx, CategorySpeechAnalysis, "", func(ctx context.Context, pid string) error {
			return g.backend.Insert(ctx, tableSpeechAnalysis, toSpeechAnalysisRow(pid, rec.SpeechAnalysis))
		}))
	}

	if rec.MathTaskScore == nil {
		skip(CategoryScore, "")
	} else {
		score := *rec.MathTaskScore
		add(CategoryScore, "", g.step(ctx, CategoryScore, "", func(ctx context.Context, pid string) error {
			return g.backend.PatchParticipant(ctx, pid, scorePatch{MathTaskScore: score})
		}))
	}

	g.log.Info("final upload finished",
		zap.String("participant", g.ParticipantID()),
		zap.Int("steps", len(report.Steps)),
		zap.Int("failed", report.Failed()))
	return report
}

// step runs one backend write under the session lock, or skips it in degraded mode.
func (g *Gateway) step(ctx context.Context, cat Category, label string, fn func(context.Context, string) error) error {
	g.idMu.RLock()
	pid := g.participantID
	g.idMu.RUnlock()

	if pid == "" {
		g.log.Debug("no participant id set, skipping upload",
			zap.String("category", string(cat)), zap.String("label", label))
		return errDegraded
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := fn(ctx, pid); err != nil {
		g.log.Error("upload failed",
			zap.String("category", string(cat)), zap.String("label", label), zap.Error(err))
		return fmt.Errorf("%s: %w", cat, err)
	}
	g.log.Debug("upload succeeded", zap.String("category", string(cat)), zap.String("label", label))
	return nil
}

func (g *Gateway) identity() string {
	if g.participantID != "" {
		return g.participantID
	}
	return g.localID
}

func (g *Gateway) fallbackID() string {
	return fmt.Sprintf("local-%d", g.now().UnixMilli())
}

// IsSkipped reports whether err means the upload was skipped in degraded mode.
func IsSkipped(err error) bool {
	return errors.Is(err, errDegraded)
}
