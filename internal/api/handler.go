// Package api exposes the study flow as a JSON HTTP surface for the page layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/rcliao/dst-flow/internal/flow"
	"github.com/rcliao/dst-flow/internal/ledger"
	"github.com/rcliao/dst-flow/internal/model"
	"github.com/rcliao/dst-flow/internal/sequence"
	"github.com/rcliao/dst-flow/internal/session"
	"github.com/rcliao/dst-flow/internal/timing"
)

// ControllerFactory creates the controller of a new session.
type ControllerFactory func() (*flow.Controller, error)

// Handler serves one session at a time. A new session can start once the
// previous one has finished.
type Handler struct {
	newController ControllerFactory
	log           *zap.Logger

	mu      sync.Mutex
	current *flow.Controller
}

// NewHandler creates a handler that builds sessions with factory.
func NewHandler(factory ControllerFactory, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{newController: factory, log: log.Named("api")}
}

// Close drains and stops the current session, if any.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	c := h.current
	h.current = nil
	h.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close(ctx)
}

func jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, message string, status int) {
	jsonResponse(w, map[string]string{"error": message}, status)
}

// flowError maps contract violations to 409 and everything else by kind.
func (h *Handler) flowError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, flow.ErrNotStarted),
		errors.Is(err, flow.ErrAlreadyStarted),
		errors.Is(err, flow.ErrAlreadyFinished),
		errors.Is(err, sequence.ErrPastEnd),
		errors.Is(err, session.ErrAbortAlreadyOpen),
		errors.Is(err, session.ErrAbortNotOpen),
		errors.Is(err, timing.ErrReferenceSet),
		errors.Is(err, timing.ErrNoReference):
		status = http.StatusConflict
	case errors.Is(err, session.ErrUnknownCheckpoint):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnknownToken):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
	}
	errorResponse(w, err.Error(), status)
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// controller returns the active session or writes a 409.
func (h *Handler) controller(w http.ResponseWriter) *flow.Controller {
	h.mu.Lock()
	c := h.current
	h.mu.Unlock()
	if c == nil {
		h.flowError(w, flow.ErrNotStarted)
		return nil
	}
	return c
}

// === System Endpoints ===

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	active := h.current != nil
	h.mu.Unlock()

	jsonResponse(w, map[string]interface{}{
		"status":         "ok",
		"session_active": active,
		"timestamp":      time.Now(),
	}, http.StatusOK)
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	c := h.current
	h.mu.Unlock()
	if c == nil {
		jsonResponse(w, flow.State{}, http.StatusOK)
		return
	}
	jsonResponse(w, c.State(), http.StatusOK)
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	jsonResponse(w, c.Record(), http.StatusOK)
}

// === Session lifecycle ===

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string  `json:"language"`
		StudyID  *int    `json:"study_id"`
		WorkerID *string `json:"worker_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	if h.current != nil && !h.current.State().Finished {
		h.mu.Unlock()
		h.flowError(w, flow.ErrAlreadyStarted)
		return
	}
	previous := h.current
	c, err := h.newController()
	if err != nil {
		h.mu.Unlock()
		h.flowError(w, err)
		return
	}
	h.current = c
	h.mu.Unlock()

	if previous != nil {
		go h.closeController(previous)
	}

	res, err := c.Start(r.Context(), flow.StartParams{
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		Language:       req.Language,
		StudyID:        req.StudyID,
		WorkerID:       req.WorkerID,
	})
	if err != nil {
		h.discard(c)
		h.flowError(w, err)
		return
	}
	jsonResponse(w, res, http.StatusCreated)
}

// discard drops c if it is still the current session and stops it in the background.
func (h *Handler) discard(c *flow.Controller) {
	h.mu.Lock()
	if h.current == c {
		h.current = nil
	}
	h.mu.Unlock()
	go h.closeController(c)
}

func (h *Handler) closeController(c *flow.Controller) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		h.log.Warn("session did not drain", zap.Error(err))
	}
}

func (h *Handler) Advance(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	pos, err := c.Advance()
	if err != nil {
		h.flowError(w, err)
		return
	}
	h.positionResponse(w, c, pos)
}

func (h *Handler) RecordCheckpoint(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	var req struct {
		Offset *int64 `json:"offset"`
	}
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	name := model.Checkpoint(mux.Vars(r)["name"])
	v, err := c.Checkpoint(r.Context(), name, req.Offset)
	if err != nil {
		h.flowError(w, err)
		return
	}
	jsonResponse(w, map[string]interface{}{"checkpoint": name, "offset": v}, http.StatusOK)
}

func (h *Handler) Finish(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	var req struct {
		VideosSubmitted bool `json:"videos_submitted"`
	}
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := c.Finish(r.Context(), req.VideosSubmitted); err != nil {
		h.flowError(w, err)
		return
	}
	jsonResponse(w, c.State(), http.StatusAccepted)
}

func (h *Handler) positionResponse(w http.ResponseWriter, c *flow.Controller, pos sequence.Position) {
	st := c.State()
	jsonResponse(w, map[string]interface{}{
		"position": pos,
		"progress": st.Progress,
		"done":     st.Done,
	}, http.StatusOK)
}

// === Math task ===

func (h *Handler) StartMathTask(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	pos, err := c.StartMathTask()
	if err != nil {
		h.flowError(w, err)
		return
	}
	h.positionResponse(w, c, pos)
}

type mathQuestionRequest struct {
	Correct            bool    `json:"correct"`
	NoAnswerStreak     int     `json:"no_answer_streak"`
	TimeNeeded         float64 `json:"time_needed"` // seconds
	TimePaused         float64 `json:"time_paused"` // milliseconds
	QuestionDurationMs int64   `json:"question_duration_ms"`
	Question           string  `json:"question"`
	Answer             string  `json:"answer"`
	Input              string  `json:"input"`
	Feedback           string  `json:"feedback"`
	BeginTotalTime     float64 `json:"begin_total_time"` // seconds
	EndTotalTime       float64 `json:"end_total_time"`   // seconds
}

func (h *Handler) RecordMathQuestion(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	var req mathQuestionRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		errorResponse(w, "question is required", http.StatusBadRequest)
		return
	}
	n, err := c.RecordMathQuestion(session.MathOutcome{
		Correct:          req.Correct,
		NoAnswerStreak:   req.NoAnswerStreak,
		ElapsedSeconds:   req.TimeNeeded,
		PausedMillis:     req.TimePaused,
		QuestionDuration: time.Duration(req.QuestionDurationMs) * time.Millisecond,
		Question:         req.Question,
		Answer:           req.Answer,
		Input:            req.Input,
		Feedback:         req.Feedback,
		BeginTotal:       req.BeginTotalTime,
		EndTotal:         req.EndTotalTime,
	})
	if err != nil {
		h.flowError(w, err)
		return
	}
	jsonResponse(w, map[string]int{"question_number": n}, http.StatusCreated)
}

func (h *Handler) EndMathTask(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	var req struct {
		Score *int `json:"score"`
	}
	if err := decodeBody(r, &req); err != nil || req.Score == nil {
		errorResponse(w, "score is required", http.StatusBadRequest)
		return
	}
	pos, err := c.EndMathTask(r.Context(), *req.Score)
	if err != nil {
		h.flowError(w, err)
		return
	}
	h.positionResponse(w, c, pos)
}

// === Speech task ===

func (h *Handler) StartSpeechTask(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	if err := c.StartSpeechTask(r.Context()); err != nil {
		h.flowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RecordSpeechFeedback(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	var req struct {
		Stage        string  `json:"stage"`
		Feedback     string  `json:"feedback"`
		NoiseLevel   float64 `json:"noise_level"`
		RelativeTime int64   `json:"relative_time"`
	}
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	err := c.RecordSpeechFeedback(session.SpeechEvent{
		Stage:        req.Stage,
		Feedback:     req.Feedback,
		NoiseLevel:   req.NoiseLevel,
		RelativeTime: req.RelativeTime,
	})
	if err != nil {
		h.flowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) EndSpeechTask(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	pos, err := c.EndSpeechTask(r.Context())
	if err != nil {
		h.flowError(w, err)
		return
	}
	h.positionResponse(w, c, pos)
}

func (h *Handler) SetSpeechAnalysis(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	var req model.SpeechAnalysis
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := c.SetSpeechAnalysis(req); err != nil {
		h.flowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// === Self reports ===

func (h *Handler) SubmitVAS(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	tp, err := model.ParseVASTimepoint(mux.Vars(r)["timepoint"])
	if err != nil {
		errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	var raw map[string]interface{}
	if err := decodeBody(r, &raw); err != nil {
		errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	v, warnings := session.CoerceVAS(raw)
	h.logWarnings("vas", string(tp), warnings)

	pos, err := c.SubmitVAS(tp, v)
	if err != nil {
		h.flowError(w, err)
		return
	}
	jsonResponse(w, map[string]interface{}{"position": pos, "warnings": warnings}, http.StatusOK)
}

func (h *Handler) SubmitPANAS(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	tp, err := model.ParsePANASTimepoint(mux.Vars(r)["timepoint"])
	if err != nil {
		errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req struct {
		Answers   map[string]interface{} `json:"answers"`
		StartedAt *int64                 `json:"started_at"`
	}
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.StartedAt == nil {
		errorResponse(w, "started_at is required", http.StatusBadRequest)
		return
	}
	p, warnings := session.CoercePANAS(req.Answers)
	h.logWarnings("panas", string(tp), warnings)

	pos, err := c.SubmitPANAS(r.Context(), tp, p, *req.StartedAt)
	if err != nil {
		h.flowError(w, err)
		return
	}
	jsonResponse(w, map[string]interface{}{"position": pos, "warnings": warnings}, http.StatusOK)
}

func (h *Handler) logWarnings(kind, timepoint string, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	h.log.Warn("self report coerced",
		zap.String("kind", kind), zap.String("timepoint", timepoint), zap.Strings("warnings", warnings))
}

// === Participant ===

func (h *Handler) SetDemographics(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	var req struct {
		Age    *int    `json:"age"`
		Gender *string `json:"gender"`
	}
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Age != nil && (*req.Age < 0 || *req.Age > 130) {
		errorResponse(w, "age out of range", http.StatusBadRequest)
		return
	}
	if err := c.SetDemographics(req.Age, req.Gender); err != nil {
		h.flowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetPriorParticipation(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	var req struct {
		Participated *bool `json:"participated"`
	}
	if err := decodeBody(r, &req); err != nil || req.Participated == nil {
		errorResponse(w, "participated is required", http.StatusBadRequest)
		return
	}
	if err := c.SetPriorParticipation(*req.Participated); err != nil {
		h.flowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// === Video uploads ===

func (h *Handler) RegisterVideo(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	tok := c.RegisterVideoUpload()
	jsonResponse(w, map[string]int{"token": int(tok)}, http.StatusCreated)
}

func (h *Handler) CompleteVideo(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	n, err := strconv.Atoi(mux.Vars(r)["token"])
	if err != nil {
		errorResponse(w, "invalid token", http.StatusBadRequest)
		return
	}
	if err := c.CompleteVideoUpload(ledger.Token(n)); err != nil {
		h.flowError(w, err)
		return
	}
	jsonResponse(w, map[string]bool{"all_uploaded": c.State().AllVideosUploaded}, http.StatusOK)
}

// === Abort dialog ===

func (h *Handler) OpenAbort(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	at, err := c.OpenAbort()
	if err != nil {
		h.flowError(w, err)
		return
	}
	jsonResponse(w, map[string]interface{}{"open": true, "at": at}, http.StatusOK)
}

func (h *Handler) CloseAbort(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	at, err := c.CloseAbort()
	if err != nil {
		h.flowError(w, err)
		return
	}
	jsonResponse(w, map[string]interface{}{"open": false, "at": at}, http.StatusOK)
}

func (h *Handler) ToggleAbort(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w)
	if c == nil {
		return
	}
	open, at, err := c.ToggleAbort()
	if err != nil {
		h.flowError(w, err)
		return
	}
	jsonResponse(w, map[string]interface{}{"open": open, "at": at}, http.StatusOK)
}
