package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/attempt"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
)

// HeaderExamineeID names the caller's examinee. Authentication happens upstream.
const HeaderExamineeID = "X-Examinee-ID"

// AttemptHandler exposes attempt sessions over HTTP.
type AttemptHandler struct {
	attempts *service.AttemptService
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts *service.AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

type assessmentURI struct {
	AssessmentID string `uri:"assessment_id" binding:"required,uuid"`
}

type attemptURI struct {
	AttemptID string `uri:"attempt_id" binding:"required,uuid"`
}

type responseURI struct {
	AttemptID  string `uri:"attempt_id" binding:"required,uuid"`
	QuestionID string `uri:"question_id" binding:"required,uuid"`
}

type startRequest struct {
	ExamineeID string `json:"examinee_id" binding:"required,max=64"`
}

type answerRequest struct {
	Answer string `json:"answer" binding:"max=10000"`
}

type focusRequest struct {
	Focused *bool `json:"focused" binding:"required"`
}

// QuestionView is a question as shown to the examinee, without its answer key.
type QuestionView struct {
	ID      uuid.UUID          `json:"id"`
	Text    string             `json:"text"`
	Type    model.QuestionType `json:"type"`
	Options []string           `json:"options,omitempty"`
	Marks   int                `json:"marks"`
	Topic   string             `json:"topic,omitempty"`
}

func questionViews(qs []*model.Question) []QuestionView {
	views := make([]QuestionView, 0, len(qs))
	for _, q := range qs {
		views = append(views, QuestionView{
			ID:      q.ID,
			Text:    q.Text,
			Type:    q.Type,
			Options: q.Options,
			Marks:   q.Marks,
			Topic:   q.Topic,
		})
	}
	return views
}

// StartAttempt godoc
// POST /api/v1/assessments/:assessment_id/attempts
// Starts or resumes the examinee's attempt and returns the paper and state.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	var uri assessmentURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}
	var req startRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, err := h.attempts.Start(c.Request.Context(), req.ExamineeID, uuid.MustParse(uri.AssessmentID))
	if err != nil {
		h.fail(c, err)
		return
	}

	a := sess.Assessment()
	response.Success(c, http.StatusCreated, gin.H{
		"assessment": gin.H{
			"id":               a.ID,
			"title":            a.Title,
			"duration_minutes": a.DurationMinutes,
			"practice":         a.Practice,
		},
		"questions": questionViews(sess.Questions()),
		"state":     sess.Snapshot(),
	})
}

// GetAttempt godoc
// GET /api/v1/attempts/:attempt_id
// Returns the live state of a running attempt, or the stored record once it is finished.
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	var uri attemptURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}
	id := uuid.MustParse(uri.AttemptID)

	if sess, ok := h.attempts.Get(id); ok {
		if !h.owns(c, sess) {
			return
		}
		response.Success(c, http.StatusOK, gin.H{"state": sess.Snapshot()})
		return
	}

	a, err := h.attempts.Result(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if examinee(c) != a.ExamineeID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": a})
}

// RecordResponse godoc
// PUT /api/v1/attempts/:attempt_id/responses/:question_id
// Records the examinee's latest answer to a question.
func (h *AttemptHandler) RecordResponse(c *gin.Context) {
	var uri responseURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}
	var req answerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, ok := h.session(c, uri.AttemptID)
	if !ok {
		return
	}
	if err := sess.RecordResponse(uuid.MustParse(uri.QuestionID), req.Answer); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// ReportFocus godoc
// POST /api/v1/attempts/:attempt_id/focus
// Reports a window focus transition for proctoring.
func (h *AttemptHandler) ReportFocus(c *gin.Context) {
	var uri attemptURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}
	var req focusRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, ok := h.session(c, uri.AttemptID)
	if !ok {
		return
	}
	if *req.Focused {
		sess.FocusGained()
	} else {
		sess.FocusLost()
	}
	response.Success(c, http.StatusOK, gin.H{"state": sess.Snapshot()})
}

// SubmitAttempt godoc
// POST /api/v1/attempts/:attempt_id/submit
// Grades and finalizes the attempt.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	var uri attemptURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}
	sess, ok := h.session(c, uri.AttemptID)
	if !ok {
		return
	}

	final, err := sess.Submit(c.Request.Context(), model.SubmitExplicit)
	var perr *attempt.PersistError
	switch {
	case err == nil:
	case errors.As(err, &perr):
		h.log.Warn().Err(err).Str("attempt_id", final.ID.String()).Msg("Submitted with queued writes")
	default:
		h.fail(c, err)
		return
	}

	sheet, _ := sess.Sheet()
	response.Success(c, http.StatusOK, gin.H{
		"attempt":   final,
		"results":   sheet.Results,
		"persisted": err == nil,
	})
}

func (h *AttemptHandler) session(c *gin.Context, rawID string) (*attempt.Session, bool) {
	sess, ok := h.attempts.Get(uuid.MustParse(rawID))
	if !ok {
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
		return nil, false
	}
	return sess, h.owns(c, sess)
}

func (h *AttemptHandler) owns(c *gin.Context, sess *attempt.Session) bool {
	if examinee(c) != sess.ExamineeID() {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return false
	}
	return true
}

func (h *AttemptHandler) fail(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	response.Fail(c, status, code)
}

func examinee(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(HeaderExamineeID))
}

// errorStatus maps domain errors to an HTTP status and API code.
func errorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrInvalidExaminee):
		return http.StatusBadRequest, response.ErrValidation
	case errors.Is(err, service.ErrAssessmentNotFound):
		return http.StatusNotFound, response.ErrAssessmentNotFound
	case errors.Is(err, service.ErrAttemptNotFound):
		return http.StatusNotFound, response.ErrAttemptNotFound
	case errors.Is(err, attempt.ErrNoQuestions):
		return http.StatusUnprocessableEntity, response.ErrNoQuestions
	case errors.Is(err, attempt.ErrUnknownQuestion):
		return http.StatusBadRequest, response.ErrUnknownQuestion
	case errors.Is(err, attempt.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAttemptSubmitted
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}
