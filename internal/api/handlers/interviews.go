package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/service/interview"
)

type scheduleInterviewRequest struct {
	CandidateID int64   `json:"candidate_id"`
	ScheduledAt *string `json:"scheduled_at"`
}

type interviewRequestResponse struct {
	ID          uuid.UUID                    `json:"id"`
	CandidateID int64                        `json:"candidate_id"`
	ScheduledAt time.Time                    `json:"scheduled_at"`
	State       domain.InterviewRequestState `json:"state"`
}

type answerResponse struct {
	QuestionID   int64     `json:"question_id"`
	Position     int       `json:"position"`
	Transcript   *string   `json:"transcript,omitempty"`
	RecordingURL string    `json:"recording_url,omitempty"`
	AnsweredAt   time.Time `json:"answered_at"`
}

type sessionResponse struct {
	CallSID        string               `json:"call_sid"`
	CandidateID    int64                `json:"candidate_id"`
	Role           string               `json:"role"`
	Status         domain.SessionStatus `json:"status"`
	Phase          domain.Phase         `json:"phase"`
	Consent        domain.ConsentState  `json:"consent"`
	Cursor         int                  `json:"cursor"`
	Turn           int                  `json:"turn"`
	Answers        []answerResponse     `json:"answers"`
	RescheduleNote string               `json:"reschedule_note,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	StartedAt      *time.Time           `json:"started_at,omitempty"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
	DisconnectedAt *time.Time           `json:"disconnected_at,omitempty"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

type callRecordResponse struct {
	CallSID        string               `json:"call_sid"`
	CandidateID    int64                `json:"candidate_id"`
	Role           string               `json:"role"`
	Status         domain.SessionStatus `json:"status"`
	Consent        domain.ConsentState  `json:"consent"`
	Cursor         int                  `json:"cursor"`
	RescheduleNote *string              `json:"reschedule_note,omitempty"`
	StartedAt      *time.Time           `json:"started_at,omitempty"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func (h *HandlerSet) scheduleInterview(ctx *fiber.Ctx) error {
	var req scheduleInterviewRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input := interview.ScheduleInput{CandidateID: req.CandidateID}
	if req.ScheduledAt != nil && *req.ScheduledAt != "" {
		at, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "scheduled_at must be RFC3339")
		}
		input.ScheduledAt = &at
	}

	result, err := h.deps.Interviews.Schedule(ctx.UserContext(), input)
	if err != nil {
		return translateError(err)
	}

	if result.Request != nil {
		return ctx.Status(http.StatusAccepted).JSON(interviewRequestResponse{
			ID:          result.Request.ID,
			CandidateID: result.Request.CandidateID,
			ScheduledAt: result.Request.ScheduledAt,
			State:       result.Request.State,
		})
	}
	return ctx.Status(http.StatusCreated).JSON(toSessionResponse(result.Session))
}

func (h *HandlerSet) getSession(ctx *fiber.Ctx) error {
	session, err := h.deps.Interviews.Session(ctx.UserContext(), ctx.Params("sid"))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toSessionResponse(session))
}

func (h *HandlerSet) finishCall(ctx *fiber.Ctx) error {
	session, err := h.deps.Engine.Finish(ctx.UserContext(), ctx.Params("sid"))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toSessionResponse(session))
}

func (h *HandlerSet) getCallRecord(ctx *fiber.Ctx) error {
	rec, err := h.deps.Catalog.Call(ctx.UserContext(), ctx.Params("sid"))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(callRecordResponse{
		CallSID:        rec.CallSID,
		CandidateID:    rec.CandidateID,
		Role:           rec.Role,
		Status:         rec.Status,
		Consent:        rec.Consent,
		Cursor:         rec.Cursor,
		RescheduleNote: rec.RescheduleNote,
		StartedAt:      rec.StartedAt,
		CompletedAt:    rec.CompletedAt,
		UpdatedAt:      rec.UpdatedAt,
	})
}

func (h *HandlerSet) listAnswers(ctx *fiber.Ctx) error {
	records, err := h.deps.Catalog.Answers(ctx.UserContext(), ctx.Params("sid"))
	if err != nil {
		return translateError(err)
	}

	out := make([]answerResponse, 0, len(records))
	for _, r := range records {
		out = append(out, answerResponse{
			QuestionID:   r.QuestionID,
			Position:     r.Position,
			Transcript:   r.Transcript,
			RecordingURL: r.RecordingURL,
			AnsweredAt:   r.AnsweredAt,
		})
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"answers": out})
}

func toSessionResponse(s *domain.CallSession) sessionResponse {
	resp := sessionResponse{
		CallSID:        s.CallSID,
		CandidateID:    s.CandidateID,
		Role:           s.Role,
		Status:         s.Status,
		Phase:          s.Phase,
		Consent:        s.Consent,
		Cursor:         s.Cursor,
		Turn:           s.Turn,
		Answers:        make([]answerResponse, 0, len(s.Answers)),
		RescheduleNote: s.RescheduleNote,
		CreatedAt:      s.CreatedAt,
		StartedAt:      s.StartedAt,
		CompletedAt:    s.CompletedAt,
		DisconnectedAt: s.DisconnectedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	for _, a := range s.Answers {
		resp.Answers = append(resp.Answers, answerResponse{
			QuestionID:   a.QuestionID,
			Position:     a.Position,
			Transcript:   a.Transcript,
			RecordingURL: a.RecordingURL,
			AnsweredAt:   a.AnsweredAt,
		})
	}
	return resp
}
