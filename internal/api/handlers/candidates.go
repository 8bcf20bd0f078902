package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/service/catalog"
)

type createCandidateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Role  string `json:"role"`
}

type candidateResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type listCandidatesResponse struct {
	Candidates []candidateResponse `json:"candidates"`
	NextAfter  int64               `json:"next_after_id,omitempty"`
}

type createQuestionRequest struct {
	Role     string `json:"role"`
	Text     string `json:"text"`
	Position int    `json:"position"`
}

type questionResponse struct {
	ID       int64  `json:"id"`
	Role     string `json:"role"`
	Text     string `json:"text"`
	Position int    `json:"position"`
}

func (h *HandlerSet) createCandidate(ctx *fiber.Ctx) error {
	var req createCandidateRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	candidate, err := h.deps.Catalog.CreateCandidate(ctx.UserContext(), catalog.CandidateInput{
		Name:  req.Name,
		Phone: req.Phone,
		Role:  req.Role,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toCandidateResponse(candidate))
}

func (h *HandlerSet) listCandidates(ctx *fiber.Ctx) error {
	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))
	if limit <= 0 {
		limit = 50
	}
	afterID, _ := strconv.ParseInt(ctx.Query("after_id", "0"), 10, 64)

	candidates, err := h.deps.Catalog.ListCandidates(ctx.UserContext(), afterID, limit)
	if err != nil {
		return translateError(err)
	}

	resp := listCandidatesResponse{Candidates: make([]candidateResponse, 0, len(candidates))}
	for _, c := range candidates {
		resp.Candidates = append(resp.Candidates, toCandidateResponse(c))
	}
	if n := len(candidates); n > 0 && n >= limit {
		resp.NextAfter = candidates[n-1].ID
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) getCandidate(ctx *fiber.Ctx) error {
	id, err := pathID(ctx, "candidate")
	if err != nil {
		return err
	}

	candidate, err := h.deps.Catalog.GetCandidate(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCandidateResponse(candidate))
}

func (h *HandlerSet) updateCandidate(ctx *fiber.Ctx) error {
	id, err := pathID(ctx, "candidate")
	if err != nil {
		return err
	}
	var req createCandidateRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	candidate, err := h.deps.Catalog.UpdateCandidate(ctx.UserContext(), id, catalog.CandidateInput{
		Name:  req.Name,
		Phone: req.Phone,
		Role:  req.Role,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCandidateResponse(candidate))
}

func (h *HandlerSet) deleteCandidate(ctx *fiber.Ctx) error {
	id, err := pathID(ctx, "candidate")
	if err != nil {
		return err
	}
	if err := h.deps.Catalog.DeleteCandidate(ctx.UserContext(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) createQuestion(ctx *fiber.Ctx) error {
	var req createQuestionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	question, err := h.deps.Catalog.CreateQuestion(ctx.UserContext(), catalog.QuestionInput{
		Role:     req.Role,
		Text:     req.Text,
		Position: req.Position,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toQuestionResponse(*question))
}

func (h *HandlerSet) listQuestions(ctx *fiber.Ctx) error {
	questions, err := h.deps.Catalog.Questions(ctx.UserContext(), ctx.Query("role"))
	if err != nil {
		return translateError(err)
	}

	out := make([]questionResponse, 0, len(questions))
	for _, q := range questions {
		out = append(out, toQuestionResponse(q))
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"questions": out})
}

func (h *HandlerSet) getQuestion(ctx *fiber.Ctx) error {
	id, err := pathID(ctx, "question")
	if err != nil {
		return err
	}

	question, err := h.deps.Catalog.GetQuestion(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toQuestionResponse(*question))
}

func (h *HandlerSet) updateQuestion(ctx *fiber.Ctx) error {
	id, err := pathID(ctx, "question")
	if err != nil {
		return err
	}
	var req createQuestionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	question, err := h.deps.Catalog.UpdateQuestion(ctx.UserContext(), id, catalog.QuestionInput{
		Role:     req.Role,
		Text:     req.Text,
		Position: req.Position,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toQuestionResponse(*question))
}

func (h *HandlerSet) deleteQuestion(ctx *fiber.Ctx) error {
	id, err := pathID(ctx, "question")
	if err != nil {
		return err
	}
	if err := h.deps.Catalog.DeleteQuestion(ctx.UserContext(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) generateQuestionAudio(ctx *fiber.Ctx) error {
	id, err := pathID(ctx, "question")
	if err != nil {
		return err
	}

	audioURL, err := h.deps.Catalog.GenerateQuestionAudio(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"question_id": id, "audio_url": audioURL})
}

func pathID(ctx *fiber.Ctx, kind string) (int64, error) {
	id, err := strconv.ParseInt(ctx.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(http.StatusBadRequest, "invalid "+kind+" id")
	}
	return id, nil
}

func toCandidateResponse(c *domain.Candidate) candidateResponse {
	return candidateResponse{
		ID:        c.ID,
		Name:      c.Name,
		Phone:     c.Phone,
		Role:      c.Role,
		CreatedAt: c.CreatedAt,
	}
}

func toQuestionResponse(q domain.Question) questionResponse {
	return questionResponse{ID: q.ID, Role: q.Role, Text: q.Text, Position: q.Position}
}
