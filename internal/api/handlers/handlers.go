package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/media"
	"github.com/acme/voice-interview/internal/service/catalog"
	"github.com/acme/voice-interview/internal/service/interview"
	"github.com/acme/voice-interview/internal/telephony"
	"github.com/acme/voice-interview/pkg/logger"
)

// CallEngine drives the dialogue of a live call.
type CallEngine interface {
	Handle(ctx context.Context, evt domain.Event) domain.Instruction
	HandleStatus(ctx context.Context, evt domain.StatusEvent) error
	Finish(ctx context.Context, callSID string) (*domain.CallSession, error)
}

// InstructionRenderer turns an instruction into the provider's markup.
type InstructionRenderer interface {
	Render(instr domain.Instruction) (string, error)
}

// SignatureValidator authenticates provider webhooks.
type SignatureValidator interface {
	Valid(fullURL string, params map[string]string, signature string) bool
}

// Catalog manages candidates, questions and the projected call history.
type Catalog interface {
	CreateCandidate(ctx context.Context, input catalog.CandidateInput) (*domain.Candidate, error)
	GetCandidate(ctx context.Context, id int64) (*domain.Candidate, error)
	ListCandidates(ctx context.Context, afterID int64, limit int) ([]*domain.Candidate, error)
	UpdateCandidate(ctx context.Context, id int64, input catalog.CandidateInput) (*domain.Candidate, error)
	DeleteCandidate(ctx context.Context, id int64) error
	CreateQuestion(ctx context.Context, input catalog.QuestionInput) (*domain.Question, error)
	Questions(ctx context.Context, role string) ([]domain.Question, error)
	GetQuestion(ctx context.Context, id int64) (*domain.Question, error)
	UpdateQuestion(ctx context.Context, id int64, input catalog.QuestionInput) (*domain.Question, error)
	DeleteQuestion(ctx context.Context, id int64) error
	GenerateQuestionAudio(ctx context.Context, id int64) (string, error)
	Call(ctx context.Context, callSID string) (*domain.CallRecord, error)
	Answers(ctx context.Context, callSID string) ([]domain.AnswerRecord, error)
}

// Interviews starts interviews and exposes live sessions.
type Interviews interface {
	Schedule(ctx context.Context, input interview.ScheduleInput) (interview.ScheduleResult, error)
	Session(ctx context.Context, callSID string) (*domain.CallSession, error)
}

// Dependencies lists what the handlers need. Validator, Media, Catalog and
// Interviews may be nil; the matching routes are then not registered.
type Dependencies struct {
	Engine        CallEngine
	Renderer      InstructionRenderer
	Validator     SignatureValidator
	PublicBaseURL string
	Media         media.Store
	Catalog       Catalog
	Interviews    Interviews
	Checks        map[string]func(context.Context) error
	Logger        *logger.Logger
}

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	deps   Dependencies
	logger *logger.Logger
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(deps Dependencies) *HandlerSet {
	lg := deps.Logger
	if lg == nil {
		lg = logger.NewNop()
	}
	return &HandlerSet{deps: deps, logger: lg.Named("http")}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	app.Post(telephony.VoicePath, h.verifySignature, h.voiceWebhook)
	app.Post(telephony.StatusPath, h.verifySignature, h.statusWebhook)
	app.Post(telephony.AMDPath, h.verifySignature, h.statusWebhook)

	if h.deps.Media != nil {
		app.Get("/media/:filename", h.serveMedia)
	}

	v1 := app.Group("/api").Group("/v1")

	if h.deps.Catalog != nil {
		candidates := v1.Group("/candidates")
		candidates.Post("/", h.createCandidate)
		candidates.Get("/", h.listCandidates)
		candidates.Get("/:id", h.getCandidate)
		candidates.Put("/:id", h.updateCandidate)
		candidates.Delete("/:id", h.deleteCandidate)

		questions := v1.Group("/questions")
		questions.Post("/", h.createQuestion)
		questions.Get("/", h.listQuestions)
		questions.Get("/:id", h.getQuestion)
		questions.Put("/:id", h.updateQuestion)
		questions.Delete("/:id", h.deleteQuestion)
		questions.Post("/:id/generate_audio", h.generateQuestionAudio)

		v1.Get("/calls/:sid/record", h.getCallRecord)
		v1.Get("/calls/:sid/answers", h.listAnswers)
	}

	v1.Post("/calls/:sid/finish", h.finishCall)

	if h.deps.Interviews != nil {
		v1.Post("/interviews", h.scheduleInterview)
		v1.Get("/calls/:sid", h.getSession)
	}
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", ctx.Path()), zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, check := range h.deps.Checks {
		if err := check(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	state := "ok"
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
		state = "degraded"
	}

	return ctx.Status(status).JSON(fiber.Map{"status": state, "errors": errs})
}
