package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/telephony/twilio"
	apperrors "github.com/acme/voice-interview/pkg/errors"
)

// fallbackTwiML is served when an instruction cannot be rendered.
const fallbackTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response><Say>We are sorry, something went wrong on our side. Goodbye.</Say><Hangup/></Response>`

// providerWebhook is the union of the voice, status and machine detection
// callback fields. Values stay strings so form and JSON bodies decode alike.
type providerWebhook struct {
	CallSid           string `json:"CallSid" form:"CallSid"`
	CallStatus        string `json:"CallStatus" form:"CallStatus"`
	From              string `json:"From" form:"From"`
	To                string `json:"To" form:"To"`
	SpeechResult      string `json:"SpeechResult" form:"SpeechResult"`
	Confidence        string `json:"Confidence" form:"Confidence"`
	RecordingUrl      string `json:"RecordingUrl" form:"RecordingUrl"`
	RecordingSid      string `json:"RecordingSid" form:"RecordingSid"`
	RecordingDuration string `json:"RecordingDuration" form:"RecordingDuration"`
	AnsweredBy        string `json:"AnsweredBy" form:"AnsweredBy"`
	CallDuration      string `json:"CallDuration" form:"CallDuration"`
	Timestamp         string `json:"Timestamp" form:"Timestamp"`
}

func (h *HandlerSet) parseWebhook(ctx *fiber.Ctx) providerWebhook {
	var body providerWebhook
	if len(ctx.Body()) == 0 {
		return body
	}
	if err := ctx.BodyParser(&body); err != nil {
		h.logger.Warn("webhook: unreadable body", zap.String("path", ctx.Path()), zap.Error(err))
	}
	return body
}

func (h *HandlerSet) voiceWebhook(ctx *fiber.Ctx) error {
	body := h.parseWebhook(ctx)

	evt := domain.Event{
		CallSID:           strings.TrimSpace(body.CallSid),
		CallStatus:        body.CallStatus,
		From:              body.From,
		To:                body.To,
		SpeechResult:      body.SpeechResult,
		Confidence:        parseFloat(body.Confidence),
		RecordingURL:      body.RecordingUrl,
		RecordingSID:      body.RecordingSid,
		RecordingDuration: parseInt(body.RecordingDuration),
		AnsweredBy:        body.AnsweredBy,
		Turn:              ctx.QueryInt("turn", 0),
		Step:              ctx.Query("step"),
	}

	instr := h.deps.Engine.Handle(ctx.UserContext(), evt)

	doc, err := h.deps.Renderer.Render(instr)
	if err != nil {
		h.logger.Error("webhook: render instruction", zap.String("call_sid", evt.CallSID), zap.Error(err))
		doc = fallbackTwiML
	}

	ctx.Set(fiber.HeaderContentType, "text/xml; charset=utf-8")
	return ctx.Status(http.StatusOK).SendString(doc)
}

func (h *HandlerSet) statusWebhook(ctx *fiber.Ctx) error {
	body := h.parseWebhook(ctx)
	if strings.TrimSpace(body.CallSid) == "" {
		return fiber.NewError(http.StatusBadRequest, "CallSid is required")
	}

	evt := domain.StatusEvent{
		CallSID:    strings.TrimSpace(body.CallSid),
		CallStatus: body.CallStatus,
		AnsweredBy: body.AnsweredBy,
		Duration:   parseInt(body.CallDuration),
		Timestamp:  parseTimestamp(body.Timestamp),
	}

	if err := h.deps.Engine.HandleStatus(ctx.UserContext(), evt); err != nil {
		if errors.Is(err, apperrors.ErrInvalidState) {
			h.logger.Warn("webhook: status for unknown call", zap.String("call_sid", evt.CallSID), zap.Error(err))
			return ctx.SendStatus(http.StatusNoContent)
		}
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

// verifySignature rejects webhooks that were not signed with the account token.
func (h *HandlerSet) verifySignature(ctx *fiber.Ctx) error {
	if h.deps.Validator == nil {
		return ctx.Next()
	}

	params := make(map[string]string)
	ctx.Request().PostArgs().VisitAll(func(key, value []byte) {
		params[string(key)] = string(value)
	})

	fullURL := strings.TrimRight(h.deps.PublicBaseURL, "/") + ctx.OriginalURL()
	if !h.deps.Validator.Valid(fullURL, params, ctx.Get(twilio.SignatureHeader)) {
		h.logger.Warn("webhook: signature rejected", zap.String("path", ctx.Path()))
		return fiber.NewError(http.StatusForbidden, "invalid signature")
	}
	return ctx.Next()
}

func parseInt(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}

func parseTimestamp(v string) time.Time {
	if t, err := time.Parse(time.RFC1123Z, v); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}
