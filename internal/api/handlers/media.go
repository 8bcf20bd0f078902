package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/voice-interview/internal/media"
)

// serveMedia streams a synthesized prompt so the provider can play it.
func (h *HandlerSet) serveMedia(ctx *fiber.Ctx) error {
	name := ctx.Params("filename")
	if !media.ValidName(name) {
		return fiber.NewError(http.StatusBadRequest, "invalid file name")
	}

	body, err := h.deps.Media.Open(ctx.UserContext(), name)
	if err != nil {
		return translateError(err)
	}

	ctx.Set(fiber.HeaderContentType, media.ContentType(name))
	ctx.Set(fiber.HeaderCacheControl, "public, max-age=86400")
	return ctx.Status(http.StatusOK).SendStream(body)
}
