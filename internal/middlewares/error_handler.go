package middlewares

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/nominal-hq/qbo-gateway/internal/accounts"
	"github.com/nominal-hq/qbo-gateway/internal/oauth"
)

// ErrorResponse is the envelope every error is rendered with.
type ErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorHandler turns service errors into structured JSON responses. Token
// problems map to 401 with an instruction to restart the auth flow;
// provider rejections to 400; downstream API failures to 502.
func ErrorHandler(ctx *fiber.Ctx, err error) error {
	kind, code, message := classify(err)
	if code >= fiber.StatusInternalServerError {
		slog.Error("request failed", "path", ctx.Path(), "code", code, "error", err)
	} else {
		slog.Warn("request rejected", "path", ctx.Path(), "code", code, "error", err)
	}
	return ctx.Status(code).JSON(ErrorResponse{Kind: kind, Message: message})
}

func classify(err error) (kind string, code int, message string) {
	var authErr *oauth.AuthError
	var downstreamErr *accounts.DownstreamError
	var fiberErr *fiber.Error

	switch {
	case errors.Is(err, accounts.ErrNotAuthenticated):
		return "not_authenticated", fiber.StatusUnauthorized,
			"not authenticated with QuickBooks, start the flow at /auth/quickbooks"
	case errors.Is(err, accounts.ErrReauthRequired):
		return "reauth_required", fiber.StatusUnauthorized,
			"QuickBooks session expired, re-authenticate at /auth/quickbooks"
	case errors.Is(err, oauth.ErrStateInvalid):
		return "invalid_state", fiber.StatusBadRequest, err.Error()
	case errors.As(err, &authErr):
		return "auth_error", fiber.StatusBadRequest, authErr.Error()
	case errors.As(err, &downstreamErr):
		return "downstream_error", fiber.StatusBadGateway, downstreamErr.Error()
	case errors.As(err, &fiberErr):
		switch fiberErr.Code {
		case fiber.StatusBadRequest:
			return "bad_request", fiberErr.Code, fiberErr.Message
		case fiber.StatusNotFound:
			return "not_found", fiberErr.Code, fiberErr.Message
		default:
			return "internal_error", fiberErr.Code, fiberErr.Message
		}
	default:
		return "internal_error", fiber.StatusInternalServerError, "internal server error"
	}
}
