package handlers

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/nominal-hq/qbo-gateway/internal/oauth"
	"github.com/nominal-hq/qbo-gateway/model"
)

type OAuthClient interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth.Token, error)
}

type StateIssuer interface {
	Issue(ctx context.Context) (string, error)
	Verify(ctx context.Context, state string) error
}

type TokenStore interface {
	Upsert(ctx context.Context, token *model.QuickBooksToken) error
}

// AuthHandler drives the QuickBooks OAuth 2.0 authorization-code flow.
type AuthHandler struct {
	oauthClient OAuthClient
	states      StateIssuer
	tokens      TokenStore
}

func NewAuthHandler(oauthClient OAuthClient, states StateIssuer, tokens TokenStore) *AuthHandler {
	return &AuthHandler{
		oauthClient: oauthClient,
		states:      states,
		tokens:      tokens,
	}
}

// GetQuickBooksAuth redirects the user to the provider's authorization page
// with a freshly issued anti-forgery state.
func (h *AuthHandler) GetQuickBooksAuth(ctx *fiber.Ctx) error {
	state, err := h.states.Issue(ctx.Context())
	if err != nil {
		return err
	}
	return ctx.Redirect(h.oauthClient.AuthCodeURL(state), fiber.StatusFound)
}

// GetCallback handles the provider redirect: it validates the state,
// exchanges the one-time code for tokens and stores them for the realm.
func (h *AuthHandler) GetCallback(ctx *fiber.Ctx) error {
	code := ctx.Query("code")
	state := ctx.Query("state")
	realmID := ctx.Query("realmId")
	if code == "" || realmID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing code or realmId")
	}

	if err := h.states.Verify(ctx.Context(), state); err != nil {
		return err
	}

	token, err := h.oauthClient.Exchange(ctx.Context(), code)
	if err != nil {
		return err
	}

	record := &model.QuickBooksToken{
		RealmID:          realmID,
		AccessToken:      token.AccessToken,
		RefreshToken:     token.RefreshToken,
		TokenType:        token.TokenType,
		ExpiresAt:        token.Expiry,
		RefreshExpiresAt: oauth.RefreshTokenExpiry(token),
	}
	if err := h.tokens.Upsert(ctx.Context(), record); err != nil {
		return err
	}

	slog.Info("QuickBooks authorization completed", "realmId", realmID)
	return ctx.JSON(fiber.Map{
		"message":  "Successfully authenticated with QuickBooks",
		"realm_id": realmID,
	})
}
