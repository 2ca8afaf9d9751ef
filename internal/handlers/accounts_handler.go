package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/nominal-hq/qbo-gateway/internal/accounts"
)

type AccountService interface {
	ListAccounts(ctx context.Context, realmID string, namePrefix string) ([]accounts.Account, error)
}

// AccountsHandler serves the account listing endpoint.
type AccountsHandler struct {
	accountService AccountService
	defaultRealmID string
}

func NewAccountsHandler(accountService AccountService, defaultRealmID string) *AccountsHandler {
	return &AccountsHandler{
		accountService: accountService,
		defaultRealmID: defaultRealmID,
	}
}

// GetAccounts lists the realm's accounts. realm_id defaults to the
// configured sandbox realm; name_prefix optionally narrows by account name.
func (h *AccountsHandler) GetAccounts(ctx *fiber.Ctx) error {
	realmID := ctx.Query("realm_id", h.defaultRealmID)
	namePrefix := ctx.Query("name_prefix")

	list, err := h.accountService.ListAccounts(ctx.Context(), realmID, namePrefix)
	if err != nil {
		return err
	}
	return ctx.JSON(list)
}
