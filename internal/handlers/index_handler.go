package handlers

import "github.com/gofiber/fiber/v2"

// GetIndex describes the service and its endpoints.
func GetIndex(ctx *fiber.Ctx) error {
	return ctx.JSON(fiber.Map{
		"message": "QuickBooks Online integration gateway",
		"endpoints": fiber.Map{
			"auth":     "/auth/quickbooks",
			"callback": "/auth/callback",
			"accounts": "/accounts/accounts",
		},
	})
}
