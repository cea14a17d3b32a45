package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stashpoint/settled/app/controllers"
)

type WebhookRouter struct {
}

// InstallRouter registers the provider-facing webhook endpoints. They carry
// their own HMAC verification, so no API key middleware is applied here.
func (h WebhookRouter) InstallRouter(app *fiber.App) {
	hooks := app.Group("/webhooks")
	hooks.Post("/payout-changed", controllers.HandlePayoutChangedWebhook)
	hooks.Post("/seller-changed", controllers.HandleSellerChangedWebhook)
	hooks.Get("/health", controllers.HandleWebhookHealth)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}
