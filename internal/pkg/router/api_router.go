package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/stashpoint/settled/app/controllers"
	"github.com/stashpoint/settled/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())

	// Operator API; everything below requires the service API key.
	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware())

	v1.Post("/settlements", controllers.HandleCreateSettlement)
	v1.Get("/settlements/manual-review", controllers.HandleListManualReview)
	v1.Get("/settlements/:orderId", controllers.HandleGetSettlement)
	v1.Post("/settlements/:orderId/cancel", controllers.HandleCancelSettlement)

	v1.Post("/sellers", controllers.HandleRegisterSeller)
	v1.Get("/sellers/:storeId", controllers.HandleGetSeller)
	v1.Post("/sellers/:storeId/submit", controllers.HandleSubmitSeller)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
