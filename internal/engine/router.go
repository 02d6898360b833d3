package engine

import "github.com/gofiber/fiber/v2"

// RegisterImportRoutes mounts the import API. middleware runs before every route.
func RegisterImportRoutes(app *fiber.App, h *ImportHandler, middleware ...fiber.Handler) {
	imports := app.Group("/api/_import", middleware...)

	imports.Get("/jobs/:id", h.GetJob)
	imports.Post("/jobs/:id/restore", h.Restore)
	imports.Post("/:entity", h.Import)
}
