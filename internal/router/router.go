package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/handler"
	"github.com/noah-isme/gema-grading-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SubmissionHandler *handler.SubmissionHandler
	CorrectionHandler *handler.CorrectionHandler
	ExerciseHandler   *handler.ExerciseHandler
	HealthProbes      map[string]handler.HealthProbe
	JWTMiddleware     fiber.Handler
	ExposeMetrics     bool
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	if deps.ExposeMetrics {
		app.Get("/metrics", observability.MetricsHandler())
	}

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(api.Group("/submissions", jwtMiddleware))
	}

	if deps.ExerciseHandler != nil || deps.SubmissionHandler != nil {
		exercises := api.Group("/exercises", jwtMiddleware)
		if deps.SubmissionHandler != nil {
			deps.SubmissionHandler.RegisterExerciseRoutes(exercises)
		}
		if deps.ExerciseHandler != nil {
			deps.ExerciseHandler.Register(exercises)
		}
	}

	if deps.CorrectionHandler != nil {
		deps.CorrectionHandler.Register(api.Group("/corrections", jwtMiddleware))
	}
}
