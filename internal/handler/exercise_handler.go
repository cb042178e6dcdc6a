package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// ExerciseHandler exposes exercise reads.
type ExerciseHandler struct {
	service service.ExerciseService
	logger  zerolog.Logger
}

// NewExerciseHandler builds an exercise handler instance.
func NewExerciseHandler(service service.ExerciseService, logger zerolog.Logger) *ExerciseHandler {
	return &ExerciseHandler{
		service: service,
		logger:  logger.With().Str("component", "exercise_handler").Logger(),
	}
}

// Register attaches the exercise routes to the provided router group.
func (h *ExerciseHandler) Register(router fiber.Router) {
	router.Get("/:id", middleware.WithAuth(h.get, middleware.AuthOptions{RequireUser: true}))
}

func (h *ExerciseHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	exercise, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "exercise retrieved", exercise)
}
