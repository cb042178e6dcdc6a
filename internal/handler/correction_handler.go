package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// CorrectionHandler manages reference correction uploads.
type CorrectionHandler struct {
	service service.CorrectionService
	logger  zerolog.Logger
}

// NewCorrectionHandler builds a correction handler instance.
func NewCorrectionHandler(service service.CorrectionService, logger zerolog.Logger) *CorrectionHandler {
	return &CorrectionHandler{
		service: service,
		logger:  logger.With().Str("component", "correction_handler").Logger(),
	}
}

// Register attaches the correction routes to the provided router group.
func (h *CorrectionHandler) Register(router fiber.Router) {
	router.Post("", middleware.WithAuth(h.create, middleware.AuthOptions{Role: middleware.AuthRoleProfessor}))
	router.Post("/:id/rebuild", middleware.WithAuth(h.rebuild, middleware.AuthOptions{Role: middleware.AuthRoleProfessor}))
}

func (h *CorrectionHandler) create(c *fiber.Ctx) error {
	exerciseID, err := parseFormUint(c, "exercise_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	form, err := c.MultipartForm()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "multipart form expected")
	}

	payload := dto.CorrectionCreateRequest{
		ExerciseID:   exerciseID,
		Title:        c.FormValue("title"),
		Description:  c.FormValue("description"),
		ScoringModel: c.FormValue("scoring_model"),
		Config:       c.FormValue("config"),
	}

	correction, err := h.service.Create(c.UserContext(), principalFromContext(c), payload, form.File["files"])
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "correction created", correction)
}

func (h *CorrectionHandler) rebuild(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	correction, err := h.service.Rebuild(c.UserContext(), principalFromContext(c), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "correction model rebuilt", correction)
}
