package handler

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// SubmissionHandler manages submission endpoints.
type SubmissionHandler struct {
	service      service.SubmissionService
	createLimits fiber.Handler
	logger       zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance. createLimit may be
// nil to disable upload throttling.
func NewSubmissionHandler(service service.SubmissionService, createLimit fiber.Handler, logger zerolog.Logger) *SubmissionHandler {
	if createLimit == nil {
		createLimit = func(c *fiber.Ctx) error { return c.Next() }
	}
	return &SubmissionHandler{
		service:      service,
		createLimits: createLimit,
		logger:       logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the submission routes to the provided router group.
func (h *SubmissionHandler) Register(router fiber.Router) {
	router.Post("", h.createLimits, middleware.WithAuth(h.create, middleware.AuthOptions{Role: middleware.AuthRoleStudent}))
	router.Get("/mine", middleware.WithAuth(h.mine, middleware.AuthOptions{RequireUser: true}))
	router.Get("/:id/status", middleware.WithAuth(h.status, middleware.AuthOptions{RequireUser: true}))
	router.Get("/:id/file", middleware.WithAuth(h.file, middleware.AuthOptions{RequireUser: true}))
	router.Patch("/:id", middleware.WithAuth(h.update, middleware.AuthOptions{Role: middleware.AuthRoleProfessor}))
	router.Post("/:id/regrade", middleware.WithAuth(h.regrade, middleware.AuthOptions{Role: middleware.AuthRoleProfessor}))
	router.Delete("/:id", middleware.WithAuth(h.delete, middleware.AuthOptions{Role: middleware.AuthRoleAdmin}))
}

// RegisterExerciseRoutes attaches the exercise-scoped submission views.
func (h *SubmissionHandler) RegisterExerciseRoutes(router fiber.Router) {
	router.Get("/:id/submissions", middleware.WithAuth(h.listForExercise, middleware.AuthOptions{Role: middleware.AuthRoleProfessor}))
	router.Get("/:id/stats", middleware.WithAuth(h.stats, middleware.AuthOptions{Role: middleware.AuthRoleProfessor}))
}

func (h *SubmissionHandler) create(c *fiber.Ctx) error {
	exerciseID, err := parseFormUint(c, "exercise_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}

	submission, err := h.service.Create(c.UserContext(), principalFromContext(c), dto.SubmissionCreateRequest{ExerciseID: exerciseID}, file)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission received, grading in progress", submission)
}

func (h *SubmissionHandler) mine(c *fiber.Ctx) error {
	var query dto.SubmissionListQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	page, err := h.service.ListForStudent(c.UserContext(), principalFromContext(c), query)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.OK(c, page.Items, "submissions retrieved", listMeta(page))
}

func (h *SubmissionHandler) status(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	status, err := h.service.GetStatus(c.UserContext(), principalFromContext(c), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission status retrieved", status)
}

func (h *SubmissionHandler) file(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	content, err := h.service.DecryptForReview(c.UserContext(), principalFromContext(c), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=\"submission-%d.pdf\"", id))
	return c.Send(content)
}

func (h *SubmissionHandler) update(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.SubmissionUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.Update(c.UserContext(), principalFromContext(c), id, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	message := "submission updated"
	if !result.Modified {
		message = "no changes detected"
	}
	return utils.SendSuccess(c, message, result)
}

func (h *SubmissionHandler) regrade(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Regrade(c.UserContext(), principalFromContext(c), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "re-grade scheduled", submission)
}

func (h *SubmissionHandler) delete(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.Delete(c.UserContext(), principalFromContext(c), id); err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission deleted", nil)
}

func (h *SubmissionHandler) listForExercise(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var query dto.SubmissionListQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	page, err := h.service.ListForExercise(c.UserContext(), principalFromContext(c), exerciseID, query)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.OK(c, page.Items, "submissions retrieved", listMeta(page))
}

func (h *SubmissionHandler) stats(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	stats, err := h.service.Stats(c.UserContext(), principalFromContext(c), exerciseID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission statistics retrieved", stats)
}

func listMeta(page dto.SubmissionListResponse) fiber.Map {
	return fiber.Map{"total": page.Total, "limit": page.Limit, "offset": page.Offset}
}
