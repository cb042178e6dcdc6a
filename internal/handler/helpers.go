package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// fieldError is the client-facing shape of one failed validation rule.
type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

func principalFromContext(c *fiber.Ctx) service.Principal {
	return service.Principal{ID: userIDFromContext(c), Role: userRoleFromContext(c)}
}

func userIDFromContext(c *fiber.Ctx) uint {
	if v := c.Locals("user_id"); v != nil {
		if id, ok := v.(uint); ok {
			return id
		}
		if id, ok := v.(int); ok {
			if id < 0 {
				return 0
			}
			return uint(id)
		}
	}
	return 0
}

func userRoleFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_role"); v != nil {
		if role, ok := v.(string); ok {
			return role
		}
	}
	return ""
}

func parseUintParam(c *fiber.Ctx, name string) (uint, error) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(c.Params(name)), 10, 64)
	if err != nil || parsed == 0 {
		return 0, errors.New("invalid identifier")
	}
	return uint(parsed), nil
}

func parseFormUint(c *fiber.Ctx, key string) (uint, error) {
	value := strings.TrimSpace(c.FormValue(key))
	if value == "" {
		return 0, errors.New("missing " + key)
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, errors.New("invalid " + key)
	}
	return uint(parsed), nil
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func validationDetails(err error) []fieldError {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}
	details := make([]fieldError, 0, len(validationErrors))
	for _, fe := range validationErrors {
		details = append(details, fieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
	}
	return details
}

// respondError maps service errors onto HTTP statuses.
func respondError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	switch {
	case errors.Is(err, service.ErrFileTooLarge):
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, service.ErrFileTooLarge.Error())
	case errors.Is(err, service.ErrUnsupportedFileType):
		return utils.SendError(c, fiber.StatusUnsupportedMediaType, service.ErrUnsupportedFileType.Error())
	case errors.Is(err, service.ErrValidation):
		message := strings.TrimPrefix(err.Error(), service.ErrValidation.Error()+": ")
		if details := validationDetails(err); details != nil {
			return utils.Fail(c, fiber.StatusBadRequest, "validation failed", details)
		}
		return utils.SendError(c, fiber.StatusBadRequest, message)
	case errors.Is(err, service.ErrExerciseNotFound),
		errors.Is(err, service.ErrSubmissionNotFound),
		errors.Is(err, service.ErrCorrectionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrForbidden):
		return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	case errors.Is(err, service.ErrPlagiarismDetected):
		return utils.SendError(c, fiber.StatusConflict, service.ErrPlagiarismDetected.Error())
	case errors.Is(err, service.ErrRegradeNotAllowed):
		return utils.SendError(c, fiber.StatusConflict, service.ErrRegradeNotAllowed.Error())
	case errors.Is(err, service.ErrGradingQueueFull), errors.Is(err, service.ErrLockTimeout):
		return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
	default:
		requestLogger(logger, c).Error().Err(err).Str("path", c.Path()).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
