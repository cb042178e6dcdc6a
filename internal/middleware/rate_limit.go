package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// RateLimit throttles a route per authenticated principal. Requests without a
// user id fall back to one bucket per client address. Rejections use the
// standard error envelope with the window length in the details.
func RateLimit(scope string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}
	retryAfter := int(window.Round(time.Second) / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return scope + ":" + principalKey(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, fmt.Sprint(retryAfter))
			return utils.Fail(c, fiber.StatusTooManyRequests, "too many requests, retry later", fiber.Map{
				"retry_after_seconds": retryAfter,
			})
		},
	})
}

func principalKey(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(uint); ok && id != 0 {
		role := normalizeRoleValue(c.Locals("user_role"))
		if role == "" {
			role = "user"
		}
		return fmt.Sprintf("%s:%d", role, id)
	}
	return "ip:" + c.IP()
}
