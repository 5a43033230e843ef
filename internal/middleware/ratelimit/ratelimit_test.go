package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newLimiter(t *testing.T, perMinute int) (*RateLimiter, *clock) {
	t.Helper()
	rl := New(Config{MaxRequestsPerMinute: perMinute})
	t.Cleanup(rl.Stop)
	clk := &clock{t: time.Unix(1700000000, 0)}
	rl.now = clk.now
	return rl, clk
}

func TestAllowRefills(t *testing.T) {
	rl, clk := newLimiter(t, 2)

	assert.True(t, rl.allow("a"))
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"))

	clk.t = clk.t.Add(30 * time.Second)
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
}

func TestEvictIdle(t *testing.T) {
	rl, clk := newLimiter(t, 10)
	rl.allow("a")

	clk.t = clk.t.Add(11 * time.Minute)
	rl.evictIdle()
	assert.Empty(t, rl.buckets)
}

func TestMiddlewareRejects(t *testing.T) {
	rl, _ := newLimiter(t, 1)

	app := fiber.New()
	app.Use(rl.Middleware())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}
