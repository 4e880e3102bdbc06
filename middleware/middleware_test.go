package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpilot/models"
	"leadpilot/monitoring"
	"leadpilot/repository/memory"
	"leadpilot/utils"
)

const testSecret = "test-secret"

func protectedApp(store *memory.Store) *fiber.App {
	app := fiber.New()
	app.Get("/me", Protected(testSecret, store.Set().Users), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"id": c.Locals("user").(*models.User).ID})
	})
	return app
}

func TestProtected(t *testing.T) {
	store := memory.New()
	active := store.AddUser(models.User{Email: "a@example.com", IsActive: true, TokenVersion: 2})
	inactive := store.AddUser(models.User{Email: "b@example.com", IsActive: false})
	app := protectedApp(store)

	token := func(userID uint, version int) string {
		tok, err := utils.GenerateAccessToken(testSecret, userID, version, time.Hour)
		require.NoError(t, err)
		return tok
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid", header: "Bearer " + token(active.ID, 2), want: http.StatusOK},
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "bad format", header: "Token abc", want: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer abc", want: http.StatusUnauthorized},
		{name: "stale version", header: "Bearer " + token(active.ID, 1), want: http.StatusUnauthorized},
		{name: "unknown user", header: "Bearer " + token(999, 0), want: http.StatusUnauthorized},
		{name: "inactive", header: "Bearer " + token(inactive.ID, 0), want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestProtectedAcceptsCookie(t *testing.T) {
	store := memory.New()
	user := store.AddUser(models.User{Email: "a@example.com", IsActive: true})
	tok, err := utils.GenerateAccessToken(testSecret, user.ID, 0, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: tok})
	resp, err := protectedApp(store).Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProtectedPrefersHeaderOverCookie(t *testing.T) {
	store := memory.New()
	user := store.AddUser(models.User{Email: "a@example.com", IsActive: true})
	tok, err := utils.GenerateAccessToken(testSecret, user.ID, 0, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Token "+tok)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: tok})
	resp, err := protectedApp(store).Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWriteRateLimiterWithRedisStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	monitor := monitoring.NewNop()
	app := fiber.New()
	app.Use(WriteRateLimiter(RateLimitConfig{Max: 2, Expiration: time.Minute, Storage: NewRedisStorage(client)}, monitor))
	app.All("/things", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/things", nil))
		require.NoError(t, err)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.Equal(t, int64(1), monitor.Snapshot()["rate_limit.hits"])
	assert.NotEmpty(t, mr.Keys())

	// Reads are not limited
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/things", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRedisStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, mr.Set("unrelated", "keep"))

	s := NewRedisStorage(client)
	val, err := s.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, s.Set("k", []byte("v"), time.Minute))
	val, err = s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	mr.FastForward(2 * time.Minute)
	val, err = s.Get("k")
	require.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, s.Set("a", []byte("1"), 0))
	require.NoError(t, s.Reset())
	assert.Equal(t, []string{"unrelated"}, mr.Keys())
}

func TestWebhookSecret(t *testing.T) {
	app := fiber.New()
	app.Post("/hook", WebhookSecret("s3cret"), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	open := fiber.New()
	open.Post("/hook", WebhookSecret(""), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	send := func(app *fiber.App, header, value string) int {
		req := httptest.NewRequest(http.MethodPost, "/hook", nil)
		if header != "" {
			req.Header.Set(header, value)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, send(app, "X-Webhook-Secret", "s3cret"))
	assert.Equal(t, http.StatusOK, send(app, "Unipile-Auth", "s3cret"))
	assert.Equal(t, http.StatusUnauthorized, send(app, "X-Webhook-Secret", "wrong"))
	assert.Equal(t, http.StatusUnauthorized, send(app, "", ""))
	assert.Equal(t, http.StatusOK, send(open, "", ""))
}

func TestCORSPreflight(t *testing.T) {
	app := fiber.New()
	app.Use(CORS())
	app.Get("/x", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "3600", resp.Header.Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
