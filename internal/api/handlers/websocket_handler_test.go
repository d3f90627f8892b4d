package handlers

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpgradeOwnerOutlivesRequest(t *testing.T) {
	h := NewWebSocketHandler(nil)

	var owners []string
	app := fiber.New()
	app.Get("/ws", h.Upgrade, func(c *fiber.Ctx) error {
		owners = append(owners, c.Locals("owner_id").(string))
		return c.SendStatus(fiber.StatusNoContent)
	})

	upgrade := func(target, owner string) int {
		req := httptest.NewRequest("GET", target, nil)
		req.Header.Set("Connection", "Upgrade")
		req.Header.Set("Upgrade", "websocket")
		if owner != "" {
			req.Header.Set(OwnerHeader, owner)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusNoContent, upgrade("/ws", "owner-aaaa"))
	assert.Equal(t, fiber.StatusNoContent, upgrade("/ws?owner_id=owner-cccc", ""))
	assert.Equal(t, fiber.StatusNoContent, upgrade("/ws", "owner-bbbb"))
	assert.Equal(t, []string{"owner-aaaa", "owner-cccc", "owner-bbbb"}, owners)

	assert.Equal(t, fiber.StatusBadRequest, upgrade("/ws", ""))
	assert.Equal(t, fiber.StatusUpgradeRequired, plainGet(t, app))
}

func plainGet(t *testing.T, app *fiber.App) int {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", "/ws", nil))
	require.NoError(t, err)
	return resp.StatusCode
}
