package validation

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{
		MaxQuestionLength: 10,
		AllowedExtensions: []string{".pdf", ".xlsx"},
	}))
	handler := func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("owner_id").(string))
	}
	app.Post("/api/v1/query", handler)
	app.Post("/api/v1/documents", handler)
	app.Get("/api/v1/documents", handler)
	return app
}

func jsonRequest(body, owner string) *http.Request {
	req := httptest.NewRequest("POST", "/api/v1/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}
	return req
}

func uploadRequest(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Owner-ID", "alice")
	return req
}

func TestOwnerHeader(t *testing.T) {
	app := newApp()

	tests := []struct {
		name   string
		owner  string
		status int
	}{
		{"missing", "", fiber.StatusUnauthorized},
		{"malformed", "alice smith", fiber.StatusBadRequest},
		{"valid", "alice@example.com", fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/documents", nil)
			if tt.owner != "" {
				req.Header.Set("X-Owner-ID", tt.owner)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestQuestionValidation(t *testing.T) {
	app := newApp()

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"valid", `{"question":"why?"}`, fiber.StatusOK},
		{"blank", `{"question":"   "}`, fiber.StatusBadRequest},
		{"missing", `{}`, fiber.StatusBadRequest},
		{"too long", `{"question":"abcdefghijk"}`, fiber.StatusBadRequest},
		{"invalid json", `{`, fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(jsonRequest(tt.body, "alice"))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestUnsupportedContentType(t *testing.T) {
	app := newApp()
	req := httptest.NewRequest("POST", "/api/v1/query", strings.NewReader("q"))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("X-Owner-ID", "alice")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestUploadValidation(t *testing.T) {
	app := newApp()

	resp, err := app.Test(uploadRequest(t, "report.PDF", []byte("data")))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(uploadRequest(t, "notes.txt", []byte("data")))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(uploadRequest(t, "empty.pdf", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
