package validation

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"
)

var ownerPattern = regexp.MustCompile(`^[A-Za-z0-9._@:-]{1,128}$`)

type Config struct {
	OwnerHeader         string
	MaxQuestionLength   int
	MaxDocumentSize     int
	AllowedExtensions   []string
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects requests without a well-formed owner header, question
// bodies that are blank or too long, and uploads with an unsupported
// extension or size. The owner id is stored in Locals("owner_id").
func Middleware(cfg Config) fiber.Handler {
	if cfg.OwnerHeader == "" {
		cfg.OwnerHeader = "X-Owner-ID"
	}
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 4000
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 50 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json", "multipart/form-data"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		owner := strings.TrimSpace(c.Get(cfg.OwnerHeader))
		if owner == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": cfg.OwnerHeader + " header is required",
			})
		}
		if !ownerPattern.MatchString(owner) {
			cfg.Logger.Warn("Malformed owner id", zap.String("ip", c.IP()))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid " + cfg.OwnerHeader + " header",
			})
		}
		c.Locals("owner_id", utils.CopyString(owner))

		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get(fiber.HeaderContentType)
			if !allowedContentType(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		path := c.Path()

		if c.Method() == fiber.MethodPost && strings.HasSuffix(path, "/query") {
			var req struct {
				Question string `json:"question"`
			}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			question := sanitizeString(req.Question)
			if question == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Question is required and must be a string",
				})
			}
			if utf8.RuneCountInString(question) > cfg.MaxQuestionLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Question exceeds maximum length",
				})
			}
		}

		if c.Method() == fiber.MethodPost && strings.HasSuffix(path, "/documents") {
			fh, err := c.FormFile("file")
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "A file is required in the 'file' form field",
				})
			}
			if fh.Size == 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Uploaded file is empty",
				})
			}
			if fh.Size > int64(cfg.MaxDocumentSize) {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Document exceeds maximum size",
				})
			}
			if len(cfg.AllowedExtensions) > 0 && !allowedExtension(fh.Filename, cfg.AllowedExtensions) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Unsupported file type. Allowed: " + strings.Join(cfg.AllowedExtensions, ", "),
				})
			}
		}

		return c.Next()
	}
}

func allowedContentType(contentType string, allowed []string) bool {
	if contentType == "" {
		return true
	}
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func allowedExtension(filename string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
