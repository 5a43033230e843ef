package validation

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	QueryLocalsKey  = "query_request"
	UploadFormField = "file"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

// QueryRequest is the validated body of a search request.
type QueryRequest struct {
	Query     string   `json:"query"`
	K         int      `json:"k"`
	GroupIDs  []int64  `json:"group_ids"`
	Threshold *float64 `json:"threshold"`
}

type Config struct {
	MaxQueryLength      int
	MaxK                int
	MaxDocumentSize     int64
	AllowedContentTypes []string
	// Supported reports whether an uploaded file name can be ingested.
	Supported func(name string) bool
	Logger    *zap.Logger
}

func (cfg *Config) defaults() {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 5000
	}
	if cfg.MaxK == 0 {
		cfg.MaxK = 50
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 20 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json", "multipart/form-data"}
	}
	if cfg.Supported == nil {
		cfg.Supported = func(string) bool { return true }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
}

// ContentType rejects POST and PUT bodies of an unexpected media type.
func ContentType(cfg Config) fiber.Handler {
	cfg.defaults()

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType == "" {
			return c.Next()
		}
		for _, allowed := range cfg.AllowedContentTypes {
			if strings.Contains(contentType, allowed) {
				return c.Next()
			}
		}

		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"error": "Unsupported content type",
		})
	}
}

// Query validates a search body and stores the sanitized *QueryRequest in
// c.Locals(QueryLocalsKey).
func Query(cfg Config) fiber.Handler {
	cfg.defaults()

	return func(c *fiber.Ctx) error {
		var req QueryRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}

		req.Query = sanitizeString(req.Query)
		if req.Query == "" {
			return badRequest(c, "Query is required and must be a string")
		}
		if len(req.Query) > cfg.MaxQueryLength {
			return badRequest(c, "Query exceeds maximum length")
		}
		if containsXSS(req.Query) {
			cfg.Logger.Warn("Potential XSS attempt", zap.String("ip", c.IP()))
			return badRequest(c, "Invalid query content")
		}
		if req.K < 0 || req.K > cfg.MaxK {
			return badRequest(c, "k is out of range")
		}
		if req.Threshold != nil && (*req.Threshold < -1 || *req.Threshold > 1) {
			return badRequest(c, "threshold must be between -1 and 1")
		}

		c.Locals(QueryLocalsKey, &req)
		return c.Next()
	}
}

// Upload checks the multipart file field for presence, size and a supported
// extension.
func Upload(cfg Config) fiber.Handler {
	cfg.defaults()

	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile(UploadFormField)
		if err != nil {
			return badRequest(c, "A file is required in the 'file' field")
		}

		name := filepath.Base(fh.Filename)
		if name == "." || name == "/" || strings.HasPrefix(name, ".") {
			return badRequest(c, "Invalid file name")
		}
		if fh.Size > cfg.MaxDocumentSize {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": "Document exceeds maximum size",
			})
		}
		if !cfg.Supported(name) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported document type",
				"file":  name,
			})
		}

		return c.Next()
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
