package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"rocket-import/internal/importer"
	"rocket-import/internal/metadata"
	"rocket-import/internal/store"
)

type ImportHandler struct {
	runner   *ImportRunner
	registry *metadata.Registry
}

func NewImportHandler(runner *ImportRunner, reg *metadata.Registry) *ImportHandler {
	return &ImportHandler{runner: runner, registry: reg}
}

// Import handles POST /api/_import/:entity with body {"job": {...}, "rows": [...]}.
func (h *ImportHandler) Import(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	body := c.Body()
	if !gjson.ValidBytes(body) {
		return BadRequestError("Request body must be JSON")
	}
	parsed := gjson.ParseBytes(body)

	var spec importer.ImportJobSpec
	if job := parsed.Get("job"); job.IsObject() {
		if err := json.Unmarshal([]byte(job.Raw), &spec); err != nil {
			return BadRequestError(fmt.Sprintf("Invalid job: %v", err))
		}
	} else {
		return BadRequestError("Missing job definition")
	}
	if spec.Entity == "" {
		spec.Entity = entity.Name
	}
	if spec.Entity != entity.Name {
		return BadRequestError(fmt.Sprintf("Job entity %s does not match %s", spec.Entity, entity.Name))
	}

	rowsRaw := parsed.Get("rows")
	if !rowsRaw.IsArray() {
		return BadRequestError("rows must be an array")
	}
	rows, err := importer.ParseRows([]byte(rowsRaw.Raw))
	if err != nil {
		return BadRequestError(err.Error())
	}

	res, err := h.runner.Run(c.UserContext(), rows, spec)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": res})
}

// GetJob handles GET /api/_import/jobs/:id
func (h *ImportHandler) GetJob(c *fiber.Ctx) error {
	detail, err := h.runner.Describe(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": detail})
}

// Restore handles POST /api/_import/jobs/:id/restore
func (h *ImportHandler) Restore(c *fiber.Ctx) error {
	report, err := h.runner.Restore(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": report})
}

func (h *ImportHandler) resolveEntity(c *fiber.Ctx) (*metadata.Entity, error) {
	name := c.Params("entity")
	entity := h.registry.GetEntity(name)
	if entity == nil {
		return nil, UnknownEntityError(name)
	}
	return entity, nil
}

// ErrorHandler renders errors returned by handlers: *AppError with its own
// status, import configuration errors as 422, everything else as 500.
func ErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var appErr *AppError
		if errors.As(err, &appErr) {
			return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
		}

		var cfgErr *importer.ConfigError
		if errors.As(err, &cfgErr) {
			detail := ErrorDetail{Field: cfgErr.Field, Rule: "configuration", Message: cfgErr.Message}
			return c.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{Error: &AppError{
				Code:    "INVALID_IMPORT_CONFIG",
				Status:  fiber.StatusUnprocessableEntity,
				Message: "Invalid import configuration",
				Details: []ErrorDetail{detail},
			}})
		}

		if errors.Is(err, store.ErrUniqueViolation) {
			msg := "A record with this value already exists"
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Detail != "" {
				msg = pgErr.Detail
			}
			return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: ConflictError(msg)})
		}

		code := fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
			return c.Status(code).JSON(ErrorResponse{Error: NewAppError("HTTP_ERROR", code, fiberErr.Message)})
		}

		logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return c.Status(code).JSON(ErrorResponse{
			Error: &AppError{
				Code:    "INTERNAL_ERROR",
				Message: "Internal server error",
			},
		})
	}
}
