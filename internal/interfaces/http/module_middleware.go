package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/verifactu-api/internal/application/dto"
	"github.com/jhoicas/verifactu-api/internal/domain/entity"
)

// configSource es el contrato mínimo que necesita el middleware; lo implementa *verifactu.ConfigLoader.
type configSource interface {
	Load(ctx context.Context) (*entity.SubmissionConfig, error)
}

// RequireEnabled corta las rutas de registros si Verifactu está deshabilitado.
// Ajustes, certificado y prueba de conexión no pasan por aquí: son los que permiten habilitarlo.
//
// Comportamiento:
//   - 403 FEATURE_DISABLED → enabled=false en la configuración efectiva.
//   - 503 CONFIG_UNAVAILABLE → no se pudo leer la configuración.
func RequireEnabled(configs configSource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cfg, err := configs.Load(c.UserContext())
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
				Code:    "CONFIG_UNAVAILABLE",
				Message: "no se pudo leer la configuración de Verifactu, intente más tarde",
			})
		}
		if !cfg.Enabled {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Code:    "FEATURE_DISABLED",
				Message: "Verifactu no está habilitado para este emisor",
			})
		}
		return c.Next()
	}
}
