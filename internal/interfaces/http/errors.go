package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/verifactu-api/internal/application/dto"
	"github.com/jhoicas/verifactu-api/internal/domain"
	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	domainvf "github.com/jhoicas/verifactu-api/internal/domain/verifactu"
	"github.com/jhoicas/verifactu-api/pkg/logger"
)

// errorStatus traduce un error de aplicación a estado HTTP y código de respuesta.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrInvalidInput):
		return fiber.StatusBadRequest, "VALIDATION"
	case errors.Is(err, domain.ErrIllegalTransition):
		return fiber.StatusConflict, "ILLEGAL_TRANSITION"
	case errors.Is(err, domain.ErrChainConflict):
		return fiber.StatusConflict, "CHAIN_CONFLICT"
	case errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict, "DUPLICATE"
	case errors.Is(err, domain.ErrFeatureDisabled):
		return fiber.StatusForbidden, "FEATURE_DISABLED"
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden, "FORBIDDEN"
	}
	switch domainvf.KindOf(err) {
	case domainvf.KindValidation:
		return fiber.StatusUnprocessableEntity, "VALIDATION"
	case domainvf.KindCertificate:
		return fiber.StatusFailedDependency, "CERTIFICATE"
	case domainvf.KindTransport:
		return fiber.StatusBadGateway, "AEAT_UNREACHABLE"
	case domainvf.KindParse:
		return fiber.StatusBadGateway, "AEAT_BAD_RESPONSE"
	case domainvf.KindRejection:
		return fiber.StatusUnprocessableEntity, "AEAT_REJECTED"
	case domainvf.KindHashChain:
		return fiber.StatusConflict, "HASH_CHAIN"
	}
	return fiber.StatusInternalServerError, "INTERNAL"
}

// respondError escribe el ErrorResponse de err. Los 5xx se registran; los internos no exponen el detalle.
func respondError(c *fiber.Ctx, log *logger.Logger, err error) error {
	status, body := errorBody(c, log, err)
	return c.Status(status).JSON(body)
}

// respondErrorWithRecord como respondError, adjuntando el registro si el servicio lo devolvió.
func respondErrorWithRecord(c *fiber.Ctx, log *logger.Logger, err error, rec *entity.InvoiceRecord) error {
	status, body := errorBody(c, log, err)
	if rec != nil {
		r := dto.ToRecordResponse(rec, false)
		body.Record = &r
	}
	return c.Status(status).JSON(body)
}

func errorBody(c *fiber.Ctx, log *logger.Logger, err error) (int, dto.ErrorResponse) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Str("code", code).Msg("error en petición")
		if code == "INTERNAL" {
			msg = "error interno"
		}
	}
	return status, dto.ErrorResponse{Code: code, Message: msg, Reason: domainvf.ReasonOf(err)}
}

// ErrorHandler manejador de errores de la app Fiber para lo que no capture un handler.
func ErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(dto.ErrorResponse{Code: "HTTP_ERROR", Message: fe.Message})
		}
		return respondError(c, log, err)
	}
}

func badRequest(c *fiber.Ctx, code, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: code, Message: msg})
}
