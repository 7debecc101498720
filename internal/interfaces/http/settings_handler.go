package http

import (
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/verifactu-api/internal/application/dto"
	appvf "github.com/jhoicas/verifactu-api/internal/application/verifactu"
	infravf "github.com/jhoicas/verifactu-api/internal/infrastructure/verifactu"
	"github.com/jhoicas/verifactu-api/pkg/logger"
)

// maxCertificateSize tamaño máximo aceptado para un .p12/.pfx.
const maxCertificateSize = 256 << 10

// SettingsHandler ajustes Verifactu, certificado y prueba de conexión (solo admin).
type SettingsHandler struct {
	configs   *appvf.ConfigLoader
	certs     *infravf.CertificateManager
	transport infravf.AEATTransport
	log       *logger.Logger
	now       func() time.Time
}

// NewSettingsHandler construye el handler.
func NewSettingsHandler(configs *appvf.ConfigLoader, certs *infravf.CertificateManager, transport infravf.AEATTransport, log *logger.Logger) *SettingsHandler {
	return &SettingsHandler{configs: configs, certs: certs, transport: transport, log: log, now: time.Now}
}

// GetSettings godoc
// @Summary      Configuración Verifactu
// @Description  configuración efectiva con los secretos enmascarados.
// @Tags         settings
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Router       /api/verifactu/settings [get]
func (h *SettingsHandler) GetSettings(c *fiber.Ctx) error {
	out, err := h.configs.Settings(c.UserContext())
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(out)
}

// UpdateSettings godoc
// @Summary      Actualizar configuración
// @Description  guarda las claves recibidas. Una clave desconocida o un valor inválido → 400.
// @Tags         settings
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body        body     dto.UpdateSettingsRequest  true  "clave → valor; vacío borra"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Router       /api/verifactu/settings [put]
func (h *SettingsHandler) UpdateSettings(c *fiber.Ctx) error {
	var in dto.UpdateSettingsRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido: se espera un objeto clave-valor")
	}
	if len(in) == 0 {
		return badRequest(c, "VALIDATION", "no hay claves que actualizar")
	}
	if err := h.configs.Update(c.UserContext(), in); err != nil {
		return respondError(c, h.log, err)
	}
	h.log.Info().Str("user_id", GetUserID(c)).Int("keys", len(in)).Msg("configuración verifactu actualizada")
	return h.GetSettings(c)
}

// UploadCertificate godoc
// @Summary      Subir certificado PKCS#12
// @Description  recibe un PKCS#12 (campo "certificate") y su contraseña (campo "password").
// @Tags         settings
// @Security     Bearer
// @Accept       mpfd
// @Produce      json
// @Param        certificate formData file                       true  ".p12/.pfx"
// @Param        password    formData string                     true  "contraseña"
// @Success      201  {object}  dto.CertificateResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Failure      424  {object}  dto.ErrorResponse
// @Router       /api/verifactu/certificate [post]
func (h *SettingsHandler) UploadCertificate(c *fiber.Ctx) error {
	file, err := c.FormFile("certificate")
	if err != nil {
		return badRequest(c, "VALIDATION", "falta el archivo 'certificate'")
	}
	if file.Size > maxCertificateSize {
		return badRequest(c, "VALIDATION", "el certificado supera el tamaño máximo")
	}
	f, err := file.Open()
	if err != nil {
		return respondError(c, h.log, fmt.Errorf("abrir certificado subido: %w", err))
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxCertificateSize+1))
	if err != nil {
		return respondError(c, h.log, fmt.Errorf("leer certificado subido: %w", err))
	}
	password := c.FormValue("password")

	bundle, err := infravf.ParsePKCS12(data, password)
	if err != nil {
		return respondError(c, h.log, err)
	}
	report := h.certs.Validate(bundle, h.now())
	if err := report.Err(); err != nil {
		return respondError(c, h.log, err)
	}

	path, err := h.certs.Save(data, file.Filename)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if err := h.configs.Update(c.UserContext(), map[string]string{
		appvf.KeyCertPath:     path,
		appvf.KeyCertPassword: password,
	}); err != nil {
		return respondError(c, h.log, err)
	}
	h.log.Info().Str("user_id", GetUserID(c)).Str("path", path).Str("fingerprint", bundle.Fingerprint).Msg("certificado verifactu instalado")

	out := certificateResponse(path, bundle, report)
	out.Warnings = append(out.Warnings, h.issuerMismatch(c, bundle)...)
	return c.Status(fiber.StatusCreated).JSON(out)
}

// GetCertificate godoc
// @Summary      Certificado configurado
// @Description  metadatos y vigencia del certificado configurado.
// @Tags         settings
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  dto.CertificateResponse
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      424  {object}  dto.ErrorResponse
// @Router       /api/verifactu/certificate [get]
func (h *SettingsHandler) GetCertificate(c *fiber.Ctx) error {
	cfg, err := h.configs.Load(c.UserContext())
	if err != nil {
		return respondError(c, h.log, err)
	}
	if !cfg.HasCertificate() {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "CERTIFICATE_NOT_CONFIGURED", Message: "no hay certificado configurado"})
	}
	bundle, err := h.certs.Load(cfg.CertPath, cfg.CertPassword)
	if err != nil {
		return respondError(c, h.log, err)
	}
	out := certificateResponse(cfg.CertPath, bundle, h.certs.Validate(bundle, h.now()))
	out.Warnings = append(out.Warnings, h.issuerMismatch(c, bundle)...)
	return c.JSON(out)
}

// DeleteCertificate godoc
// @Summary      Eliminar certificado
// @Description  borra el archivo y limpia la configuración.
// @Tags         settings
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]bool
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/verifactu/certificate [delete]
func (h *SettingsHandler) DeleteCertificate(c *fiber.Ctx) error {
	cfg, err := h.configs.Load(c.UserContext())
	if err != nil {
		return respondError(c, h.log, err)
	}
	if !cfg.HasCertificate() {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "CERTIFICATE_NOT_CONFIGURED", Message: "no hay certificado configurado"})
	}
	removed, err := h.certs.Delete(cfg.CertPath)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if err := h.configs.Update(c.UserContext(), map[string]string{appvf.KeyCertPath: "", appvf.KeyCertPassword: ""}); err != nil {
		return respondError(c, h.log, err)
	}
	h.log.Info().Str("user_id", GetUserID(c)).Str("path", cfg.CertPath).Bool("removed", removed).Msg("certificado verifactu eliminado")
	return c.JSON(fiber.Map{"deleted": removed})
}

// TestConnection godoc
// @Summary      Probar conexión con la AEAT
// @Description  comprueba certificado y alcance del endpoint sin enviar registros.
// @Tags         settings
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  dto.ConnectionTestResponse
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Router       /api/verifactu/connection/test [post]
func (h *SettingsHandler) TestConnection(c *fiber.Ctx) error {
	cfg, err := h.configs.Load(c.UserContext())
	if err != nil {
		return respondError(c, h.log, err)
	}
	res := h.transport.TestConnection(c.UserContext(), cfg)
	return c.JSON(dto.ConnectionTestResponse{
		Success:          res.Success,
		CertificateValid: res.CertificateValid,
		ServerReachable:  res.ServerReachable,
		Endpoint:         res.Endpoint,
		Message:          res.Message,
		Warnings:         res.Warnings,
		CheckedAt:        res.CheckedAt,
	})
}

// issuerMismatch aviso si el NIF del certificado no es el del emisor configurado.
func (h *SettingsHandler) issuerMismatch(c *fiber.Ctx, b *infravf.CertificateBundle) []string {
	cfg, err := h.configs.Load(c.UserContext())
	if err != nil || b.SerialNumberNIF == "" || cfg.IssuerNIF == "" || b.SerialNumberNIF == cfg.IssuerNIF {
		return nil
	}
	return []string{fmt.Sprintf("el NIF del certificado (%s) no coincide con el del emisor (%s)", b.SerialNumberNIF, cfg.IssuerNIF)}
}

func certificateResponse(path string, b *infravf.CertificateBundle, r infravf.ValidationReport) dto.CertificateResponse {
	return dto.CertificateResponse{
		Path:            path,
		Subject:         b.Subject,
		Issuer:          b.Issuer,
		SerialNumberNIF: b.SerialNumberNIF,
		Fingerprint:     b.Fingerprint,
		NotBefore:       b.NotBefore,
		NotAfter:        b.NotAfter,
		Valid:           r.Valid,
		Errors:          r.Errors,
		Warnings:        r.Warnings,
	}
}
