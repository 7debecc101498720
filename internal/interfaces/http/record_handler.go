package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/verifactu-api/internal/application/dto"
	appvf "github.com/jhoicas/verifactu-api/internal/application/verifactu"
	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	infravf "github.com/jhoicas/verifactu-api/internal/infrastructure/verifactu"
	"github.com/jhoicas/verifactu-api/pkg/logger"
)

const (
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	dateLayout      = "2006-01-02"
)

// RecordHandler maneja las peticiones HTTP de registros Verifactu (protegido).
type RecordHandler struct {
	svc *appvf.RecordService
	log *logger.Logger
}

// NewRecordHandler construye el handler.
func NewRecordHandler(svc *appvf.RecordService, log *logger.Logger) *RecordHandler {
	return &RecordHandler{svc: svc, log: log}
}

// CreateFromSale godoc
// @Summary      Registrar venta del TPV
// @Description  registra una venta finalizada del TPV como factura simplificada.
// @Tags         records
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body        body     dto.CreateFromSaleRequest  true  "sale_id, total con IVA, sale_date opcional"
// @Success      201  {object}  dto.RecordResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Failure      422  {object}  dto.ErrorResponse
// @Router       /api/verifactu/records/from-sale [post]
func (h *RecordHandler) CreateFromSale(c *fiber.Ctx) error {
	var in dto.CreateFromSaleRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	if strings.TrimSpace(in.SaleID) == "" && strings.TrimSpace(in.InvoiceNumber) == "" {
		return badRequest(c, "VALIDATION", "sale_id o invoice_number es requerido")
	}
	date, err := parseDate(in.SaleDate)
	if err != nil {
		return badRequest(c, "VALIDATION", "sale_date debe tener formato YYYY-MM-DD")
	}
	rec, err := h.svc.CreateFromSale(c.UserContext(), appvf.SaleInput{
		SaleID:        in.SaleID,
		InvoiceNumber: in.InvoiceNumber,
		SaleDate:      date,
		Total:         in.Total,
		TaxRate:       in.TaxRate,
		CustomerName:  in.CustomerName,
		Description:   in.Description,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.ToRecordResponse(rec, false))
}

// Create godoc
// @Summary      Crear registro de facturación
// @Description  crea un registro a partir de una factura ya desglosada.
// @Tags         records
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body        body     dto.CreateRecordRequest    true  "factura desglosada"
// @Success      201  {object}  dto.RecordResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Failure      422  {object}  dto.ErrorResponse
// @Router       /api/verifactu/records [post]
func (h *RecordHandler) Create(c *fiber.Ctx) error {
	var in dto.CreateRecordRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	date, err := parseDate(in.InvoiceDate)
	if err != nil || date.IsZero() {
		return badRequest(c, "VALIDATION", "invoice_date es requerido con formato YYYY-MM-DD")
	}
	rec, err := h.svc.CreateRecord(c.UserContext(), appvf.NewInvoice{
		InvoiceNumber: in.InvoiceNumber,
		InvoiceDate:   date,
		InvoiceType:   strings.ToUpper(in.InvoiceType),
		Description:   in.Description,
		RecipientNIF:  in.RecipientNIF,
		RecipientName: in.RecipientName,
		BaseAmount:    in.BaseAmount,
		TaxRate:       in.TaxRate,
		TaxAmount:     in.TaxAmount,
	}, in.SaleID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.ToRecordResponse(rec, false))
}

// List godoc
// @Summary      Listar registros
// @Description  listado paginado, más recientes primero.
// @Tags         records
// @Security     Bearer
// @Produce      json
// @Param        status      query    string                     false "PENDING, SUBMITTED, ACCEPTED, REJECTED o CANCELLED"
// @Param        limit       query    int                        false "máximo 100"
// @Param        offset      query    int                        false "desplazamiento"
// @Success      200  {object}  dto.RecordListResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Router       /api/verifactu/records [get]
func (h *RecordHandler) List(c *fiber.Ctx) error {
	page := dto.PageRequest{Limit: c.QueryInt("limit", 20), Offset: c.QueryInt("offset", 0)}
	page.DefaultPage()
	records, total, err := h.svc.ListRecords(c.UserContext(), entity.RecordFilter{
		Status: entity.RecordStatus(strings.ToUpper(c.Query("status"))),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.ToRecordList(records, page, total))
}

// Export godoc
// @Summary      Exportar registros a Excel
// @Description  hoja de cálculo con todos los registros del filtro.
// @Tags         records
// @Security     Bearer
// @Produce      application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param        status      query    string                     false "filtro de estado"
// @Success      200  {file}  file
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Router       /api/verifactu/records/export [get]
func (h *RecordHandler) Export(c *fiber.Ctx) error {
	out, err := h.svc.ExportRecords(c.UserContext(), entity.RecordFilter{
		Status: entity.RecordStatus(strings.ToUpper(c.Query("status"))),
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	c.Set(fiber.HeaderContentType, contentTypeXLSX)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="verifactu_registros.xlsx"`)
	return c.Send(out)
}

// GetByID godoc
// @Summary      Obtener registro con su XML
// @Description  detalle del registro con su documento XML.
// @Tags         records
// @Security     Bearer
// @Produce      json
// @Param        id          path     string                     true  "ID del registro"
// @Success      200  {object}  dto.RecordResponse
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/verifactu/records/{id} [get]
func (h *RecordHandler) GetByID(c *fiber.Ctx) error {
	rec, err := h.svc.GetRecord(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.ToRecordResponse(rec, true))
}

// Submit godoc
// @Summary      Enviar registro a la AEAT
// @Description  envía (o reenvía) el registro a la AEAT. Un rechazo devuelve 200 con el registro REJECTED.
// @Tags         records
// @Security     Bearer
// @Produce      json
// @Param        id          path     string                     true  "ID del registro"
// @Success      200  {object}  dto.RecordResponse
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Failure      424  {object}  dto.ErrorResponse
// @Failure      502  {object}  dto.ErrorResponse
// @Router       /api/verifactu/records/{id}/submit [post]
func (h *RecordHandler) Submit(c *fiber.Ctx) error {
	rec, err := h.svc.SubmitToAEAT(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondErrorWithRecord(c, h.log, err, rec)
	}
	return c.JSON(dto.ToRecordResponse(rec, false))
}

// Cancel godoc
// @Summary      Anular registro
// @Description  anula un registro aceptado o enviado.
// @Tags         records
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id          path     string                     true  "ID del registro"
// @Param        body        body     dto.CancelRecordRequest    true  "motivo"
// @Success      200  {object}  dto.RecordResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Failure      422  {object}  dto.ErrorResponse
// @Failure      502  {object}  dto.ErrorResponse
// @Router       /api/verifactu/records/{id}/cancel [post]
func (h *RecordHandler) Cancel(c *fiber.Ctx) error {
	var in dto.CancelRecordRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	rec, err := h.svc.CancelRecord(c.UserContext(), c.Params("id"), in.Reason)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.ToRecordResponse(rec, false))
}

// Rectify godoc
// @Summary      Crear rectificativa por sustitución
// @Description  crea una rectificativa por sustitución.
// @Tags         records
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id          path     string                     true  "ID del registro original"
// @Param        body        body     dto.RectifyRecordRequest   true  "motivo y nuevo total opcional"
// @Success      201  {object}  dto.RecordResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Failure      422  {object}  dto.ErrorResponse
// @Router       /api/verifactu/records/{id}/rectify [post]
func (h *RecordHandler) Rectify(c *fiber.Ctx) error {
	var in dto.RectifyRecordRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	rec, err := h.svc.CreateRectification(c.UserContext(), c.Params("id"), in.Reason, in.NewAmount)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.ToRecordResponse(rec, false))
}

// QR godoc
// @Summary      Código QR de cotejo
// @Description  imagen del código QR de cotejo.
// @Tags         records
// @Security     Bearer
// @Produce      png
// @Param        id          path     string                     true  "ID del registro"
// @Param        format      query    string                     false "png o svg"
// @Param        width_px    query    int                        false "ancho en píxeles"
// @Success      200  {file}  file
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/verifactu/records/{id}/qr [get]
func (h *RecordHandler) QR(c *fiber.Ctx) error {
	opts := infravf.DefaultQROptions()
	if px := c.QueryInt("width_px", 0); px > 0 {
		opts.WidthPx = px
	}
	img, contentType, err := h.svc.QRCode(c.UserContext(), c.Params("id"), c.Query("format", "png"), opts)
	if err != nil {
		return respondError(c, h.log, err)
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderCacheControl, "private, max-age=3600")
	return c.Send(img)
}

// Receipt godoc
// @Summary      Justificante PDF
// @Description  justificante PDF.
// @Tags         records
// @Security     Bearer
// @Produce      application/pdf
// @Param        id          path     string                     true  "ID del registro"
// @Success      200  {file}  file
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/verifactu/records/{id}/receipt [get]
func (h *RecordHandler) Receipt(c *fiber.Ctx) error {
	pdf, filename, err := h.svc.Receipt(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `inline; filename="`+filename+`"`)
	return c.Send(pdf)
}

// ReceiptInfo godoc
// @Summary      Datos para el ticket
// @Description  datos para imprimir en el ticket del TPV.
// @Tags         records
// @Security     Bearer
// @Produce      json
// @Param        id          path     string                     true  "ID del registro"
// @Success      200  {object}  dto.ReceiptInfoResponse
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/verifactu/records/{id}/receipt-info [get]
func (h *RecordHandler) ReceiptInfo(c *fiber.Ctx) error {
	info, err := h.svc.ReceiptInfo(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.ReceiptInfoResponse{
		RecordID:      info.RecordID,
		InvoiceNumber: info.InvoiceNumber,
		Status:        string(info.Status),
		Hash:          info.Hash,
		HashSuffix:    info.HashSuffix,
		QRURL:         info.QRURL,
		ErrorText:     info.ErrorText,
	})
}

// Audit godoc
// @Summary      Auditar registro
// @Description  recalcula la huella y compara el XML regenerado con el guardado.
// @Tags         records
// @Security     Bearer
// @Produce      json
// @Param        id          path     string                     true  "ID del registro"
// @Success      200  {object}  dto.AuditResponse
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/verifactu/records/{id}/audit [get]
func (h *RecordHandler) Audit(c *fiber.Ctx) error {
	report, err := h.svc.AuditRecord(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	problems := report.Problems
	if problems == nil {
		problems = []string{}
	}
	return c.JSON(dto.AuditResponse{
		RecordID:        report.RecordID,
		HashValid:       report.HashValid,
		DocumentMatches: report.DocumentMatches,
		Problems:        problems,
	})
}

// Stats godoc
// @Summary      Estadísticas por estado
// @Description  recuento por estado del emisor configurado.
// @Tags         records
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  dto.StatsResponse
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Router       /api/verifactu/stats [get]
func (h *RecordHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.svc.Statistics(c.UserContext())
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.ToStatsResponse(stats))
}

// VerifyChain godoc
// @Summary      Verificar cadena de huellas
// @Description  recorre la cadena del emisor y devuelve las inconsistencias.
// @Tags         records
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  dto.ChainReportResponse
// @Failure      401  {object}  dto.ErrorResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Router       /api/verifactu/chain/verify [get]
func (h *RecordHandler) VerifyChain(c *fiber.Ctx) error {
	report, err := h.svc.VerifyChain(c.UserContext())
	if err != nil {
		return respondError(c, h.log, err)
	}
	out := dto.ChainReportResponse{Valid: report.Valid, Checked: report.Checked, Findings: []dto.ChainFindingResponse{}}
	for _, f := range report.Findings {
		out.Findings = append(out.Findings, dto.ChainFindingResponse{RecordID: f.RecordID, InvoiceNumber: f.InvoiceNumber, Problem: f.Problem})
	}
	return c.JSON(out)
}

// parseDate YYYY-MM-DD en UTC; vacío devuelve la fecha cero.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(dateLayout, s, time.UTC)
}
