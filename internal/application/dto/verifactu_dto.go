package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/verifactu-api/internal/domain/entity"
)

const dateLayout = "2006-01-02"

// ── Peticiones ──

// CreateFromSaleRequest body para POST /api/verifactu/records/from-sale.
type CreateFromSaleRequest struct {
	SaleID        string           `json:"sale_id"`
	InvoiceNumber string           `json:"invoice_number,omitempty"` // vacío = sale_id
	SaleDate      string           `json:"sale_date,omitempty"`      // YYYY-MM-DD; vacío = hoy
	Total         decimal.Decimal  `json:"total"`                    // con impuestos
	TaxRate       *decimal.Decimal `json:"tax_rate,omitempty"`       // vacío = tipo por defecto
	CustomerName  string           `json:"customer_name,omitempty"`
	Description   string           `json:"description,omitempty"`
}

// CreateRecordRequest body para POST /api/verifactu/records.
type CreateRecordRequest struct {
	InvoiceNumber string           `json:"invoice_number"`
	InvoiceDate   string           `json:"invoice_date"` // YYYY-MM-DD
	InvoiceType   string           `json:"invoice_type,omitempty"`
	Description   string           `json:"description,omitempty"`
	RecipientNIF  string           `json:"recipient_nif,omitempty"`
	RecipientName string           `json:"recipient_name,omitempty"`
	BaseAmount    decimal.Decimal  `json:"base_amount"`
	TaxRate       decimal.Decimal  `json:"tax_rate"`
	TaxAmount     *decimal.Decimal `json:"tax_amount,omitempty"`
	SaleID        string           `json:"sale_id,omitempty"`
}

// CancelRecordRequest body para POST /api/verifactu/records/:id/cancel.
type CancelRecordRequest struct {
	Reason string `json:"reason"`
}

// RectifyRecordRequest body para POST /api/verifactu/records/:id/rectify.
type RectifyRecordRequest struct {
	Reason    string           `json:"reason"`
	NewAmount *decimal.Decimal `json:"new_amount,omitempty"` // total con impuestos; vacío = sin cambio de importe
}

// UpdateSettingsRequest body para PUT /api/verifactu/settings. Valor vacío = volver al valor por defecto.
type UpdateSettingsRequest map[string]string

// ── Respuestas ──

// RectificationResponse datos de la factura rectificada.
type RectificationResponse struct {
	Reason        string          `json:"reason"`
	Kind          string          `json:"kind"`
	InvoiceNumber string          `json:"invoice_number"`
	InvoiceDate   string          `json:"invoice_date"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
}

// RecordResponse registro de facturación en respuestas.
type RecordResponse struct {
	ID            string `json:"id"`
	IssuerNIF     string `json:"issuer_nif"`
	IssuerName    string `json:"issuer_name"`
	InvoiceNumber string `json:"invoice_number"`
	InvoiceDate   string `json:"invoice_date"`
	InvoiceType   string `json:"invoice_type"`
	Description   string `json:"description,omitempty"`
	RecipientNIF  string `json:"recipient_nif,omitempty"`
	RecipientName string `json:"recipient_name,omitempty"`

	BaseAmount  decimal.Decimal `json:"base_amount"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	TotalAmount decimal.Decimal `json:"total_amount"`

	ChainSeq     int64   `json:"chain_seq"`
	PreviousHash *string `json:"previous_hash"`
	CurrentHash  string  `json:"current_hash"`
	GeneratedAt  string  `json:"generated_at"`
	QRURL        string  `json:"qr_url"`
	XMLContent   string  `json:"xml_content,omitempty"`

	Status           string     `json:"status"`
	AEATCSV          string     `json:"aeat_csv,omitempty"`
	AEATErrorCode    string     `json:"aeat_error_code,omitempty"`
	AEATErrorMessage string     `json:"aeat_error_message,omitempty"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`

	SaleID            string                 `json:"sale_id,omitempty"`
	OriginalInvoiceID string                 `json:"original_invoice_id,omitempty"`
	Rectification     *RectificationResponse `json:"rectification,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordListResponse listado paginado.
type RecordListResponse struct {
	Items []RecordResponse `json:"items"`
	Page  PageResponse     `json:"page"`
}

// ToRecordResponse convierte el registro; withXML incluye el documento SOAP.
func ToRecordResponse(r *entity.InvoiceRecord, withXML bool) RecordResponse {
	out := RecordResponse{
		ID:                r.ID,
		IssuerNIF:         r.IssuerNIF,
		IssuerName:        r.IssuerName,
		InvoiceNumber:     r.InvoiceNumber,
		InvoiceDate:       r.InvoiceDate.Format(dateLayout),
		InvoiceType:       r.InvoiceType,
		Description:       r.Description,
		RecipientNIF:      r.RecipientNIF,
		RecipientName:     r.RecipientName,
		BaseAmount:        r.BaseAmount,
		TaxRate:           r.TaxRate,
		TaxAmount:         r.TaxAmount,
		TotalAmount:       r.TotalAmount,
		ChainSeq:          r.ChainSeq,
		PreviousHash:      r.PreviousHash,
		CurrentHash:       r.CurrentHash,
		GeneratedAt:       r.GeneratedAt.UTC().Format(time.RFC3339),
		QRURL:             r.QRContent,
		Status:            string(r.Status),
		AEATCSV:           r.AEATCSV,
		AEATErrorCode:     r.AEATErrorCode,
		AEATErrorMessage:  r.AEATErrorMessage,
		SubmittedAt:       r.SubmittedAt,
		SaleID:            r.SaleID,
		OriginalInvoiceID: r.OriginalInvoiceID,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if withXML {
		out.XMLContent = r.XMLContent
	}
	if rc := r.Rectification; rc != nil {
		out.Rectification = &RectificationResponse{
			Reason:        rc.Reason,
			Kind:          rc.Kind,
			InvoiceNumber: rc.InvoiceNumber,
			InvoiceDate:   rc.InvoiceDate.Format(dateLayout),
			BaseAmount:    rc.BaseAmount,
			TaxAmount:     rc.TaxAmount,
		}
	}
	return out
}

// ToRecordList convierte un listado.
func ToRecordList(records []*entity.InvoiceRecord, page PageRequest, total int) RecordListResponse {
	items := make([]RecordResponse, 0, len(records))
	for _, r := range records {
		items = append(items, ToRecordResponse(r, false))
	}
	return RecordListResponse{Items: items, Page: PageResponse{Limit: page.Limit, Offset: page.Offset, Total: total}}
}

// StatsResponse recuento por estado.
type StatsResponse struct {
	Total          int             `json:"total"`
	ByStatus       map[string]int  `json:"by_status"`
	AcceptedAmount decimal.Decimal `json:"accepted_amount"`
}

// ToStatsResponse convierte las estadísticas.
func ToStatsResponse(s *entity.RecordStats) StatsResponse {
	out := StatsResponse{ByStatus: make(map[string]int, len(s.ByStatus)), Total: s.Total, AcceptedAmount: s.AcceptedAmount}
	for k, v := range s.ByStatus {
		out.ByStatus[string(k)] = v
	}
	return out
}

// ChainFindingResponse inconsistencia de la cadena.
type ChainFindingResponse struct {
	RecordID      string `json:"record_id"`
	InvoiceNumber string `json:"invoice_number"`
	Problem       string `json:"problem"`
}

// ChainReportResponse resultado de GET /api/verifactu/chain/verify.
type ChainReportResponse struct {
	Valid    bool                   `json:"valid"`
	Checked  int                    `json:"checked"`
	Findings []ChainFindingResponse `json:"findings"`
}

// AuditResponse resultado de GET /api/verifactu/records/:id/audit.
type AuditResponse struct {
	RecordID        string   `json:"record_id"`
	HashValid       bool     `json:"hash_valid"`
	DocumentMatches bool     `json:"document_matches"`
	Problems        []string `json:"problems"`
}

// ReceiptInfoResponse datos de impresión en ticket.
type ReceiptInfoResponse struct {
	RecordID      string `json:"record_id"`
	InvoiceNumber string `json:"invoice_number"`
	Status        string `json:"status"`
	Hash          string `json:"hash"`
	HashSuffix    string `json:"hash_suffix"`
	QRURL         string `json:"qr_url"`
	ErrorText     string `json:"error_text,omitempty"`
}

// CertificateResponse metadatos del certificado configurado (nunca la clave).
type CertificateResponse struct {
	Path            string    `json:"path"`
	Subject         string    `json:"subject"`
	Issuer          string    `json:"issuer"`
	SerialNumberNIF string    `json:"serial_number_nif,omitempty"`
	Fingerprint     string    `json:"fingerprint"`
	NotBefore       time.Time `json:"not_before"`
	NotAfter        time.Time `json:"not_after"`
	Valid           bool      `json:"valid"`
	Errors          []string  `json:"errors,omitempty"`
	Warnings        []string  `json:"warnings,omitempty"`
}

// ConnectionTestResponse resultado de POST /api/verifactu/connection/test.
type ConnectionTestResponse struct {
	Success          bool      `json:"success"`
	CertificateValid bool      `json:"certificate_valid"`
	ServerReachable  bool      `json:"server_reachable"`
	Endpoint         string    `json:"endpoint,omitempty"`
	Message          string    `json:"message"`
	Warnings         []string  `json:"warnings,omitempty"`
	CheckedAt        time.Time `json:"checked_at"`
}
