package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecordStatus estado del registro de facturación frente a la AEAT.
type RecordStatus string

// Estados del ciclo de vida Verifactu.
const (
	RecordStatusPending   RecordStatus = "PENDING"   // creado y encadenado, no enviado
	RecordStatusSubmitted RecordStatus = "SUBMITTED" // envío en curso o sin respuesta definitiva
	RecordStatusAccepted  RecordStatus = "ACCEPTED"  // Correcto / AceptadoConErrores
	RecordStatusRejected  RecordStatus = "REJECTED"  // rechazado; admite reenvío
	RecordStatusCancelled RecordStatus = "CANCELLED" // anulado con RegistroAnulacion aceptado
)

// AllRecordStatuses en orden de ciclo de vida.
var AllRecordStatuses = []RecordStatus{
	RecordStatusPending, RecordStatusSubmitted, RecordStatusAccepted, RecordStatusRejected, RecordStatusCancelled,
}

// IsValid indica si s es un estado conocido.
func (s RecordStatus) IsValid() bool {
	for _, v := range AllRecordStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// InvoiceRecord registro de facturación encadenado (RegistroAlta).
// Los campos económicos y de cadena no cambian tras la creación.
type InvoiceRecord struct {
	ID string

	// ── Identificación ──
	IssuerNIF     string
	IssuerName    string
	InvoiceNumber string
	InvoiceDate   time.Time
	InvoiceType   string // F1, F2, R1..R5
	Description   string

	RecipientNIF  string // opcional salvo F1/R1..R4
	RecipientName string

	// ── Importes (2 decimales) ──
	BaseAmount  decimal.Decimal
	TaxRate     decimal.Decimal // porcentaje, ej. 21
	TaxAmount   decimal.Decimal
	TotalAmount decimal.Decimal

	// ── Encadenamiento ──
	ChainSeq              int64   // posición en la cadena del emisor
	PreviousHash          *string // nil solo en el primer registro del emisor
	PreviousInvoiceNumber string
	PreviousInvoiceDate   *time.Time
	CurrentHash           string // SHA-256 hex en mayúsculas
	HashInput             string // cadena exacta sobre la que se calculó la huella
	GeneratedAt           time.Time

	// ── Verificación y documento ──
	QRContent  string
	XMLContent string

	// ── Ciclo de vida ──
	Status           RecordStatus
	AEATErrorCode    string
	AEATErrorMessage string
	AEATResponse     string
	AEATCSV          string
	SubmittedAt      *time.Time

	// ── Vínculos ──
	SaleID            string
	OriginalInvoiceID string
	Rectification     *Rectification

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Rectification datos de la factura rectificada (FacturasRectificadas / ImporteRectificacion).
type Rectification struct {
	Reason        string
	Kind          string // S (sustitución) | I (diferencias)
	InvoiceNumber string
	InvoiceDate   time.Time
	BaseAmount    decimal.Decimal
	TaxAmount     decimal.Decimal
}

// HashFields campos del registro que entran en la huella.
type HashFields struct {
	IssuerNIF     string
	InvoiceNumber string
	InvoiceDate   time.Time
	InvoiceType   string
	TaxAmount     decimal.Decimal
	TotalAmount   decimal.Decimal
}

// HashFields extrae los campos que entran en la huella.
func (r *InvoiceRecord) HashFields() HashFields {
	return HashFields{
		IssuerNIF:     r.IssuerNIF,
		InvoiceNumber: r.InvoiceNumber,
		InvoiceDate:   r.InvoiceDate,
		InvoiceType:   r.InvoiceType,
		TaxAmount:     r.TaxAmount,
		TotalAmount:   r.TotalAmount,
	}
}

// ── Transiciones ──

// CanSubmit solo PENDING o REJECTED pueden (re)enviarse.
func (r *InvoiceRecord) CanSubmit() bool {
	return r.Status == RecordStatusPending || r.Status == RecordStatusRejected
}

// CanCancel solo ACCEPTED o SUBMITTED pueden anularse.
func (r *InvoiceRecord) CanCancel() bool {
	return r.Status == RecordStatusAccepted || r.Status == RecordStatusSubmitted
}

// CanRectify solo se rectifican registros aceptados por la AEAT.
func (r *InvoiceRecord) CanRectify() bool {
	return r.Status == RecordStatusAccepted
}

// IsCancelled indica si el registro está fuera de la cadena activa.
func (r *InvoiceRecord) IsCancelled() bool {
	return r.Status == RecordStatusCancelled
}

// HashSuffix últimos n caracteres de la huella (para el ticket).
func (r *InvoiceRecord) HashSuffix(n int) string {
	if n <= 0 || len(r.CurrentHash) <= n {
		return r.CurrentHash
	}
	return r.CurrentHash[len(r.CurrentHash)-n:]
}

// SubmissionOutcome resultado de un envío que se persiste junto al cambio de estado.
type SubmissionOutcome struct {
	ErrorCode    string
	ErrorMessage string
	RawResponse  string
	CSV          string
	SubmittedAt  time.Time
}

// RecordFilter criterios de listado.
type RecordFilter struct {
	IssuerNIF string
	Status    RecordStatus // vacío = todos
	Limit     int
	Offset    int
}

// RecordStats recuento por estado.
type RecordStats struct {
	Total          int
	ByStatus       map[RecordStatus]int
	AcceptedAmount decimal.Decimal
}
