package verifactu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/verifactu-api/internal/domain"
	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	"github.com/jhoicas/verifactu-api/internal/domain/repository"
	domainvf "github.com/jhoicas/verifactu-api/internal/domain/verifactu"
	infravf "github.com/jhoicas/verifactu-api/internal/infrastructure/verifactu"
	"github.com/jhoicas/verifactu-api/pkg/logger"
	pkgvf "github.com/jhoicas/verifactu-api/pkg/verifactu"
)

const (
	maxAppendAttempts  = 5
	asyncSubmitTimeout = 60 * time.Second
)

// RecordService orquesta el ciclo de vida de los registros de facturación:
//
//	venta → registro encadenado (PENDING) → envío (SUBMITTED) → ACCEPTED | REJECTED
//	ACCEPTED | SUBMITTED → anulación (CANCELLED)
//
// La sección crítica (leer cola, calcular huella, insertar) se serializa por emisor con
// un mutex en proceso y, en el almacén, con AppendIfTailMatches. Las llamadas de red
// nunca se hacen con el lock tomado.
type RecordService struct {
	store     repository.ChainStore
	configs   ConfigProvider
	builder   *infravf.DocumentBuilder
	transport infravf.AEATTransport
	receipts  ReceiptRenderer
	exporter  RecordExporter

	locks    emitterLocks
	dispatch Dispatcher
	now      func() time.Time
	log      *logger.Logger
}

// ServiceOption configura el RecordService.
type ServiceOption func(*RecordService)

// WithDispatcher sustituye el lanzador de envíos automáticos.
func WithDispatcher(d Dispatcher) ServiceOption {
	return func(s *RecordService) { s.dispatch = d }
}

// WithServiceClock reloj de la marca FechaHoraHusoGenRegistro.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *RecordService) { s.now = now }
}

// WithServiceLogger logger del servicio.
func WithServiceLogger(l *logger.Logger) ServiceOption {
	return func(s *RecordService) { s.log = l }
}

// WithReceiptRenderer generador de justificantes PDF.
func WithReceiptRenderer(r ReceiptRenderer) ServiceOption {
	return func(s *RecordService) { s.receipts = r }
}

// WithExporter exportador de listados.
func WithExporter(e RecordExporter) ServiceOption {
	return func(s *RecordService) { s.exporter = e }
}

// NewRecordService construye el servicio con sus dependencias.
func NewRecordService(
	store repository.ChainStore,
	configs ConfigProvider,
	builder *infravf.DocumentBuilder,
	transport infravf.AEATTransport,
	opts ...ServiceOption,
) *RecordService {
	s := &RecordService{
		store:     store,
		configs:   configs,
		builder:   builder,
		transport: transport,
		dispatch:  goDispatcher,
		now:       time.Now,
		log:       logger.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ── Entradas ──────────────────────────────────────────────────────────────────

// SaleInput venta finalizada del TPV.
type SaleInput struct {
	SaleID        string
	InvoiceNumber string // vacío = SaleID
	SaleDate      time.Time
	Total         decimal.Decimal  // importe con impuestos
	TaxRate       *decimal.Decimal // nil = tipo por defecto de la configuración
	CustomerName  string
	Description   string
}

// NewInvoice datos de un registro a crear.
type NewInvoice struct {
	InvoiceNumber string
	InvoiceDate   time.Time
	InvoiceType   string // vacío = F2
	Description   string
	RecipientNIF  string
	RecipientName string
	BaseAmount    decimal.Decimal
	TaxRate       decimal.Decimal
	TaxAmount     *decimal.Decimal // nil = round(base*tipo/100, 2)

	OriginalInvoiceID string
	Rectification     *entity.Rectification

	// nextNumber deriva InvoiceNumber bajo el bloqueo del emisor.
	nextNumber func(ctx context.Context) (string, error)
}

// ── Creación ──────────────────────────────────────────────────────────────────

// CreateFromSale desglosa el total de la venta al tipo configurado y crea un registro F2.
// Con AutoSubmit el envío se despacha en segundo plano.
func (s *RecordService) CreateFromSale(ctx context.Context, sale SaleInput) (*entity.InvoiceRecord, error) {
	cfg, err := s.loadEnabledConfig(ctx)
	if err != nil {
		return nil, err
	}
	if !sale.Total.IsPositive() {
		return nil, domainvf.NewValidationError("el total de la venta debe ser positivo")
	}
	rate := cfg.DefaultTaxRate
	if sale.TaxRate != nil {
		rate = *sale.TaxRate
	}
	base, tax := domainvf.SplitGross(sale.Total, rate)

	number := strings.TrimSpace(sale.InvoiceNumber)
	if number == "" {
		number = strings.TrimSpace(sale.SaleID)
	}
	date := sale.SaleDate
	if date.IsZero() {
		date = s.now()
	}

	rec, err := s.create(ctx, cfg, NewInvoice{
		InvoiceNumber: number,
		InvoiceDate:   date,
		InvoiceType:   pkgvf.InvoiceTypeSimplified,
		Description:   sale.Description,
		RecipientName: sale.CustomerName,
		BaseAmount:    base,
		TaxRate:       rate,
		TaxAmount:     &tax,
	}, sale.SaleID)
	if err != nil {
		return nil, err
	}

	if cfg.AutoSubmit {
		id := rec.ID
		s.dispatch(func() {
			ctx, cancel := context.WithTimeout(context.Background(), asyncSubmitTimeout)
			defer cancel()
			if _, err := s.SubmitToAEAT(ctx, id); err != nil {
				s.log.Warn().Err(err).Str("record_id", id).Msg("envío automático fallido")
			}
		})
	}
	return rec, nil
}

// CreateRecord crea un registro PENDING encadenado a la cola actual del emisor.
func (s *RecordService) CreateRecord(ctx context.Context, in NewInvoice, saleRef string) (*entity.InvoiceRecord, error) {
	cfg, err := s.loadEnabledConfig(ctx)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, cfg, in, saleRef)
}

func (s *RecordService) loadEnabledConfig(ctx context.Context) (*entity.SubmissionConfig, error) {
	cfg, err := s.configs.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, domain.ErrFeatureDisabled
	}
	if _, err := pkgvf.ValidateNIF(cfg.IssuerNIF); err != nil {
		return nil, domainvf.WrapValidationError(err, "NIF del emisor configurado")
	}
	if strings.TrimSpace(cfg.IssuerName) == "" {
		return nil, domainvf.NewValidationError("falta la razón social del emisor en la configuración")
	}
	return cfg, nil
}

func (s *RecordService) create(ctx context.Context, cfg *entity.SubmissionConfig, in NewInvoice, saleRef string) (*entity.InvoiceRecord, error) {
	rec := s.assemble(cfg, in, saleRef)

	unlock := s.locks.lock(rec.IssuerNIF)
	defer unlock()

	if err := s.number(ctx, rec, in); err != nil {
		return nil, err
	}
	if err := domainvf.ValidateRecord(rec); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		tail, err := s.store.Tail(ctx, rec.IssuerNIF)
		if err != nil {
			return nil, fmt.Errorf("verifactu: leer cola de la cadena: %w", err)
		}
		if err := s.seal(rec, tail, cfg); err != nil {
			return nil, err
		}

		err = s.store.AppendIfTailMatches(ctx, rec.PreviousHash, rec)
		if errors.Is(err, domain.ErrChainConflict) {
			// Otro proceso insertó entre la lectura y la escritura.
			s.log.Warn().Str("issuer_nif", rec.IssuerNIF).Int("attempt", attempt).Msg("cola de la cadena cambiada, reintentando")
			continue
		}
		if errors.Is(err, domain.ErrConflict) && in.nextNumber != nil {
			// Otro proceso tomó el mismo número derivado.
			s.log.Warn().Str("invoice_number", rec.InvoiceNumber).Int("attempt", attempt).Msg("número ocupado, renumerando")
			if err := s.number(ctx, rec, in); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("verifactu: guardar registro %s: %w", rec.InvoiceNumber, err)
		}

		s.log.Info().
			Str("record_id", rec.ID).
			Str("invoice_number", rec.InvoiceNumber).
			Int64("chain_seq", rec.ChainSeq).
			Str("hash", rec.HashSuffix(8)).
			Msg("registro creado")
		return rec, nil
	}
	return nil, fmt.Errorf("%w: %d intentos agotados para %s", domain.ErrChainConflict, maxAppendAttempts, rec.IssuerNIF)
}

// number aplica in.nextNumber, si lo hay, al registro.
func (s *RecordService) number(ctx context.Context, rec *entity.InvoiceRecord, in NewInvoice) error {
	if in.nextNumber == nil {
		return nil
	}
	n, err := in.nextNumber(ctx)
	if err != nil {
		return err
	}
	rec.InvoiceNumber = n
	return nil
}

// assemble construye el registro sin datos de cadena.
func (s *RecordService) assemble(cfg *entity.SubmissionConfig, in NewInvoice, saleRef string) *entity.InvoiceRecord {
	invoiceType := in.InvoiceType
	if invoiceType == "" {
		invoiceType = pkgvf.InvoiceTypeSimplified
	}
	base := in.BaseAmount.Round(2)
	tax := domainvf.ComputeTax(base, in.TaxRate)
	if in.TaxAmount != nil {
		tax = in.TaxAmount.Round(2)
	}
	d := in.InvoiceDate
	return &entity.InvoiceRecord{
		ID:                uuid.New().String(),
		IssuerNIF:         cfg.IssuerNIF,
		IssuerName:        cfg.IssuerName,
		InvoiceNumber:     strings.TrimSpace(in.InvoiceNumber),
		InvoiceDate:       time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC),
		InvoiceType:       invoiceType,
		Description:       in.Description,
		RecipientNIF:      pkgvf.NormalizeNIF(in.RecipientNIF),
		RecipientName:     strings.TrimSpace(in.RecipientName),
		BaseAmount:        base,
		TaxRate:           in.TaxRate,
		TaxAmount:         tax,
		TotalAmount:       base.Add(tax),
		Status:            entity.RecordStatusPending,
		SaleID:            saleRef,
		OriginalInvoiceID: in.OriginalInvoiceID,
		Rectification:     in.Rectification,
	}
}

// seal encadena rec a tail: huella, QR y documento XML validado.
func (s *RecordService) seal(rec *entity.InvoiceRecord, tail *entity.InvoiceRecord, cfg *entity.SubmissionConfig) error {
	rec.PreviousHash = nil
	rec.PreviousInvoiceNumber = ""
	rec.PreviousInvoiceDate = nil
	if tail != nil {
		h := tail.CurrentHash
		d := tail.InvoiceDate
		rec.PreviousHash = &h
		rec.PreviousInvoiceNumber = tail.InvoiceNumber
		rec.PreviousInvoiceDate = &d
	}
	rec.GeneratedAt = s.now().UTC().Truncate(time.Second)
	rec.HashInput = domainvf.BuildHashInput(rec.HashFields(), rec.PreviousHash)
	rec.CurrentHash = domainvf.HashString(rec.HashInput)
	rec.QRContent = infravf.BuildVerificationURL(rec, cfg.Environment)

	doc, err := s.builder.BuildSubmissionXML(rec, rec.CurrentHash, cfg)
	if err != nil {
		return err
	}
	if err := infravf.ValidateStructure(doc).Err(); err != nil {
		return err
	}
	rec.XMLContent = string(doc)
	return nil
}

// ── Envío ─────────────────────────────────────────────────────────────────────

// SubmitToAEAT envía (o reenvía) el XML ya generado. Solo desde PENDING o REJECTED.
//
// Resultado:
//   - respuesta correcta → ACCEPTED con CSV.
//   - rechazo o Fault → REJECTED con código y mensaje; el error devuelto es nil.
//   - certificado, transporte o respuesta ilegible → vuelve al estado previo con el error
//     anotado y se devuelve el registro junto al error.
func (s *RecordService) SubmitToAEAT(ctx context.Context, id string) (*entity.InvoiceRecord, error) {
	rec, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.CanSubmit() {
		return rec, fmt.Errorf("%w: no se puede enviar un registro en estado %s", domain.ErrIllegalTransition, rec.Status)
	}
	cfg, err := s.loadEnabledConfig(ctx)
	if err != nil {
		return rec, err
	}
	prior := rec.Status

	if err := s.store.TransitionStatus(ctx, id, []entity.RecordStatus{prior}, entity.RecordStatusSubmitted, nil); err != nil {
		return rec, fmt.Errorf("verifactu: marcar envío de %s: %w", rec.InvoiceNumber, err)
	}
	log := s.log.With().Str("record_id", id).Str("invoice_number", rec.InvoiceNumber).Logger()
	log.Info().Str("from", string(prior)).Msg("enviando registro a la AEAT")

	resp, sendErr := s.transport.Submit(ctx, []byte(rec.XMLContent), cfg)
	at := s.now()
	if sendErr != nil {
		outcome := &entity.SubmissionOutcome{
			ErrorCode:    string(domainvf.KindOf(sendErr)),
			ErrorMessage: sendErr.Error(),
			SubmittedAt:  at,
		}
		if err := s.store.TransitionStatus(context.WithoutCancel(ctx), id,
			[]entity.RecordStatus{entity.RecordStatusSubmitted}, prior, outcome); err != nil {
			log.Error().Err(err).Msg("no se pudo restaurar el estado tras el fallo de envío")
		}
		log.Warn().Err(sendErr).Str("kind", string(domainvf.KindOf(sendErr))).Msg("envío fallido, estado restaurado")
		return s.refetch(ctx, id, rec), sendErr
	}

	next := entity.RecordStatusRejected
	if resp.Success {
		next = entity.RecordStatusAccepted
	}
	outcome := &entity.SubmissionOutcome{
		ErrorCode:    resp.ErrorCode,
		ErrorMessage: resp.ErrorMessage,
		RawResponse:  resp.RawResponse,
		CSV:          resp.CSV,
		SubmittedAt:  at,
	}
	if err := s.store.TransitionStatus(context.WithoutCancel(ctx), id,
		[]entity.RecordStatus{entity.RecordStatusSubmitted}, next, outcome); err != nil {
		return rec, fmt.Errorf("verifactu: guardar respuesta de %s: %w", rec.InvoiceNumber, err)
	}

	ev := log.Info()
	if !resp.Success {
		ev = log.Warn().Str("aeat_code", resp.ErrorCode).Str("aeat_message", resp.ErrorMessage)
	}
	ev.Str("status", string(next)).Str("aeat_status", resp.Status).Msg("respuesta AEAT registrada")
	return s.refetch(ctx, id, rec), nil
}

// CancelRecord envía un RegistroAnulacion. Solo con respuesta correcta pasa a CANCELLED;
// cualquier fallo deja el estado anterior intacto.
func (s *RecordService) CancelRecord(ctx context.Context, id, reason string) (*entity.InvoiceRecord, error) {
	rec, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.CanCancel() {
		return rec, fmt.Errorf("%w: no se puede anular un registro en estado %s", domain.ErrIllegalTransition, rec.Status)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return rec, domainvf.NewValidationError("el motivo de anulación es obligatorio")
	}
	cfg, err := s.loadEnabledConfig(ctx)
	if err != nil {
		return rec, err
	}

	doc, err := s.builder.BuildCancellationXML(infravf.CancellationRequest{
		IssuerNIF:     rec.IssuerNIF,
		InvoiceNumber: rec.InvoiceNumber,
		InvoiceDate:   rec.InvoiceDate,
		Reason:        reason,
		GeneratedAt:   s.now().UTC().Truncate(time.Second),
	}, cfg)
	if err != nil {
		return rec, err
	}
	if err := infravf.ValidateStructure(doc).Err(); err != nil {
		return rec, err
	}

	log := s.log.With().Str("record_id", id).Str("invoice_number", rec.InvoiceNumber).Logger()
	resp, err := s.transport.Cancel(ctx, doc, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("anulación no enviada")
		return rec, err
	}
	if !resp.Success {
		log.Warn().Str("aeat_code", resp.ErrorCode).Str("aeat_message", resp.ErrorMessage).Msg("anulación rechazada")
		return rec, domainvf.NewRejectionError(resp.ErrorCode, resp.ErrorMessage)
	}

	// Los campos de error quedan vacíos: solo recogen errores de la AEAT.
	outcome := &entity.SubmissionOutcome{
		RawResponse: resp.RawResponse,
		CSV:         resp.CSV,
		SubmittedAt: s.now(),
	}
	if err := s.store.TransitionStatus(context.WithoutCancel(ctx), id,
		[]entity.RecordStatus{rec.Status}, entity.RecordStatusCancelled, outcome); err != nil {
		return rec, fmt.Errorf("verifactu: marcar anulación de %s: %w", rec.InvoiceNumber, err)
	}
	log.Info().Str("reason", reason).Msg("registro anulado")
	return s.refetch(ctx, id, rec), nil
}

// ── Rectificativas ────────────────────────────────────────────────────────────

// RectificationCode tipo de rectificativa: simplificadas → R5; importe cambiado → R1; resto R4.
func RectificationCode(originalType string, amountChanged bool) string {
	switch {
	case originalType == pkgvf.InvoiceTypeSimplified || originalType == pkgvf.InvoiceTypeR5:
		return pkgvf.InvoiceTypeR5
	case amountChanged:
		return pkgvf.InvoiceTypeR1
	default:
		return pkgvf.InvoiceTypeR4
	}
}

// CreateRectification crea una rectificativa por sustitución de un registro aceptado.
// newAmount es el nuevo total con impuestos; nil conserva los importes del original.
func (s *RecordService) CreateRectification(ctx context.Context, originalID, reason string, newAmount *decimal.Decimal) (*entity.InvoiceRecord, error) {
	cfg, err := s.loadEnabledConfig(ctx)
	if err != nil {
		return nil, err
	}
	orig, err := s.mustGet(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if !orig.CanRectify() {
		return nil, fmt.Errorf("%w: solo se rectifican registros aceptados (estado %s)", domain.ErrIllegalTransition, orig.Status)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domainvf.NewValidationError("el motivo de la rectificación es obligatorio")
	}

	base, tax := orig.BaseAmount, orig.TaxAmount
	changed := false
	if newAmount != nil && !newAmount.Round(2).Equal(orig.TotalAmount) {
		if !newAmount.IsPositive() {
			return nil, domainvf.NewValidationError("el nuevo importe debe ser positivo")
		}
		base, tax = domainvf.SplitGross(*newAmount, orig.TaxRate)
		changed = true
	}

	// El número se cuenta dentro del bloqueo del emisor para que las
	// rectificativas concurrentes del mismo original no colisionen.
	nextNumber := func(ctx context.Context) (string, error) {
		n, err := s.store.CountRectifications(ctx, orig.ID)
		if err != nil {
			return "", fmt.Errorf("verifactu: contar rectificativas: %w", err)
		}
		return fmt.Sprintf("%s-R%d", orig.InvoiceNumber, n+1), nil
	}

	return s.create(ctx, cfg, NewInvoice{
		nextNumber:    nextNumber,
		InvoiceDate:   s.now(),
		InvoiceType:   RectificationCode(orig.InvoiceType, changed),
		Description:   "Rectificación: " + reason,
		RecipientNIF:  orig.RecipientNIF,
		RecipientName: orig.RecipientName,
		BaseAmount:    base,
		TaxRate:       orig.TaxRate,
		TaxAmount:     &tax,

		OriginalInvoiceID: orig.ID,
		Rectification: &entity.Rectification{
			Reason:        reason,
			Kind:          pkgvf.RectificationBySubstitution,
			InvoiceNumber: orig.InvoiceNumber,
			InvoiceDate:   orig.InvoiceDate,
			BaseAmount:    orig.BaseAmount,
			TaxAmount:     orig.TaxAmount,
		},
	}, orig.SaleID)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (s *RecordService) mustGet(ctx context.Context, id string) (*entity.InvoiceRecord, error) {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("verifactu: obtener registro: %w", err)
	}
	if rec == nil {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

// refetch relee el registro tras un cambio de estado; si falla devuelve fallback.
func (s *RecordService) refetch(ctx context.Context, id string, fallback *entity.InvoiceRecord) *entity.InvoiceRecord {
	rec, err := s.store.GetByID(context.WithoutCancel(ctx), id)
	if err != nil || rec == nil {
		return fallback
	}
	return rec
}

// emitterLocks un mutex por NIF emisor.
type emitterLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *emitterLocks) lock(nif string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[nif]
	if !ok {
		m = &sync.Mutex{}
		l.locks[nif] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
