package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/verifactu-api/internal/domain"
	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	"github.com/jhoicas/verifactu-api/internal/domain/repository"
)

var _ repository.ChainStore = (*InvoiceRecordRepo)(nil)

const recordColumns = `
	id, issuer_nif, issuer_name, invoice_number, invoice_date, invoice_type, description,
	recipient_nif, recipient_name,
	base_amount, tax_rate, tax_amount, total_amount,
	chain_seq, previous_hash, previous_invoice_number, previous_invoice_date,
	current_hash, hash_input, generated_at,
	qr_content, xml_content,
	status, aeat_error_code, aeat_error_message, aeat_response, aeat_csv, submitted_at,
	sale_id, original_invoice_id,
	rectification_reason, rectification_kind, rectified_number, rectified_date, rectified_base, rectified_tax,
	created_at, updated_at`

// InvoiceRecordRepo implementación PostgreSQL de repository.ChainStore.
// Las lecturas usan q; las inserciones en cadena abren su propia transacción.
type InvoiceRecordRepo struct {
	q   Querier
	tx  *TxRunner
	now func() time.Time
}

// NewInvoiceRecordRepository construye el adaptador sobre el pool.
func NewInvoiceRecordRepository(pool *pgxpool.Pool) *InvoiceRecordRepo {
	return &InvoiceRecordRepo{q: pool, tx: NewTxRunner(pool), now: time.Now}
}

// AppendIfTailMatches en una transacción: lock consultivo por emisor, relectura de la cola,
// comparación con expectedPrev e inserción con el siguiente chain_seq.
func (r *InvoiceRecordRepo) AppendIfTailMatches(ctx context.Context, expectedPrev *string, rec *entity.InvoiceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	return r.tx.Run(ctx, func(q Querier) error {
		if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.IssuerNIF); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		var tailHash string
		err := q.QueryRow(ctx, `
			SELECT current_hash FROM verifactu_records
			WHERE issuer_nif = $1 AND status <> 'CANCELLED'
			ORDER BY chain_seq DESC LIMIT 1`, rec.IssuerNIF).Scan(&tailHash)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			if expectedPrev != nil {
				return domain.ErrChainConflict
			}
		case err != nil:
			return fmt.Errorf("leer cola de la cadena: %w", err)
		default:
			if expectedPrev == nil || !strings.EqualFold(strings.TrimSpace(tailHash), *expectedPrev) {
				return domain.ErrChainConflict
			}
		}

		var seq int64
		if err := q.QueryRow(ctx,
			`SELECT COALESCE(MAX(chain_seq), 0) + 1 FROM verifactu_records WHERE issuer_nif = $1`,
			rec.IssuerNIF).Scan(&seq); err != nil {
			return fmt.Errorf("siguiente chain_seq: %w", err)
		}

		now := r.now()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		rec.ChainSeq = seq

		if err := insertRecord(ctx, q, rec); err != nil {
			rec.ChainSeq = 0
			return err
		}
		return nil
	})
}

func insertRecord(ctx context.Context, q Querier, rec *entity.InvoiceRecord) error {
	var (
		rectReason, rectKind, rectNumber *string
		rectDate                         *time.Time
		rectBase, rectTax                decimal.NullDecimal
		originalID                       *string
	)
	if rec.Rectification != nil {
		rectReason = nullIfEmpty(rec.Rectification.Reason)
		rectKind = nullIfEmpty(rec.Rectification.Kind)
		rectNumber = nullIfEmpty(rec.Rectification.InvoiceNumber)
		d := rec.Rectification.InvoiceDate
		rectDate = &d
		rectBase = decimal.NewNullDecimal(rec.Rectification.BaseAmount)
		rectTax = decimal.NewNullDecimal(rec.Rectification.TaxAmount)
	}
	if rec.OriginalInvoiceID != "" {
		originalID = &rec.OriginalInvoiceID
	}

	query := `INSERT INTO verifactu_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
		        $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36, $37, $38)`
	_, err := q.Exec(ctx, query,
		rec.ID, rec.IssuerNIF, rec.IssuerName, rec.InvoiceNumber, rec.InvoiceDate, rec.InvoiceType, rec.Description,
		nullIfEmpty(rec.RecipientNIF), nullIfEmpty(rec.RecipientName),
		rec.BaseAmount, rec.TaxRate, rec.TaxAmount, rec.TotalAmount,
		rec.ChainSeq, rec.PreviousHash, nullIfEmpty(rec.PreviousInvoiceNumber), rec.PreviousInvoiceDate,
		rec.CurrentHash, rec.HashInput, rec.GeneratedAt,
		rec.QRContent, rec.XMLContent,
		string(rec.Status), nullIfEmpty(rec.AEATErrorCode), nullIfEmpty(rec.AEATErrorMessage),
		nullIfEmpty(rec.AEATResponse), nullIfEmpty(rec.AEATCSV), rec.SubmittedAt,
		nullIfEmpty(rec.SaleID), originalID,
		rectReason, rectKind, rectNumber, rectDate, rectBase, rectTax,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			switch violatedConstraint(err) {
			case "ux_verifactu_records_chain_link", "ux_verifactu_records_seq":
				return domain.ErrChainConflict
			default:
				return fmt.Errorf("%w: el número de factura ya existe para el emisor", domain.ErrConflict)
			}
		}
		return fmt.Errorf("insert verifactu record: %w", err)
	}
	return nil
}

// Tail último registro no anulado del emisor, o nil si no hay ninguno.
func (r *InvoiceRecordRepo) Tail(ctx context.Context, issuerNIF string) (*entity.InvoiceRecord, error) {
	return r.getOne(ctx, `SELECT `+recordColumns+` FROM verifactu_records
		WHERE issuer_nif = $1 AND status <> 'CANCELLED'
		ORDER BY chain_seq DESC LIMIT 1`, issuerNIF)
}

// GetByID nil, nil si no existe.
func (r *InvoiceRecordRepo) GetByID(ctx context.Context, id string) (*entity.InvoiceRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.getOne(ctx, `SELECT `+recordColumns+` FROM verifactu_records WHERE id = $1`, id)
}

// GetByInvoiceNumber nil, nil si no existe.
func (r *InvoiceRecordRepo) GetByInvoiceNumber(ctx context.Context, issuerNIF, invoiceNumber string) (*entity.InvoiceRecord, error) {
	return r.getOne(ctx, `SELECT `+recordColumns+` FROM verifactu_records
		WHERE issuer_nif = $1 AND invoice_number = $2`, issuerNIF, invoiceNumber)
}

func (r *InvoiceRecordRepo) getOne(ctx context.Context, query string, args ...any) (*entity.InvoiceRecord, error) {
	rec, err := scanRecord(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get verifactu record: %w", err)
	}
	return rec, nil
}

// List más recientes primero; Limit 0 = sin límite.
func (r *InvoiceRecordRepo) List(ctx context.Context, f entity.RecordFilter) ([]*entity.InvoiceRecord, int, error) {
	where := `WHERE ($1::text = '' OR issuer_nif = $1) AND ($2::text = '' OR status = $2)`

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM verifactu_records `+where,
		f.IssuerNIF, string(f.Status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count verifactu records: %w", err)
	}

	rows, err := r.q.Query(ctx, `SELECT `+recordColumns+` FROM verifactu_records `+where+`
		ORDER BY issuer_nif, chain_seq DESC
		LIMIT NULLIF($3::int, 0) OFFSET $4`,
		f.IssuerNIF, string(f.Status), f.Limit, max(f.Offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("list verifactu records: %w", err)
	}
	list, err := collectRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// ListChain registros del emisor en orden de cadena (incluye anulados).
func (r *InvoiceRecordRepo) ListChain(ctx context.Context, issuerNIF string) ([]*entity.InvoiceRecord, error) {
	rows, err := r.q.Query(ctx, `SELECT `+recordColumns+` FROM verifactu_records
		WHERE issuer_nif = $1 ORDER BY chain_seq`, issuerNIF)
	if err != nil {
		return nil, fmt.Errorf("list chain: %w", err)
	}
	return collectRecords(rows)
}

// CountRectifications rectificativas que referencian originalID.
func (r *InvoiceRecordRepo) CountRectifications(ctx context.Context, originalID string) (int, error) {
	if _, err := uuid.Parse(originalID); err != nil {
		return 0, nil
	}
	var n int
	if err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM verifactu_records WHERE original_invoice_id = $1`, originalID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rectifications: %w", err)
	}
	return n, nil
}

// TransitionStatus UPDATE ... WHERE status = ANY(from). Sin filas afectadas distingue
// registro inexistente de estado no permitido.
func (r *InvoiceRecordRepo) TransitionStatus(ctx context.Context, id string, from []entity.RecordStatus, to entity.RecordStatus, outcome *entity.SubmissionOutcome) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	fromStr := make([]string, 0, len(from))
	for _, s := range from {
		fromStr = append(fromStr, string(s))
	}

	var (
		query string
		args  []any
	)
	if outcome == nil {
		query = `UPDATE verifactu_records SET status = $3, updated_at = $4
			WHERE id = $1 AND status = ANY($2::text[])`
		args = []any{id, fromStr, string(to), r.now()}
	} else {
		var submittedAt *time.Time
		if !outcome.SubmittedAt.IsZero() {
			at := outcome.SubmittedAt
			submittedAt = &at
		}
		query = `UPDATE verifactu_records
			SET status             = $3,
			    updated_at         = $4,
			    aeat_error_code    = $5,
			    aeat_error_message = $6,
			    aeat_response      = $7,
			    aeat_csv           = $8,
			    submitted_at       = COALESCE($9, submitted_at)
			WHERE id = $1 AND status = ANY($2::text[])`
		args = []any{id, fromStr, string(to), r.now(),
			nullIfEmpty(outcome.ErrorCode), nullIfEmpty(outcome.ErrorMessage),
			nullIfEmpty(outcome.RawResponse), nullIfEmpty(outcome.CSV), submittedAt}
	}

	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM verifactu_records WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("transition status: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrIllegalTransition
}

// Stats recuento por estado e importe aceptado. issuerNIF vacío = todos los emisores.
func (r *InvoiceRecordRepo) Stats(ctx context.Context, issuerNIF string) (*entity.RecordStats, error) {
	rows, err := r.q.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(total_amount), 0)
		FROM verifactu_records
		WHERE ($1::text = '' OR issuer_nif = $1)
		GROUP BY status`, issuerNIF)
	if err != nil {
		return nil, fmt.Errorf("verifactu stats: %w", err)
	}
	defer rows.Close()

	stats := &entity.RecordStats{ByStatus: make(map[entity.RecordStatus]int), AcceptedAmount: decimal.Zero}
	for _, st := range entity.AllRecordStatuses {
		stats.ByStatus[st] = 0
	}
	for rows.Next() {
		var (
			status string
			count  int
			amount decimal.Decimal
		)
		if err := rows.Scan(&status, &count, &amount); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.ByStatus[entity.RecordStatus(status)] = count
		stats.Total += count
		if entity.RecordStatus(status) == entity.RecordStatusAccepted {
			stats.AcceptedAmount = amount
		}
	}
	return stats, rows.Err()
}

// ---- scan ----

func collectRecords(rows pgx.Rows) ([]*entity.InvoiceRecord, error) {
	defer rows.Close()
	out := make([]*entity.InvoiceRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verifactu record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*entity.InvoiceRecord, error) {
	var rec entity.InvoiceRecord
	var status string
	var recipientNIF, recipientName, prevNumber *string
	var errCode, errMsg, response, csv, saleID, originalID *string
	var rectReason, rectKind, rectNumber *string
	var rectDate *time.Time
	var rectBase, rectTax decimal.NullDecimal
	err := row.Scan(
		&rec.ID, &rec.IssuerNIF, &rec.IssuerName, &rec.InvoiceNumber, &rec.InvoiceDate, &rec.InvoiceType, &rec.Description,
		&recipientNIF, &recipientName,
		&rec.BaseAmount, &rec.TaxRate, &rec.TaxAmount, &rec.TotalAmount,
		&rec.ChainSeq, &rec.PreviousHash, &prevNumber, &rec.PreviousInvoiceDate,
		&rec.CurrentHash, &rec.HashInput, &rec.GeneratedAt,
		&rec.QRContent, &rec.XMLContent,
		&status, &errCode, &errMsg, &response, &csv, &rec.SubmittedAt,
		&saleID, &originalID,
		&rectReason, &rectKind, &rectNumber, &rectDate, &rectBase, &rectTax,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = entity.RecordStatus(status)
	rec.RecipientNIF = derefStr(recipientNIF)
	rec.RecipientName = derefStr(recipientName)
	rec.PreviousInvoiceNumber = derefStr(prevNumber)
	rec.AEATErrorCode = derefStr(errCode)
	rec.AEATErrorMessage = derefStr(errMsg)
	rec.AEATResponse = derefStr(response)
	rec.AEATCSV = derefStr(csv)
	rec.SaleID = derefStr(saleID)
	rec.OriginalInvoiceID = derefStr(originalID)
	if rec.PreviousHash != nil {
		h := strings.TrimSpace(*rec.PreviousHash)
		rec.PreviousHash = &h
	}
	rec.CurrentHash = strings.TrimSpace(rec.CurrentHash)
	if rectKind != nil || rectNumber != nil {
		rec.Rectification = &entity.Rectification{
			Reason:        derefStr(rectReason),
			Kind:          derefStr(rectKind),
			InvoiceNumber: derefStr(rectNumber),
			BaseAmount:    rectBase.Decimal,
			TaxAmount:     rectTax.Decimal,
		}
		if rectDate != nil {
			rec.Rectification.InvoiceDate = *rectDate
		}
	}
	return &rec, nil
}
