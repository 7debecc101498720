package verifactu

import (
	"context"
	"fmt"
	"strings"

	"github.com/jhoicas/verifactu-api/internal/domain"
	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	domainvf "github.com/jhoicas/verifactu-api/internal/domain/verifactu"
	infravf "github.com/jhoicas/verifactu-api/internal/infrastructure/verifactu"
)

const receiptHashChars = 8

// GetRecord registro por ID; domain.ErrNotFound si no existe.
func (s *RecordService) GetRecord(ctx context.Context, id string) (*entity.InvoiceRecord, error) {
	return s.mustGet(ctx, id)
}

// ListRecords registros del emisor configurado, más recientes primero.
func (s *RecordService) ListRecords(ctx context.Context, f entity.RecordFilter) ([]*entity.InvoiceRecord, int, error) {
	if f.Status != "" && !f.Status.IsValid() {
		return nil, 0, fmt.Errorf("%w: estado %q desconocido", domain.ErrInvalidInput, f.Status)
	}
	s.scope(ctx, &f)
	return s.store.List(ctx, f)
}

// scope limita el filtro al emisor configurado cuando no se indica otro.
func (s *RecordService) scope(ctx context.Context, f *entity.RecordFilter) {
	if f.IssuerNIF != "" {
		return
	}
	if cfg, err := s.configs.Load(ctx); err == nil {
		f.IssuerNIF = cfg.IssuerNIF
	}
}

// Statistics recuento por estado del emisor configurado.
func (s *RecordService) Statistics(ctx context.Context) (*entity.RecordStats, error) {
	cfg, err := s.configs.Load(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.Stats(ctx, cfg.IssuerNIF)
}

// VerifyChain audita la cadena completa del emisor configurado. Las incidencias se
// informan en el ChainReport; no bloquean la creación de registros.
func (s *RecordService) VerifyChain(ctx context.Context) (domainvf.ChainReport, error) {
	cfg, err := s.configs.Load(ctx)
	if err != nil {
		return domainvf.ChainReport{}, err
	}
	records, err := s.store.ListChain(ctx, cfg.IssuerNIF)
	if err != nil {
		return domainvf.ChainReport{}, fmt.Errorf("verifactu: leer cadena: %w", err)
	}
	report := domainvf.VerifyChain(records)
	if !report.Valid {
		s.log.Warn().Str("issuer_nif", cfg.IssuerNIF).Int("findings", len(report.Findings)).Msg("cadena de huellas con incidencias")
	}
	return report, nil
}

// AuditReport comprobación de un registro: huella recalculada y documento regenerado.
type AuditReport struct {
	RecordID        string
	HashValid       bool
	DocumentMatches bool
	Problems        []string
}

// AuditRecord recalcula la huella y regenera el XML para compararlo (C14N) con el guardado.
func (s *RecordService) AuditRecord(ctx context.Context, id string) (*AuditReport, error) {
	rec, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg, err := s.configs.Load(ctx)
	if err != nil {
		return nil, err
	}
	report := &AuditReport{RecordID: rec.ID}

	report.HashValid = domainvf.VerifyHash(rec.CurrentHash, rec.HashFields(), rec.PreviousHash)
	if !report.HashValid {
		report.Problems = append(report.Problems, "la huella no coincide con los datos del registro")
	}
	if input := domainvf.BuildHashInput(rec.HashFields(), rec.PreviousHash); input != rec.HashInput {
		report.Problems = append(report.Problems, "la cadena de entrada de la huella guardada difiere de la recalculada")
	}

	doc, err := s.builder.BuildSubmissionXML(rec, rec.CurrentHash, cfg)
	if err != nil {
		return nil, err
	}
	same, err := infravf.EquivalentDocuments([]byte(rec.XMLContent), doc)
	if err != nil {
		report.Problems = append(report.Problems, "el XML guardado no se puede canonicalizar: "+err.Error())
	} else if !same {
		report.Problems = append(report.Problems, "el XML regenerado difiere del guardado (datos o configuración del sistema informático cambiados)")
	}
	report.DocumentMatches = err == nil && same
	return report, nil
}

// ReceiptInfo datos para imprimir en el ticket.
type ReceiptInfo struct {
	RecordID      string
	InvoiceNumber string
	Status        entity.RecordStatus
	Hash          string
	HashSuffix    string
	QRURL         string
	ErrorText     string // código y mensaje AEAT si hubo rechazo
}

// ReceiptInfo estado, huella corta, URL del QR y texto de error de un registro.
func (s *RecordService) ReceiptInfo(ctx context.Context, id string) (*ReceiptInfo, error) {
	rec, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	info := &ReceiptInfo{
		RecordID:      rec.ID,
		InvoiceNumber: rec.InvoiceNumber,
		Status:        rec.Status,
		Hash:          rec.CurrentHash,
		HashSuffix:    rec.HashSuffix(receiptHashChars),
		QRURL:         rec.QRContent,
	}
	switch {
	case rec.AEATErrorCode != "" && rec.AEATErrorMessage != "":
		info.ErrorText = rec.AEATErrorCode + " - " + rec.AEATErrorMessage
	default:
		info.ErrorText = rec.AEATErrorCode + rec.AEATErrorMessage
	}
	return info, nil
}

// QRCode imagen del QR del registro. format: png (por defecto) o svg.
func (s *RecordService) QRCode(ctx context.Context, id, format string, opts infravf.QROptions) ([]byte, string, error) {
	rec, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, "", err
	}
	switch strings.ToLower(format) {
	case "", "png":
		png, err := infravf.RenderPNG(rec.QRContent, opts)
		return png, "image/png", err
	case "svg":
		svg, err := infravf.RenderSVG(rec.QRContent, opts)
		return []byte(svg), "image/svg+xml", err
	default:
		return nil, "", fmt.Errorf("%w: formato de QR %q (png|svg)", domain.ErrInvalidInput, format)
	}
}

// Receipt justificante PDF del registro y nombre de archivo sugerido.
func (s *RecordService) Receipt(ctx context.Context, id string) ([]byte, string, error) {
	if s.receipts == nil {
		return nil, "", fmt.Errorf("%w: generador de justificantes no configurado", domain.ErrFeatureDisabled)
	}
	rec, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, "", err
	}
	cfg, err := s.configs.Load(ctx)
	if err != nil {
		return nil, "", err
	}
	pdf, err := s.receipts.RenderReceipt(ctx, rec, cfg)
	if err != nil {
		return nil, "", fmt.Errorf("verifactu: generar justificante: %w", err)
	}
	return pdf, fmt.Sprintf("verifactu_%s.pdf", safeFilename(rec.InvoiceNumber)), nil
}

// ExportRecords hoja de cálculo con los registros filtrados y el resumen por estado.
func (s *RecordService) ExportRecords(ctx context.Context, f entity.RecordFilter) ([]byte, error) {
	if s.exporter == nil {
		return nil, fmt.Errorf("%w: exportador no configurado", domain.ErrFeatureDisabled)
	}
	f.Limit, f.Offset = 0, 0
	s.scope(ctx, &f)
	records, _, err := s.ListRecords(ctx, f)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.Stats(ctx, f.IssuerNIF)
	if err != nil {
		return nil, fmt.Errorf("verifactu: estadísticas: %w", err)
	}
	return s.exporter.ExportRecords(records, stats)
}

func safeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
