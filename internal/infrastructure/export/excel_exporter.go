// Package export genera hojas de cálculo con los registros de facturación.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	"github.com/jhoicas/verifactu-api/pkg/logger"
)

const (
	SheetRecords = "Registros"
	SheetSummary = "Resumen"
)

var recordHeaders = []string{
	"Nº factura", "Fecha", "Tipo", "NIF emisor", "NIF destinatario", "Destinatario",
	"Base", "Tipo IVA", "Cuota", "Total", "Estado", "Huella", "Huella anterior",
	"CSV", "Código error", "Mensaje error", "Enviado",
}

// ExcelExporter serializa registros a XLSX con excelize.
type ExcelExporter struct {
	log *logger.Logger
}

// NewExcelExporter crea el exportador. log nil = sin trazas.
func NewExcelExporter(log *logger.Logger) *ExcelExporter {
	if log == nil {
		log = logger.Nop()
	}
	return &ExcelExporter{log: log}
}

// ExportRecords hoja "Registros" con una fila por registro y hoja "Resumen" con el recuento por estado.
func (e *ExcelExporter) ExportRecords(records []*entity.InvoiceRecord, stats *entity.RecordStats) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetRecords); err != nil {
		return nil, fmt.Errorf("export: renombrar hoja: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"00467F"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("export: estilo de cabecera: %w", err)
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return nil, fmt.Errorf("export: estilo numérico: %w", err)
	}

	if err := e.writeRow(f, SheetRecords, 1, toAny(recordHeaders)); err != nil {
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(recordHeaders), 1)
	e.style(f, SheetRecords, "A1", last, header)

	for i, rec := range records {
		if err := e.writeRow(f, SheetRecords, i+2, recordRow(rec)); err != nil {
			return nil, err
		}
	}
	if n := len(records); n > 0 {
		e.style(f, SheetRecords, "G2", fmt.Sprintf("J%d", n+1), money)
	}
	if err := f.SetPanes(SheetRecords, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		e.log.Warn().Err(err).Msg("no se pudo fijar la cabecera")
	}
	_ = f.SetColWidth(SheetRecords, "A", "A", 18)
	_ = f.SetColWidth(SheetRecords, "L", "M", 68)

	if err := e.writeSummary(f, stats, header, money); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("export: escribir xlsx: %w", err)
	}
	e.log.Debug().Int("records", len(records)).Int("bytes", buf.Len()).Msg("exportación generada")
	return buf.Bytes(), nil
}

func (e *ExcelExporter) writeSummary(f *excelize.File, stats *entity.RecordStats, header, money int) error {
	if _, err := f.NewSheet(SheetSummary); err != nil {
		return fmt.Errorf("export: crear hoja de resumen: %w", err)
	}
	if err := e.writeRow(f, SheetSummary, 1, []any{"Estado", "Registros"}); err != nil {
		return err
	}
	e.style(f, SheetSummary, "A1", "B1", header)
	if stats == nil {
		return nil
	}

	row := 2
	for _, st := range entity.AllRecordStatuses {
		if err := e.writeRow(f, SheetSummary, row, []any{string(st), stats.ByStatus[st]}); err != nil {
			return err
		}
		row++
	}
	if err := e.writeRow(f, SheetSummary, row, []any{"TOTAL", stats.Total}); err != nil {
		return err
	}
	row++
	if err := e.writeRow(f, SheetSummary, row, []any{"Importe aceptado", stats.AcceptedAmount.InexactFloat64()}); err != nil {
		return err
	}
	cell := fmt.Sprintf("B%d", row)
	e.style(f, SheetSummary, cell, cell, money)
	return nil
}

// writeRow escribe values a partir de la columna A de la fila n.
func (e *ExcelExporter) writeRow(f *excelize.File, sheet string, n int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return fmt.Errorf("export: celda inválida: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("export: escribir fila %d de %s: %w", n, sheet, err)
	}
	return nil
}

func (e *ExcelExporter) style(f *excelize.File, sheet, from, to string, style int) {
	if err := f.SetCellStyle(sheet, from, to, style); err != nil {
		e.log.Warn().Err(err).Str("sheet", sheet).Str("range", from+":"+to).Msg("no se pudo aplicar el estilo")
	}
}

func recordRow(r *entity.InvoiceRecord) []any {
	prev := ""
	if r.PreviousHash != nil {
		prev = *r.PreviousHash
	}
	submitted := ""
	if r.SubmittedAt != nil {
		submitted = r.SubmittedAt.UTC().Format("2006-01-02 15:04:05")
	}
	return []any{
		r.InvoiceNumber,
		r.InvoiceDate.Format("2006-01-02"),
		r.InvoiceType,
		r.IssuerNIF,
		r.RecipientNIF,
		r.RecipientName,
		r.BaseAmount.InexactFloat64(),
		r.TaxRate.InexactFloat64(),
		r.TaxAmount.InexactFloat64(),
		r.TotalAmount.InexactFloat64(),
		string(r.Status),
		r.CurrentHash,
		prev,
		r.AEATCSV,
		r.AEATErrorCode,
		r.AEATErrorMessage,
		submitted,
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
