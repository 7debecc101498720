// Package pdf genera el justificante imprimible de un registro VERI*FACTU.
//
// Layout de la página A4:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  HEADER: Razón social + NIF  │  N° Factura + Fecha + Tipo    │
//	│  ─────────────────────────────────────────────────────────  │
//	│  EMISOR: Dirección / Sistema informático                     │
//	│  DESTINATARIO (solo si lo hay)                               │
//	│  ─────────────────────────────────────────────────────────  │
//	│  IMPORTES: Base | Tipo | Cuota | Total                       │
//	│  ─────────────────────────────────────────────────────────  │
//	│  REGISTRO: Estado + Huella + CSV / error AEAT                │
//	│  FOOTER: QR tributario + leyenda VERI*FACTU                  │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	pkgvf "github.com/jhoicas/verifactu-api/pkg/verifactu"
)

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 0, Green: 70, Blue: 127}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
	colorError   = &props.Color{Red: 170, Green: 30, Blue: 30}
)

// legendVerifactu texto obligatorio junto al QR en sistemas que remiten los registros.
const legendVerifactu = "VERI*FACTU"

var invoiceTypeLabels = map[string]string{
	pkgvf.InvoiceTypeOrdinary:   "Factura completa",
	pkgvf.InvoiceTypeSimplified: "Factura simplificada",
	pkgvf.InvoiceTypeR1:         "Rectificativa (art. 80.1, 80.2 y 80.6 LIVA)",
	pkgvf.InvoiceTypeR2:         "Rectificativa (art. 80.3 LIVA)",
	pkgvf.InvoiceTypeR3:         "Rectificativa (art. 80.4 LIVA)",
	pkgvf.InvoiceTypeR4:         "Rectificativa",
	pkgvf.InvoiceTypeR5:         "Rectificativa de simplificada",
}

var statusLabels = map[entity.RecordStatus]string{
	entity.RecordStatusPending:   "Pendiente de envío",
	entity.RecordStatusSubmitted: "Enviado, sin respuesta",
	entity.RecordStatusAccepted:  "Aceptado por la AEAT",
	entity.RecordStatusRejected:  "Rechazado por la AEAT",
	entity.RecordStatusCancelled: "Anulado",
}

// ── Generator ─────────────────────────────────────────────────────────────────

// ReceiptGenerator genera justificantes con Maroto v2.
type ReceiptGenerator struct{}

// NewReceiptGenerator construye el generador.
func NewReceiptGenerator() *ReceiptGenerator { return &ReceiptGenerator{} }

// RenderReceipt genera el PDF del registro y devuelve sus bytes.
func (g *ReceiptGenerator) RenderReceipt(_ context.Context, rec *entity.InvoiceRecord, cfg *entity.SubmissionConfig) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("pdf: registro nulo")
	}
	if cfg == nil {
		cfg = &entity.SubmissionConfig{}
	}

	mcfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle("Justificante VERI*FACTU "+rec.InvoiceNumber, true).
		WithAuthor(rec.IssuerName, true).
		Build()

	m := maroto.New(mcfg)

	m.AddRows(headerRow(rec))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(issuerRow(rec, cfg))
	if rec.RecipientName != "" || rec.RecipientNIF != "" {
		m.AddRows(recipientRow(rec))
	}
	if rec.Rectification != nil {
		m.AddRows(rectificationRow(rec.Rectification))
	}
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))

	m.AddRows(amountsHeaderRow(), amountsRow(rec))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))

	for _, r := range recordRows(rec) {
		m.AddRows(r)
	}
	m.AddRows(line.NewRow(3))
	m.AddRows(line.NewRow(1, props.Line{Color: colorGray, Thickness: 0.3}))
	for _, r := range footerRows(rec) {
		m.AddRows(r)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar justificante: %w", err)
	}
	return doc.GetBytes(), nil
}

// ── Secciones ─────────────────────────────────────────────────────────────────

func headerRow(rec *entity.InvoiceRecord) core.Row {
	return row.New(18).Add(
		col.New(7).Add(
			text.New(rec.IssuerName, props.Text{
				Style: fontstyle.Bold, Size: 13, Color: colorPrimary, Top: 1,
			}),
			text.New("NIF: "+rec.IssuerNIF, props.Text{
				Size: 9, Top: 9, Color: colorGray,
			}),
		),
		col.New(5).Add(
			text.New(strings.ToUpper(nonEmpty(invoiceTypeLabels[rec.InvoiceType], rec.InvoiceType)), props.Text{
				Style: fontstyle.Bold, Size: 8, Align: align.Right, Color: colorPrimary, Top: 1,
			}),
			text.New(rec.InvoiceNumber, props.Text{
				Style: fontstyle.Bold, Size: 12, Align: align.Right, Top: 7,
			}),
			text.New("Fecha de expedición: "+rec.InvoiceDate.Format("02/01/2006"), props.Text{
				Size: 8, Align: align.Right, Top: 14, Color: colorGray,
			}),
		),
	)
}

func issuerRow(rec *entity.InvoiceRecord, cfg *entity.SubmissionConfig) core.Row {
	sw := cfg.Software
	return row.New(12).Add(
		col.New(12).Add(
			text.New("DATOS DEL EMISOR", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(fmt.Sprintf("Dirección: %s   |   Sistema: %s %s (instalación %s)",
				nonEmpty(cfg.IssuerAddress, "-"),
				nonEmpty(sw.Name, "-"),
				sw.Version,
				nonEmpty(sw.InstallationNumber, "-"),
			), props.Text{Size: 8, Top: 7, Color: colorGray}),
		),
	)
}

func recipientRow(rec *entity.InvoiceRecord) core.Row {
	return row.New(14).Add(
		col.New(12).Add(
			text.New("DESTINATARIO", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(nonEmpty(rec.RecipientName, "-"), props.Text{
				Style: fontstyle.Bold, Size: 10, Top: 6,
			}),
			text.New("NIF: "+nonEmpty(rec.RecipientNIF, "-"), props.Text{Size: 8, Top: 12, Color: colorGray}),
		),
	)
}

func rectificationRow(r *entity.Rectification) core.Row {
	return row.New(10).Add(
		col.New(12).Add(
			text.New(fmt.Sprintf("Rectifica la factura %s de %s. Motivo: %s",
				r.InvoiceNumber, r.InvoiceDate.Format("02/01/2006"), nonEmpty(r.Reason, "-"),
			), props.Text{Size: 8, Top: 2, Style: fontstyle.Italic}),
		),
	)
}

func amountsHeaderRow() core.Row {
	h := func(label string) core.Col {
		return col.New(3).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 8, Align: align.Right, Color: colorPrimary, Top: 2, Right: 1,
		}))
	}
	return row.New(8).Add(h("Base imponible"), h("Tipo IVA"), h("Cuota IVA"), h("TOTAL"))
}

func amountsRow(rec *entity.InvoiceRecord) core.Row {
	v := func(s string, bold bool) core.Col {
		p := props.Text{Size: 10, Align: align.Right, Top: 1, Right: 1}
		if bold {
			p.Style = fontstyle.Bold
			p.Color = colorPrimary
		}
		return col.New(3).Add(text.New(s, p))
	}
	return row.New(9).Add(
		v(formatEuro(rec.BaseAmount), false),
		v(rec.TaxRate.Round(2).String()+" %", false),
		v(formatEuro(rec.TaxAmount), false),
		v(formatEuro(rec.TotalAmount), true),
	)
}

// recordRows: estado, huella partida, CSV o texto de error AEAT.
func recordRows(rec *entity.InvoiceRecord) []core.Row {
	rows := []core.Row{
		row.New(6).Add(col.New(12).Add(
			text.New("REGISTRO DE FACTURACIÓN", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
		)),
		row.New(5).Add(
			col.New(6).Add(text.New("Estado: "+nonEmpty(statusLabels[rec.Status], string(rec.Status)), props.Text{Size: 8, Top: 1})),
			col.New(6).Add(text.New("Generado: "+rec.GeneratedAt.UTC().Format("02/01/2006 15:04:05")+" UTC", props.Text{
				Size: 8, Top: 1, Align: align.Right, Color: colorGray,
			})),
		),
		row.New(5).Add(col.New(12).Add(
			text.New("Huella (SHA-256):", props.Text{Style: fontstyle.Bold, Size: 7, Top: 1}),
		)),
	}
	for _, chunk := range splitEvery(rec.CurrentHash, 32) {
		rows = append(rows, row.New(4).Add(col.New(12).Add(
			text.New(chunk, props.Text{Size: 7, Color: colorGray, Top: 0.5, Left: 2}),
		)))
	}
	if rec.AEATCSV != "" {
		rows = append(rows, row.New(5).Add(col.New(12).Add(
			text.New("CSV AEAT: "+rec.AEATCSV, props.Text{Size: 8, Top: 1}),
		)))
	}
	if rec.Status == entity.RecordStatusRejected && (rec.AEATErrorCode != "" || rec.AEATErrorMessage != "") {
		rows = append(rows, row.New(8).Add(col.New(12).Add(
			text.New(strings.TrimSpace("Error AEAT "+rec.AEATErrorCode+": "+rec.AEATErrorMessage), props.Text{
				Size: 8, Top: 1, Color: colorError,
			}),
		)))
	}
	return rows
}

func footerRows(rec *entity.InvoiceRecord) []core.Row {
	if rec.QRContent == "" {
		return []core.Row{row.New(10).Add(col.New(12).Add(
			text.New(legendVerifactu, props.Text{
				Style: fontstyle.Bold, Size: 10, Align: align.Center, Color: colorPrimary, Top: 2,
			}),
		))}
	}
	return []core.Row{
		row.New(6).Add(col.New(12).Add(
			text.New("QR tributario:", props.Text{Style: fontstyle.Bold, Size: 8, Top: 1}),
		)),
		row.New(45).Add(
			col.New(4).Add(code.NewQr(rec.QRContent, props.Rect{Percent: 95, Center: true})),
			col.New(8).Add(
				text.New("Escanee el código QR para cotejar\nesta factura en la sede electrónica de la AEAT.", props.Text{
					Size: 8, Top: 4, Left: 3, Color: colorGray,
				}),
				text.New(legendVerifactu, props.Text{
					Style: fontstyle.Bold, Size: 12, Top: 20, Left: 3, Color: colorPrimary,
				}),
				text.New("Ref. "+rec.HashSuffix(8), props.Text{Size: 8, Top: 28, Left: 3, Color: colorGray}),
			),
		),
		row.New(8).Add(col.New(12).Add(
			text.New(
				"Factura verificable en la sede electrónica de la AEAT. Registro generado conforme al "+
					"Real Decreto 1007/2023 y la Orden HAC/1177/2024.",
				props.Text{Size: 6.5, Color: colorGray, Top: 2},
			),
		)),
	}
}

// ── helpers ───────────────────────────────────────────────────────────────────

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// formatEuro formato español: punto de miles, coma decimal.
// Ej: 1234.5 → "1.234,50 €", -3 → "-3,00 €"
func formatEuro(d decimal.Decimal) string {
	s := d.Round(2).StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")
	return sign + groupThousands(intPart) + "," + frac + " €"
}

// groupThousands inserta puntos de miles en un string numérico sin decimales.
// Ej: "25000" → "25.000", "1000000" → "1.000.000"
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	buf := make([]byte, 0, n+n/3)
	for i, c := range []byte(s) {
		if i > 0 && (n-i)%3 == 0 {
			buf = append(buf, '.')
		}
		buf = append(buf, c)
	}
	return string(buf)
}

// splitEvery divide s en trozos de max n caracteres.
func splitEvery(s string, n int) []string {
	var parts []string
	for len(s) > n {
		parts = append(parts, s[:n])
		s = s[n:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}
