package verifactu

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	pkgvf "github.com/jhoicas/verifactu-api/pkg/verifactu"
	"github.com/shopspring/decimal"
)

// ErrInvalidRecord agrupa errores de validación del registro.
var ErrInvalidRecord = errors.New("registro de facturación inválido")

// taxTolerance diferencia admitida entre la cuota declarada y base*tipo redondeado.
var taxTolerance = decimal.RequireFromString("0.01")

// ValidateRecord valida identidad, tipo e importes de un registro antes de encadenarlo.
// Devuelve un error de tipo validation con todos los problemas encontrados.
func ValidateRecord(r *entity.InvoiceRecord) error {
	if r == nil {
		return WrapValidationError(ErrInvalidRecord, "registro nulo")
	}
	var errs []error

	if _, err := pkgvf.ValidateNIF(r.IssuerNIF); err != nil {
		errs = append(errs, fmt.Errorf("NIF emisor: %w", err))
	}
	if strings.TrimSpace(r.IssuerName) == "" {
		errs = append(errs, fmt.Errorf("la razón social del emisor es obligatoria"))
	}
	if strings.TrimSpace(r.InvoiceNumber) == "" {
		errs = append(errs, fmt.Errorf("el número de factura es obligatorio"))
	} else if len(r.InvoiceNumber) > 60 {
		errs = append(errs, fmt.Errorf("el número de factura supera 60 caracteres"))
	}
	if r.InvoiceDate.IsZero() {
		errs = append(errs, fmt.Errorf("la fecha de expedición es obligatoria"))
	}
	if !pkgvf.ValidInvoiceTypes[r.InvoiceType] {
		errs = append(errs, fmt.Errorf("tipo de factura desconocido %q", r.InvoiceType))
	}

	if pkgvf.RequiresRecipient(r.InvoiceType) {
		if _, err := pkgvf.ValidateNIF(r.RecipientNIF); err != nil {
			errs = append(errs, fmt.Errorf("NIF destinatario obligatorio para %s: %w", r.InvoiceType, err))
		}
		if strings.TrimSpace(r.RecipientName) == "" {
			errs = append(errs, fmt.Errorf("el nombre del destinatario es obligatorio para %s", r.InvoiceType))
		}
	}
	if pkgvf.IsRectification(r.InvoiceType) && r.Rectification == nil {
		errs = append(errs, fmt.Errorf("una rectificativa debe referenciar la factura original"))
	}

	errs = append(errs, validateAmounts(r)...)

	if len(errs) > 0 {
		return WrapValidationError(errors.Join(append([]error{ErrInvalidRecord}, errs...)...), "validación del registro")
	}
	return nil
}

// validateAmounts total == base + cuota (exacto) y cuota == round(base*tipo/100, 2) con tolerancia de un céntimo.
func validateAmounts(r *entity.InvoiceRecord) []error {
	var errs []error
	if r.TaxRate.IsNegative() || r.TaxRate.GreaterThan(decimal.NewFromInt(100)) {
		errs = append(errs, fmt.Errorf("tipo impositivo fuera de rango: %s", r.TaxRate.String()))
	}
	for name, d := range map[string]decimal.Decimal{"base": r.BaseAmount, "cuota": r.TaxAmount, "total": r.TotalAmount} {
		if d.Exponent() < -2 && !d.Equal(d.Round(2)) {
			errs = append(errs, fmt.Errorf("importe %s con más de 2 decimales: %s", name, d.String()))
		}
	}
	if !r.TotalAmount.Equal(r.BaseAmount.Add(r.TaxAmount).Round(2)) {
		errs = append(errs, fmt.Errorf("total (%s) no coincide con base + cuota (%s)",
			FormatAmount(r.TotalAmount), FormatAmount(r.BaseAmount.Add(r.TaxAmount))))
	}
	expectedTax := ComputeTax(r.BaseAmount, r.TaxRate)
	if r.TaxAmount.Sub(expectedTax).Abs().GreaterThan(taxTolerance) {
		errs = append(errs, fmt.Errorf("cuota (%s) no coincide con base x tipo (%s)",
			FormatAmount(r.TaxAmount), FormatAmount(expectedTax)))
	}
	return errs
}

// ComputeTax cuota = round(base * tipo / 100, 2).
func ComputeTax(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Div(decimal.NewFromInt(100)).Round(2)
}

// SplitGross desglosa un total con impuestos en base y cuota al tipo rate.
// Busca en ±2 céntimos alrededor de total/(1+rate/100) una base cuya cuota reproduzca
// exactamente el total. Si no existe, conserva el total y ajusta la cuota (total - base).
func SplitGross(total, rate decimal.Decimal) (base, tax decimal.Decimal) {
	total = total.Round(2)
	divisor := decimal.NewFromInt(1).Add(rate.Div(decimal.NewFromInt(100)))
	candidate := total.Div(divisor).Round(2)

	cent := decimal.RequireFromString("0.01")
	for _, delta := range []int64{0, -1, 1, -2, 2} {
		b := candidate.Add(cent.Mul(decimal.NewFromInt(delta)))
		t := ComputeTax(b, rate)
		if b.Add(t).Equal(total) {
			return b, t
		}
	}
	return candidate, total.Sub(candidate)
}
