// Package verifactu: huella encadenada de los registros de facturación (SHA-256) y
// taxonomía de errores del subsistema.
//
// Cadena de entrada (orden estricto, separador "&"):
//
//	IDEmisorFactura=<nif>&NumSerieFactura=<n>&FechaExpedicionFactura=<YYYY-MM-DD>&TipoFactura=<tipo>
//	&CuotaTotal=<0.00>&ImporteTotal=<0.00>[&Huella=<anterior>]
//
// El término Huella se omite en el primer registro del emisor.
package verifactu

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// DateLayout formato de fecha de la cadena de huella.
const DateLayout = "2006-01-02"

// BuildHashInput construye la cadena canónica sobre la que se calcula la huella.
func BuildHashInput(f entity.HashFields, previousHash *string) string {
	var b strings.Builder
	b.WriteString("IDEmisorFactura=")
	b.WriteString(strings.TrimSpace(f.IssuerNIF))
	b.WriteString("&NumSerieFactura=")
	b.WriteString(strings.TrimSpace(f.InvoiceNumber))
	b.WriteString("&FechaExpedicionFactura=")
	b.WriteString(f.InvoiceDate.Format(DateLayout))
	b.WriteString("&TipoFactura=")
	b.WriteString(f.InvoiceType)
	b.WriteString("&CuotaTotal=")
	b.WriteString(FormatAmount(f.TaxAmount))
	b.WriteString("&ImporteTotal=")
	b.WriteString(FormatAmount(f.TotalAmount))
	if previousHash != nil && *previousHash != "" {
		b.WriteString("&Huella=")
		b.WriteString(*previousHash)
	}
	return b.String()
}

// HashString SHA-256 de input en hexadecimal mayúsculas.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// ComputeHash calcula la huella del registro encadenado a previousHash.
func ComputeHash(f entity.HashFields, previousHash *string) string {
	return HashString(BuildHashInput(f, previousHash))
}

// VerifyHash recalcula la huella y compara sin distinguir mayúsculas.
func VerifyHash(hash string, f entity.HashFields, previousHash *string) bool {
	return strings.EqualFold(hash, ComputeHash(f, previousHash))
}

// FormatAmount 2 decimales con punto, sin separador de miles (ej: 1500.00).
func FormatAmount(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

// ── Verificación de cadena ──

// ChainFinding inconsistencia detectada en un registro.
type ChainFinding struct {
	RecordID      string
	InvoiceNumber string
	Problem       string
}

// ChainReport resultado de VerifyChain.
type ChainReport struct {
	Checked  int
	Valid    bool
	Findings []ChainFinding
}

// Err devuelve un error hash_chain con el primer hallazgo, o nil si la cadena es íntegra.
func (r ChainReport) Err() error {
	if r.Valid {
		return nil
	}
	f := r.Findings[0]
	return NewHashChainError(fmt.Sprintf("%d inconsistencias; primera en %s: %s", len(r.Findings), f.InvoiceNumber, f.Problem))
}

// VerifyChain recorre los registros en orden de cadena. Cada huella debe recalcularse y cada
// registro debe apuntar a la huella del último registro no anulado que le precede. Los anulados
// no mueven la cola: un registro puede apuntar al anterior no anulado o a un anulado intermedio.
func VerifyChain(records []*entity.InvoiceRecord) ChainReport {
	report := ChainReport{Valid: true}
	var tail *string
	// huellas aceptables como "anterior" desde el último registro no anulado
	acceptable := map[string]bool{}

	for _, rec := range records {
		report.Checked++
		add := func(problem string) {
			report.Valid = false
			report.Findings = append(report.Findings, ChainFinding{
				RecordID: rec.ID, InvoiceNumber: rec.InvoiceNumber, Problem: problem,
			})
		}

		if HashString(rec.HashInput) != strings.ToUpper(rec.CurrentHash) {
			add("la huella no corresponde a la cadena de entrada almacenada")
		}
		if !VerifyHash(rec.CurrentHash, rec.HashFields(), rec.PreviousHash) {
			add("la huella no corresponde a los campos del registro")
		}

		switch {
		case report.Checked == 1 && rec.PreviousHash != nil:
			add("el primer registro no debe tener huella anterior")
		case rec.PreviousHash == nil:
			// sin huella anterior solo mientras no exista un registro activo previo
			if tail != nil {
				add("falta la huella anterior")
			}
		case !acceptable[strings.ToUpper(*rec.PreviousHash)]:
			add(fmt.Sprintf("la huella anterior %s no coincide con la cola de la cadena", *rec.PreviousHash))
		}

		h := strings.ToUpper(rec.CurrentHash)
		if rec.IsCancelled() {
			acceptable[h] = true
			continue
		}
		tail = &h
		acceptable = map[string]bool{h: true}
	}
	return report
}
