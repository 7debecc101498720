// Package verifactu casos de uso del sistema VERI*FACTU: creación de registros encadenados,
// envío y anulación ante la AEAT, rectificativas, auditoría de la cadena y configuración.
package verifactu

import (
	"context"

	"github.com/jhoicas/verifactu-api/internal/domain/entity"
)

// ConfigProvider origen de la configuración efectiva de envío.
type ConfigProvider interface {
	Load(ctx context.Context) (*entity.SubmissionConfig, error)
}

// ReceiptRenderer genera el justificante imprimible (PDF) de un registro.
type ReceiptRenderer interface {
	RenderReceipt(ctx context.Context, rec *entity.InvoiceRecord, cfg *entity.SubmissionConfig) ([]byte, error)
}

// RecordExporter serializa un listado de registros (hoja de cálculo).
type RecordExporter interface {
	ExportRecords(records []*entity.InvoiceRecord, stats *entity.RecordStats) ([]byte, error)
}

// Dispatcher ejecuta una tarea fuera del ciclo de la petición.
// Por defecto lanza una goroutine; los tests inyectan uno síncrono.
type Dispatcher func(task func())

func goDispatcher(task func()) { go task() }
