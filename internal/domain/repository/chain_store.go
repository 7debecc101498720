package repository

import (
	"context"

	"github.com/jhoicas/verifactu-api/internal/domain/entity"
)

// ChainStore puerto de persistencia de la cadena de registros Verifactu.
// La cola de la cadena de un emisor es su último registro no anulado.
type ChainStore interface {
	// AppendIfTailMatches inserta rec solo si la cola actual del emisor tiene la huella
	// expectedPrev (nil = cadena vacía). Si la cola cambió devuelve domain.ErrChainConflict;
	// si el número de factura ya existe para el emisor devuelve domain.ErrConflict.
	// Asigna rec.ChainSeq.
	AppendIfTailMatches(ctx context.Context, expectedPrev *string, rec *entity.InvoiceRecord) error

	// Tail devuelve el último registro no anulado del emisor, o nil si no hay ninguno.
	Tail(ctx context.Context, issuerNIF string) (*entity.InvoiceRecord, error)

	// GetByID devuelve nil, nil si no existe.
	GetByID(ctx context.Context, id string) (*entity.InvoiceRecord, error)
	GetByInvoiceNumber(ctx context.Context, issuerNIF, invoiceNumber string) (*entity.InvoiceRecord, error)
	List(ctx context.Context, filter entity.RecordFilter) ([]*entity.InvoiceRecord, int, error)

	// ListChain devuelve todos los registros del emisor en orden de cadena.
	ListChain(ctx context.Context, issuerNIF string) ([]*entity.InvoiceRecord, error)

	// CountRectifications número de rectificativas que referencian originalID.
	CountRectifications(ctx context.Context, originalID string) (int, error)

	// TransitionStatus cambia el estado solo si el actual está en from (compare-and-set).
	// outcome nil conserva los datos de respuesta; si no, los sustituye.
	// Devuelve domain.ErrIllegalTransition si el estado actual no está en from
	// y domain.ErrNotFound si el registro no existe.
	TransitionStatus(ctx context.Context, id string, from []entity.RecordStatus, to entity.RecordStatus, outcome *entity.SubmissionOutcome) error

	// Stats recuento por estado del emisor.
	Stats(ctx context.Context, issuerNIF string) (*entity.RecordStats, error)
}
