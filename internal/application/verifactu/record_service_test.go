package verifactu_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appvf "github.com/jhoicas/verifactu-api/internal/application/verifactu"
	"github.com/jhoicas/verifactu-api/internal/domain"
	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	domainvf "github.com/jhoicas/verifactu-api/internal/domain/verifactu"
	"github.com/jhoicas/verifactu-api/internal/infrastructure/memory"
	infravf "github.com/jhoicas/verifactu-api/internal/infrastructure/verifactu"
	pkgvf "github.com/jhoicas/verifactu-api/pkg/verifactu"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sale(number, total string) appvf.SaleInput {
	return appvf.SaleInput{SaleID: "sale-" + number, InvoiceNumber: number, SaleDate: fixedNow, Total: dec(total)}
}

// ── Creación ──

func TestCreateFromSale_CaminoFeliz(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	rec, err := f.svc.CreateFromSale(ctx, sale("T-0001", "121.00"))
	require.NoError(t, err)

	assert.Equal(t, entity.RecordStatusPending, rec.Status)
	assert.Equal(t, pkgvf.InvoiceTypeSimplified, rec.InvoiceType)
	assert.True(t, rec.BaseAmount.Equal(dec("100.00")), rec.BaseAmount.String())
	assert.True(t, rec.TaxAmount.Equal(dec("21.00")), rec.TaxAmount.String())
	assert.True(t, rec.TotalAmount.Equal(dec("121.00")))
	assert.Nil(t, rec.PreviousHash)
	assert.EqualValues(t, 1, rec.ChainSeq)
	assert.Equal(t, "sale-T-0001", rec.SaleID)
	assert.Len(t, rec.CurrentHash, 64)
	assert.True(t, domainvf.VerifyHash(rec.CurrentHash, rec.HashFields(), nil))
	assert.Contains(t, rec.QRContent, "fecha=19-01-2026")
	assert.Contains(t, rec.QRContent, "importe=121.00")
	assert.NoError(t, infravf.ValidateStructure([]byte(rec.XMLContent)).Err())
	assert.Contains(t, rec.XMLContent, "<sum:PrimerRegistro>S</sum:PrimerRegistro>")

	got, err := f.svc.SubmitToAEAT(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RecordStatusAccepted, got.Status)
	assert.Equal(t, "A-CSV123", got.AEATCSV)
	require.NotNil(t, got.SubmittedAt)
	assert.Equal(t, rec.XMLContent, string(f.transport.submits[0]))
}

func TestCreateRecord_EncadenaConElAnterior(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.CreateFromSale(ctx, sale("T-0001", "121.00"))
	require.NoError(t, err)
	second, err := f.svc.CreateFromSale(ctx, sale("T-0002", "42.50"))
	require.NoError(t, err)

	require.NotNil(t, second.PreviousHash)
	assert.Equal(t, first.CurrentHash, *second.PreviousHash)
	assert.Equal(t, "T-0001", second.PreviousInvoiceNumber)
	assert.Contains(t, second.XMLContent, "<sum:Huella>"+first.CurrentHash+"</sum:Huella>")
	assert.Contains(t, second.HashInput, "&Huella="+first.CurrentHash)

	report, err := f.svc.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 2, report.Checked)
}

func TestCreateRecord_NumeroDuplicado(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.CreateFromSale(ctx, sale("T-0001", "10.00"))
	require.NoError(t, err)
	_, err = f.svc.CreateFromSale(ctx, sale("T-0001", "20.00"))
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestCreateRecord_Deshabilitado(t *testing.T) {
	f := newFixture(t, map[string]string{appvf.KeyEnabled: "false"})

	_, err := f.svc.CreateFromSale(context.Background(), sale("T-0001", "121.00"))
	assert.ErrorIs(t, err, domain.ErrFeatureDisabled)
	assert.Zero(t, f.transport.submitCount())
}

func TestCreateRecord_NIFEmisorInvalido(t *testing.T) {
	f := newFixture(t, map[string]string{appvf.KeyIssuerNIF: "B12345678"})

	_, err := f.svc.CreateFromSale(context.Background(), sale("T-0001", "121.00"))
	require.Error(t, err)
	assert.True(t, domainvf.IsKind(err, domainvf.KindValidation))

	list, total, err := f.svc.ListRecords(context.Background(), entity.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, total)
}

func TestCreateRecord_F1ExigeDestinatario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	in := appvf.NewInvoice{
		InvoiceNumber: "F-0001",
		InvoiceDate:   fixedNow,
		InvoiceType:   pkgvf.InvoiceTypeOrdinary,
		BaseAmount:    dec("100"),
		TaxRate:       dec("21"),
	}
	_, err := f.svc.CreateRecord(ctx, in, "")
	assert.True(t, domainvf.IsKind(err, domainvf.KindValidation))

	in.RecipientNIF = "12345678Z"
	in.RecipientName = "Cliente & Hijos"
	rec, err := f.svc.CreateRecord(ctx, in, "")
	require.NoError(t, err)
	assert.Contains(t, rec.XMLContent, "<sum:Destinatarios>")
	assert.Contains(t, rec.XMLContent, "Cliente &amp; Hijos")
}

// conflictingStore devuelve ErrChainConflict en los primeros failures intentos de inserción.
type conflictingStore struct {
	*memory.ChainStore
	failures int
	attempts int
}

func (s *conflictingStore) AppendIfTailMatches(ctx context.Context, prev *string, rec *entity.InvoiceRecord) error {
	s.attempts++
	if s.attempts <= s.failures {
		return domain.ErrChainConflict
	}
	return s.ChainStore.AppendIfTailMatches(ctx, prev, rec)
}

func TestCreateRecord_ReintentaConflictoDeCadena(t *testing.T) {
	f := newFixture(t, nil)
	flaky := &conflictingStore{ChainStore: f.store, failures: 2}
	svc := appvf.NewRecordService(flaky, f.configs, infravf.NewDocumentBuilder(), f.transport)

	rec, err := svc.CreateFromSale(context.Background(), sale("T-0001", "121.00"))
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.attempts)
	assert.EqualValues(t, 1, rec.ChainSeq)
}

func TestCreateRecord_ConflictoPersistente(t *testing.T) {
	f := newFixture(t, nil)
	flaky := &conflictingStore{ChainStore: f.store, failures: 100}
	svc := appvf.NewRecordService(flaky, f.configs, infravf.NewDocumentBuilder(), f.transport)

	_, err := svc.CreateFromSale(context.Background(), sale("T-0001", "121.00"))
	assert.ErrorIs(t, err, domain.ErrChainConflict)
}

func TestCreateRecord_ConcurrentesFormanUnaCadena(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const k = 25
	var wg sync.WaitGroup
	errs := make(chan error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.CreateFromSale(ctx, sale(fmt.Sprintf("T-%04d", i), "12.10"))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	chain, err := f.store.ListChain(ctx, "B12345674")
	require.NoError(t, err)
	require.Len(t, chain, k)

	seen := make(map[string]bool)
	for i, rec := range chain {
		prev := ""
		if rec.PreviousHash != nil {
			prev = *rec.PreviousHash
		}
		assert.False(t, seen[prev], "huella anterior repetida en %s", rec.InvoiceNumber)
		seen[prev] = true
		if i == 0 {
			assert.Nil(t, rec.PreviousHash)
			continue
		}
		assert.Equal(t, chain[i-1].CurrentHash, prev)
	}
	assert.NoError(t, domainvf.VerifyChain(chain).Err())
}

// ── Envío ──

func TestSubmit_RechazoYReenvio(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec, err := f.svc.CreateFromSale(ctx, sale("T-0001", "121.00"))
	require.NoError(t, err)

	f.transport.submitFn = func([]byte) (*infravf.AeatResponse, error) {
		return &infravf.AeatResponse{Status: "Fault", ErrorCode: "env:Client", ErrorMessage: "Codigo[4102]"}, nil
	}
	got, err := f.svc.SubmitToAEAT(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RecordStatusRejected, got.Status)
	assert.Equal(t, "env:Client", got.AEATErrorCode)
	assert.Equal(t, "Codigo[4102]", got.AEATErrorMessage)

	f.transport.submitFn = nil
	got, err = f.svc.SubmitToAEAT(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RecordStatusAccepted, got.Status)
	assert.Empty(t, got.AEATErrorCode)

	require.Len(t, f.transport.submits, 2)
	assert.Equal(t, f.transport.submits[0], f.transport.submits[1])

	chain, err := f.store.ListChain(ctx, "B12345674")
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}

func TestSubmit_FalloDeTransporteConservaEstado(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec, err := f.svc.CreateFromSale(ctx, sale("T-0001", "121.00"))
	require.NoError(t, err)

	f.transport.submitFn = func([]byte) (*infravf.AeatResponse, error) {
		return nil, domainvf.NewTransportError(domainvf.ReasonTimeout, "sin respuesta", nil)
	}
	got, err := f.svc.SubmitToAEAT(ctx, rec.ID)
	require.Error(t, err)
	assert.True(t, domainvf.IsKind(err, domainvf.KindTransport))
	require.NotNil(t, got)
	assert.Equal(t, entity.RecordStatusPending, got.Status)
	assert.Equal(t, string(domainvf.KindTransport), got.AEATErrorCode)
	assert.Contains(t, got.AEATErrorMessage, "sin respuesta")

	// Reintento seguro: mismo XML, el registro sigue siendo enviable.
	f.transport.submitFn = nil
	got, err = f.svc.SubmitToAEAT(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RecordStatusAccepted, got.Status)
}

func TestSubmit_RespuestaIlegibleConservaRechazado(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec, err := f.svc.CreateFromSale(ctx, sale("T-0001", "121.00"))
	require.NoError(t, err)

	f.transport.submitFn = func([]byte) (*infravf.AeatResponse, error) { return rejected("1102", "NIF"), nil }
	_, err = f.svc.SubmitToAEAT(ctx, rec.ID)
	require.NoError(t, err)

	f.transport.submitFn = func([]byte) (*infravf.AeatResponse, error) {
		return nil, domainvf.NewParseError("respuesta SOAP no interpretable", nil)
	}
	got, err := f.svc.SubmitToAEAT(ctx, rec.ID)
	assert.True(t, domainvf.IsKind(err, domainvf.KindParse))
	assert.Equal(t, entity.RecordStatusRejected, got.Status)
}

func TestSubmit_EstadoNoPermitido(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec, err := f.svc.CreateFromSale(ctx, sale("T-0001", "121.00"))
	require.NoError(t, err)
	_, err = f.svc.SubmitToAEAT(ctx, rec.ID)
	require.NoError(t, err)

	_, err = f.svc.SubmitToAEAT(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	assert.Equal(t, 1, f.transport.submitCount())

	_, err = f.svc.SubmitToAEAT(ctx, "no-existe")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateFromSale_EnvioAutomatico(t *testing.T) {
	inline := func(task func()) { task() }
	f := newFixture(t, map[string]string{appvf.KeyAutoSubmit: "true"}, appvf.WithDispatcher(inline))
	ctx := context.Background()

	rec, err := f.svc.CreateFromSale(ctx, sale("T-0001", "121.00"))
	require.NoError(t, err)
	assert.Equal(t, entity.RecordStatusPending, rec.Status)

	got, err := f.svc.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RecordStatusAccepted, got.Status)
	assert.Equal(t, 1, f.transport.submitCount())
}

// ── Anulación ──

func acceptedRecord(t *testing.T, f *fixture, number string) *entity.InvoiceRecord {
	t.Helper()
	rec, err := f.svc.CreateFromSale(context.Background(), sale(number, "121.00"))
	require.NoError(t, err)
	rec, err = f.svc.SubmitToAEAT(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, entity.RecordStatusAccepted, rec.Status)
	return rec
}

func TestCancel_Exito(t *testing.T) {
	f := newFixture(t, nil)
	rec := acceptedRecord(t, f, "T-0001")

	got, err := f.svc.CancelRecord(context.Background(), rec.ID, "customer return")
	require.NoError(t, err)
	assert.Equal(t, entity.RecordStatusCancelled, got.Status)

	require.Len(t, f.transport.cancels, 1)
	doc := string(f.transport.cancels[0])
	assert.Contains(t, doc, "RegistroAnulacion")
	assert.Contains(t, doc, "customer return")
	assert.NotContains(t, doc, "Desglose")
	assert.NotContains(t, doc, "ImporteTotal")
}

func TestCancel_MotivoNoEsErrorAEAT(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec := acceptedRecord(t, f, "T-0001")

	got, err := f.svc.CancelRecord(ctx, rec.ID, "customer return")
	require.NoError(t, err)
	assert.Empty(t, got.AEATErrorCode)
	assert.Empty(t, got.AEATErrorMessage)
	assert.NotContains(t, got.AEATErrorMessage, "customer return")

	info, err := f.svc.ReceiptInfo(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RecordStatusCancelled, info.Status)
	assert.Empty(t, info.ErrorText)
}

func TestCancel_FalloConservaAceptado(t *testing.T) {
	f := newFixture(t, nil)
	rec := acceptedRecord(t, f, "T-0001")
	f.transport.cancelFn = func([]byte) (*infravf.AeatResponse, error) { return rejected("3000", "Registro no encontrado"), nil }

	_, err := f.svc.CancelRecord(context.Background(), rec.ID, "customer return")
	require.Error(t, err)
	assert.True(t, domainvf.IsKind(err, domainvf.KindRejection))

	got, err := f.svc.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RecordStatusAccepted, got.Status)
}

func TestCancel_TransporteFallidoConservaAceptado(t *testing.T) {
	f := newFixture(t, nil)
	rec := acceptedRecord(t, f, "T-0001")
	f.transport.cancelFn = func([]byte) (*infravf.AeatResponse, error) {
		return nil, domainvf.NewTransportError(domainvf.ReasonConnection, "rechazada", nil)
	}

	_, err := f.svc.CancelRecord(context.Background(), rec.ID, "devolución")
	assert.True(t, domainvf.IsKind(err, domainvf.KindTransport))

	got, _ := f.svc.GetRecord(context.Background(), rec.ID)
	assert.Equal(t, entity.RecordStatusAccepted, got.Status)
}

func TestCancel_PendienteNoPermitido(t *testing.T) {
	f := newFixture(t, nil)
	rec, err := f.svc.CreateFromSale(context.Background(), sale("T-0001", "121.00"))
	require.NoError(t, err)

	_, err = f.svc.CancelRecord(context.Background(), rec.ID, "x")
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	assert.Empty(t, f.transport.cancels)
}

func TestCancel_LaColaSaltaElAnulado(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first := acceptedRecord(t, f, "T-0001")
	second := acceptedRecord(t, f, "T-0002")

	_, err := f.svc.CancelRecord(ctx, second.ID, "error de caja")
	require.NoError(t, err)

	third, err := f.svc.CreateFromSale(ctx, sale("T-0003", "5.00"))
	require.NoError(t, err)
	require.NotNil(t, third.PreviousHash)
	assert.Equal(t, first.CurrentHash, *third.PreviousHash)

	report, err := f.svc.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid, "%+v", report.Findings)
}

// ── Rectificativas ──

func TestRectificationCode(t *testing.T) {
	assert.Equal(t, "R5", appvf.RectificationCode("F2", true))
	assert.Equal(t, "R5", appvf.RectificationCode("R5", false))
	assert.Equal(t, "R1", appvf.RectificationCode("F1", true))
	assert.Equal(t, "R4", appvf.RectificationCode("F1", false))
}

func TestCreateRectification_Simplificada(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	orig := acceptedRecord(t, f, "T-0001")

	amount := dec("60.50")
	r1, err := f.svc.CreateRectification(ctx, orig.ID, "precio erróneo", &amount)
	require.NoError(t, err)
	assert.Equal(t, "T-0001-R1", r1.InvoiceNumber)
	assert.Equal(t, pkgvf.InvoiceTypeR5, r1.InvoiceType)
	assert.Equal(t, orig.ID, r1.OriginalInvoiceID)
	assert.True(t, r1.TotalAmount.Equal(amount))
	assert.True(t, r1.BaseAmount.Equal(dec("50.00")))
	require.NotNil(t, r1.Rectification)
	assert.Equal(t, pkgvf.RectificationBySubstitution, r1.Rectification.Kind)
	assert.Equal(t, "T-0001", r1.Rectification.InvoiceNumber)
	assert.True(t, r1.Rectification.BaseAmount.Equal(orig.BaseAmount))
	assert.Contains(t, r1.XMLContent, "<sum:TipoRectificativa>S</sum:TipoRectificativa>")
	assert.Contains(t, r1.XMLContent, "<sum:BaseRectificada>100.00</sum:BaseRectificada>")
	assert.Equal(t, orig.CurrentHash, *r1.PreviousHash)

	r2, err := f.svc.CreateRectification(ctx, orig.ID, "otra corrección", nil)
	require.NoError(t, err)
	assert.Equal(t, "T-0001-R2", r2.InvoiceNumber)
}

func TestCreateRectification_CompletaR1yR4(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	orig, err := f.svc.CreateRecord(ctx, appvf.NewInvoice{
		InvoiceNumber: "F-0001", InvoiceDate: fixedNow, InvoiceType: pkgvf.InvoiceTypeOrdinary,
		RecipientNIF: "12345678Z", RecipientName: "Cliente SA",
		BaseAmount: dec("200"), TaxRate: dec("21"),
	}, "")
	require.NoError(t, err)
	_, err = f.svc.SubmitToAEAT(ctx, orig.ID)
	require.NoError(t, err)

	amount := dec("121")
	r1, err := f.svc.CreateRectification(ctx, orig.ID, "descuento", &amount)
	require.NoError(t, err)
	assert.Equal(t, pkgvf.InvoiceTypeR1, r1.InvoiceType)
	assert.Equal(t, "12345678Z", r1.RecipientNIF)

	r4, err := f.svc.CreateRectification(ctx, orig.ID, "dirección", nil)
	require.NoError(t, err)
	assert.Equal(t, pkgvf.InvoiceTypeR4, r4.InvoiceType)
	assert.True(t, r4.TotalAmount.Equal(orig.TotalAmount))
}

func TestCreateRectification_ConcurrentesNumeranSinColision(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	orig := acceptedRecord(t, f, "T-0001")

	const k = 8
	var wg sync.WaitGroup
	numbers := make(chan string, k)
	errs := make(chan error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.svc.CreateRectification(ctx, orig.ID, "corrección", nil)
			if err != nil {
				errs <- err
				return
			}
			numbers <- r.InvoiceNumber
		}()
	}
	wg.Wait()
	close(errs)
	close(numbers)
	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	for n := range numbers {
		assert.False(t, seen[n], "número repetido %s", n)
		seen[n] = true
	}
	for i := 1; i <= k; i++ {
		assert.True(t, seen[fmt.Sprintf("T-0001-R%d", i)], "falta T-0001-R%d", i)
	}
}

// staleCountStore simula otro proceso: el primer recuento de rectificativas llega desfasado.
type staleCountStore struct {
	*memory.ChainStore
	stale int
	calls int
}

func (s *staleCountStore) CountRectifications(ctx context.Context, originalID string) (int, error) {
	n, err := s.ChainStore.CountRectifications(ctx, originalID)
	s.calls++
	if s.calls == 1 {
		n -= s.stale
	}
	return n, err
}

func TestCreateRectification_NumeroOcupadoRenumera(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	orig := acceptedRecord(t, f, "T-0001")
	_, err := f.svc.CreateRectification(ctx, orig.ID, "primera", nil)
	require.NoError(t, err)

	stale := &staleCountStore{ChainStore: f.store, stale: 1}
	svc := appvf.NewRecordService(stale, f.configs, infravf.NewDocumentBuilder(), f.transport)

	r2, err := svc.CreateRectification(ctx, orig.ID, "segunda", nil)
	require.NoError(t, err)
	assert.Equal(t, "T-0001-R2", r2.InvoiceNumber)
	assert.Equal(t, 2, stale.calls)
}

func TestCreateRectification_SoloAceptados(t *testing.T) {
	f := newFixture(t, nil)
	rec, err := f.svc.CreateFromSale(context.Background(), sale("T-0001", "121.00"))
	require.NoError(t, err)

	_, err = f.svc.CreateRectification(context.Background(), rec.ID, "x", nil)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

// ── Consultas ──

func TestReceiptInfo_ConRechazo(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec, err := f.svc.CreateFromSale(ctx, sale("T-0001", "121.00"))
	require.NoError(t, err)
	f.transport.submitFn = func([]byte) (*infravf.AeatResponse, error) {
		return rejected("1102", "El NIF no está identificado"), nil
	}
	_, err = f.svc.SubmitToAEAT(ctx, rec.ID)
	require.NoError(t, err)

	info, err := f.svc.ReceiptInfo(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RecordStatusRejected, info.Status)
	assert.Equal(t, rec.CurrentHash[56:], info.HashSuffix)
	assert.Equal(t, "1102 - El NIF no está identificado", info.ErrorText)
	assert.True(t, strings.HasPrefix(info.QRURL, pkgvf.QRBaseURLTest))
}

func TestAuditRecord_RegistroIntegro(t *testing.T) {
	f := newFixture(t, nil)
	rec, err := f.svc.CreateFromSale(context.Background(), sale("T-0001", "121.00"))
	require.NoError(t, err)

	report, err := f.svc.AuditRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, report.HashValid)
	assert.True(t, report.DocumentMatches, "%v", report.Problems)
	assert.Empty(t, report.Problems)
}

func TestAuditRecord_ConfiguracionCambiada(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec, err := f.svc.CreateFromSale(ctx, sale("T-0001", "121.00"))
	require.NoError(t, err)

	require.NoError(t, f.configs.Update(ctx, map[string]string{appvf.KeySoftwareVersion: "2.0.0"}))
	report, err := f.svc.AuditRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, report.HashValid)
	assert.False(t, report.DocumentMatches)
}

func TestStatisticsYListado(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	acceptedRecord(t, f, "T-0001")
	_, err := f.svc.CreateFromSale(ctx, sale("T-0002", "10.00"))
	require.NoError(t, err)

	stats, err := f.svc.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[entity.RecordStatusAccepted])
	assert.Equal(t, 1, stats.ByStatus[entity.RecordStatusPending])
	assert.True(t, stats.AcceptedAmount.Equal(dec("121")))

	list, total, err := f.svc.ListRecords(ctx, entity.RecordFilter{Status: entity.RecordStatusPending})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, "T-0002", list[0].InvoiceNumber)

	_, _, err = f.svc.ListRecords(ctx, entity.RecordFilter{Status: "RARO"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestQRCode_Formatos(t *testing.T) {
	f := newFixture(t, nil)
	rec, err := f.svc.CreateFromSale(context.Background(), sale("T-0001", "121.00"))
	require.NoError(t, err)

	png, ct, err := f.svc.QRCode(context.Background(), rec.ID, "png", infravf.DefaultQROptions())
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, "\x89PNG", string(png[:4]))

	svg, ct, err := f.svc.QRCode(context.Background(), rec.ID, "svg", infravf.DefaultQROptions())
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", ct)
	assert.Contains(t, string(svg), "<svg")

	_, _, err = f.svc.QRCode(context.Background(), rec.ID, "gif", infravf.DefaultQROptions())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestReceiptYExport_SinGenerador(t *testing.T) {
	f := newFixture(t, nil)
	rec, err := f.svc.CreateFromSale(context.Background(), sale("T-0001", "121.00"))
	require.NoError(t, err)

	_, _, err = f.svc.Receipt(context.Background(), rec.ID)
	assert.ErrorIs(t, err, domain.ErrFeatureDisabled)
	_, err = f.svc.ExportRecords(context.Background(), entity.RecordFilter{})
	assert.ErrorIs(t, err, domain.ErrFeatureDisabled)
}
