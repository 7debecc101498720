package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/verifactu-api/internal/application/dto"
	appvf "github.com/jhoicas/verifactu-api/internal/application/verifactu"
	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	domainvf "github.com/jhoicas/verifactu-api/internal/domain/verifactu"
	"github.com/jhoicas/verifactu-api/internal/infrastructure/export"
	"github.com/jhoicas/verifactu-api/internal/infrastructure/memory"
	"github.com/jhoicas/verifactu-api/internal/infrastructure/pdf"
	infravf "github.com/jhoicas/verifactu-api/internal/infrastructure/verifactu"
	apphttp "github.com/jhoicas/verifactu-api/internal/interfaces/http"
	"github.com/jhoicas/verifactu-api/internal/testutil"
	"github.com/jhoicas/verifactu-api/pkg/config"
	pkgjwt "github.com/jhoicas/verifactu-api/pkg/jwt"
)

// stubTransport respuesta fija de la AEAT; err tiene prioridad.
type stubTransport struct {
	mu   sync.Mutex
	resp *infravf.AeatResponse
	err  error
}

func (s *stubTransport) answer() (*infravf.AeatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.resp != nil {
		return s.resp, nil
	}
	return &infravf.AeatResponse{Success: true, Status: "Correcto", CSV: "CSV-1"}, nil
}

func (s *stubTransport) Submit(context.Context, []byte, *entity.SubmissionConfig) (*infravf.AeatResponse, error) {
	return s.answer()
}

func (s *stubTransport) Cancel(context.Context, []byte, *entity.SubmissionConfig) (*infravf.AeatResponse, error) {
	return s.answer()
}

func (s *stubTransport) TestConnection(_ context.Context, cfg *entity.SubmissionConfig) *infravf.ConnectionTestResult {
	return &infravf.ConnectionTestResult{
		Success: cfg.HasCertificate(), CertificateValid: cfg.HasCertificate(), ServerReachable: true,
		Endpoint: infravf.EndpointFor(cfg), Message: "ok", CheckedAt: time.Now(),
	}
}

type apiFixture struct {
	app       *fiber.App
	transport *stubTransport
	settings  *memory.SettingsRepository
}

func newAPI(t *testing.T, settings map[string]string) *apiFixture {
	t.Helper()
	f := &apiFixture{transport: &stubTransport{}, settings: memory.NewSettingsRepository(settings)}
	configs := appvf.NewConfigLoader(f.settings, config.VerifactuConfig{
		Enabled:            true,
		Environment:        "test",
		IssuerNIF:          "B12345674",
		IssuerName:         "COMERCIAL EJEMPLO SL",
		DefaultTaxRate:     "21",
		Timeout:            5 * time.Second,
		SoftwareName:       "Invorya TPV",
		SoftwareID:         "IT",
		SoftwareVersion:    "1.0.0",
		InstallationNumber: "1",
	}, time.Minute)
	svc := appvf.NewRecordService(memory.NewChainStore(), configs, infravf.NewDocumentBuilder(), f.transport,
		appvf.WithDispatcher(func(task func()) { task() }),
		appvf.WithReceiptRenderer(pdf.NewReceiptGenerator()),
		appvf.WithExporter(export.NewExcelExporter(nil)),
	)
	f.app = fiber.New()
	apphttp.Router(f.app, apphttp.RouterDeps{
		Records:      svc,
		Configs:      configs,
		Certificates: infravf.NewCertificateManager(t.TempDir()),
		Transport:    f.transport,
		JWTSecret:    testJWTSecret,
		Environment:  "test",
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, role string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", tokenForRole(t, role))
	}
	return f.send(t, req)
}

func (f *apiFixture) send(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func (f *apiFixture) createSale(t *testing.T, number, total string) dto.RecordResponse {
	t.Helper()
	resp, raw := f.do(t, http.MethodPost, "/api/verifactu/records/from-sale", pkgjwt.RoleOperator, map[string]any{
		"sale_id": "sale-" + number, "invoice_number": number, "sale_date": "2026-01-19", "total": total,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	return decode[dto.RecordResponse](t, raw)
}

// ── Salud ──

func TestHealth(t *testing.T) {
	f := newAPI(t, nil)
	resp, raw := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

// ── Registros ──

func TestRecords_CrearEnviarYConsultar(t *testing.T) {
	f := newAPI(t, nil)
	rec := f.createSale(t, "T-0001", "121.00")

	assert.Equal(t, "PENDING", rec.Status)
	assert.Equal(t, "F2", rec.InvoiceType)
	assert.True(t, rec.BaseAmount.Equal(decimal.NewFromInt(100)))
	assert.True(t, rec.TaxAmount.Equal(decimal.NewFromInt(21)))
	assert.Nil(t, rec.PreviousHash)
	assert.Empty(t, rec.XMLContent, "el listado no incluye el XML")

	resp, raw := f.do(t, http.MethodPost, "/api/verifactu/records/"+rec.ID+"/submit", pkgjwt.RoleOperator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	sent := decode[dto.RecordResponse](t, raw)
	assert.Equal(t, "ACCEPTED", sent.Status)
	assert.Equal(t, "CSV-1", sent.AEATCSV)

	resp, raw = f.do(t, http.MethodGet, "/api/verifactu/records/"+rec.ID, pkgjwt.RoleViewer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decode[dto.RecordResponse](t, raw)
	assert.Contains(t, detail.XMLContent, "RegFactuSistemaFacturacion")

	resp, raw = f.do(t, http.MethodPost, "/api/verifactu/records/"+rec.ID+"/submit", pkgjwt.RoleOperator, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ILLEGAL_TRANSITION", decode[dto.ErrorResponse](t, raw).Code)
}

func TestRecords_RechazoDevuelve200(t *testing.T) {
	f := newAPI(t, nil)
	rec := f.createSale(t, "T-0001", "121.00")
	f.transport.resp = &infravf.AeatResponse{Status: "Incorrecto", ErrorCode: "1102", ErrorMessage: "NIF no identificado"}

	resp, raw := f.do(t, http.MethodPost, "/api/verifactu/records/"+rec.ID+"/submit", pkgjwt.RoleOperator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[dto.RecordResponse](t, raw)
	assert.Equal(t, "REJECTED", got.Status)
	assert.Equal(t, "1102", got.AEATErrorCode)

	resp, raw = f.do(t, http.MethodGet, "/api/verifactu/records/"+rec.ID+"/receipt-info", pkgjwt.RoleViewer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[dto.ReceiptInfoResponse](t, raw)
	assert.Equal(t, "1102 - NIF no identificado", info.ErrorText)
	assert.Len(t, info.HashSuffix, 8)
}

func TestRecords_FalloDeTransporte502(t *testing.T) {
	f := newAPI(t, nil)
	rec := f.createSale(t, "T-0001", "121.00")
	f.transport.err = domainvf.NewTransportError(domainvf.ReasonTimeout, "sin respuesta", nil)

	resp, raw := f.do(t, http.MethodPost, "/api/verifactu/records/"+rec.ID+"/submit", pkgjwt.RoleOperator, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decode[dto.ErrorResponse](t, raw)
	assert.Equal(t, "AEAT_UNREACHABLE", body.Code)
	assert.Equal(t, domainvf.ReasonTimeout, body.Reason)
	require.NotNil(t, body.Record, "el cuerpo de error incluye el registro")
	assert.Equal(t, rec.ID, body.Record.ID)
	assert.Equal(t, "PENDING", body.Record.Status)

	_, raw = f.do(t, http.MethodGet, "/api/verifactu/records/"+rec.ID, pkgjwt.RoleViewer, nil)
	assert.Equal(t, "PENDING", decode[dto.RecordResponse](t, raw).Status)
}

func TestRecords_AnularYRectificar(t *testing.T) {
	f := newAPI(t, nil)
	rec := f.createSale(t, "T-0001", "121.00")
	_, _ = f.do(t, http.MethodPost, "/api/verifactu/records/"+rec.ID+"/submit", pkgjwt.RoleOperator, nil)

	resp, raw := f.do(t, http.MethodPost, "/api/verifactu/records/"+rec.ID+"/rectify", pkgjwt.RoleOperator,
		map[string]any{"reason": "precio erróneo", "new_amount": "60.50"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	rect := decode[dto.RecordResponse](t, raw)
	assert.Equal(t, "T-0001-R1", rect.InvoiceNumber)
	assert.Equal(t, "R5", rect.InvoiceType)
	require.NotNil(t, rect.Rectification)
	assert.Equal(t, "T-0001", rect.Rectification.InvoiceNumber)

	resp, raw = f.do(t, http.MethodPost, "/api/verifactu/records/"+rec.ID+"/cancel", pkgjwt.RoleOperator,
		map[string]any{"reason": "devolución"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.Equal(t, "CANCELLED", decode[dto.RecordResponse](t, raw).Status)

	resp, _ = f.do(t, http.MethodPost, "/api/verifactu/records/"+rect.ID+"/cancel", pkgjwt.RoleOperator,
		map[string]any{"reason": "x"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "una rectificativa pendiente no se anula")
}

func TestRecords_CancelRechazado422(t *testing.T) {
	f := newAPI(t, nil)
	rec := f.createSale(t, "T-0001", "121.00")
	_, _ = f.do(t, http.MethodPost, "/api/verifactu/records/"+rec.ID+"/submit", pkgjwt.RoleOperator, nil)
	f.transport.resp = &infravf.AeatResponse{Status: "Incorrecto", ErrorCode: "3000", ErrorMessage: "no existe"}

	resp, raw := f.do(t, http.MethodPost, "/api/verifactu/records/"+rec.ID+"/cancel", pkgjwt.RoleOperator,
		map[string]any{"reason": "devolución"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "AEAT_REJECTED", decode[dto.ErrorResponse](t, raw).Code)
}

func TestRecords_Validaciones(t *testing.T) {
	f := newAPI(t, nil)

	resp, raw := f.do(t, http.MethodPost, "/api/verifactu/records/from-sale", pkgjwt.RoleOperator, map[string]any{"total": "10"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(raw))

	resp, _ = f.do(t, http.MethodPost, "/api/verifactu/records/from-sale", pkgjwt.RoleOperator,
		map[string]any{"sale_id": "s1", "total": "10", "sale_date": "19/01/2026"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw = f.do(t, http.MethodPost, "/api/verifactu/records", pkgjwt.RoleOperator, map[string]any{
		"invoice_number": "F-1", "invoice_date": "2026-01-19", "invoice_type": "F1", "base_amount": "100", "tax_rate": "21",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, "F1 sin destinatario")
	assert.Equal(t, "VALIDATION", decode[dto.ErrorResponse](t, raw).Code)

	resp, _ = f.do(t, http.MethodGet, "/api/verifactu/records/no-existe", pkgjwt.RoleViewer, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/verifactu/records?status=RARO", pkgjwt.RoleViewer, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecords_DuplicadoDevuelve409(t *testing.T) {
	f := newAPI(t, nil)
	f.createSale(t, "T-0001", "121.00")

	resp, raw := f.do(t, http.MethodPost, "/api/verifactu/records/from-sale", pkgjwt.RoleOperator,
		map[string]any{"sale_id": "otra", "invoice_number": "T-0001", "total": "5"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "DUPLICATE", decode[dto.ErrorResponse](t, raw).Code)
}

func TestRecords_LectorNoPuedeCrear(t *testing.T) {
	f := newAPI(t, nil)
	resp, _ := f.do(t, http.MethodPost, "/api/verifactu/records/from-sale", pkgjwt.RoleViewer,
		map[string]any{"sale_id": "s1", "total": "10"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRecords_DeshabilitadoYHabilitar(t *testing.T) {
	f := newAPI(t, map[string]string{appvf.KeyEnabled: "false"})

	resp, raw := f.do(t, http.MethodGet, "/api/verifactu/records", pkgjwt.RoleViewer, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FEATURE_DISABLED", decode[dto.ErrorResponse](t, raw).Code)

	resp, _ = f.do(t, http.MethodPut, "/api/verifactu/settings", pkgjwt.RoleAdmin, map[string]string{appvf.KeyEnabled: "true"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/verifactu/records", pkgjwt.RoleViewer, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecords_ListadoEstadisticasYCadena(t *testing.T) {
	f := newAPI(t, nil)
	for _, n := range []string{"T-0001", "T-0002", "T-0003"} {
		f.createSale(t, n, "12.10")
	}

	resp, raw := f.do(t, http.MethodGet, "/api/verifactu/records?limit=2", pkgjwt.RoleViewer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[dto.RecordListResponse](t, raw)
	assert.Len(t, list.Items, 2)
	assert.Equal(t, 3, list.Page.Total)
	assert.Equal(t, "T-0003", list.Items[0].InvoiceNumber)

	resp, raw = f.do(t, http.MethodGet, "/api/verifactu/stats", pkgjwt.RoleViewer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[dto.StatsResponse](t, raw)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.ByStatus["PENDING"])

	resp, raw = f.do(t, http.MethodGet, "/api/verifactu/chain/verify", pkgjwt.RoleViewer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[dto.ChainReportResponse](t, raw)
	assert.True(t, report.Valid)
	assert.Equal(t, 3, report.Checked)
	assert.Empty(t, report.Findings)

	resp, raw = f.do(t, http.MethodGet, "/api/verifactu/records/"+list.Items[0].ID+"/audit", pkgjwt.RoleViewer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	audit := decode[dto.AuditResponse](t, raw)
	assert.True(t, audit.HashValid)
	assert.True(t, audit.DocumentMatches)
}

func TestRecords_QRJustificanteYExportacion(t *testing.T) {
	f := newAPI(t, nil)
	rec := f.createSale(t, "T-0001", "121.00")

	resp, raw := f.do(t, http.MethodGet, "/api/verifactu/records/"+rec.ID+"/qr", pkgjwt.RoleViewer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "\x89PNG", string(raw[:4]))

	resp, raw = f.do(t, http.MethodGet, "/api/verifactu/records/"+rec.ID+"/qr?format=svg", pkgjwt.RoleViewer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(raw), "<svg"))

	resp, _ = f.do(t, http.MethodGet, "/api/verifactu/records/"+rec.ID+"/qr?format=bmp", pkgjwt.RoleViewer, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw = f.do(t, http.MethodGet, "/api/verifactu/records/"+rec.ID+"/receipt", pkgjwt.RoleViewer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "verifactu_T-0001.pdf")
	assert.True(t, bytes.HasPrefix(raw, []byte("%PDF")))

	resp, raw = f.do(t, http.MethodGet, "/api/verifactu/records/export", pkgjwt.RoleViewer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")
	assert.Equal(t, "PK", string(raw[:2]), "xlsx es un zip")
}

// ── Ajustes y certificado ──

func TestSettings_SoloAdminYEnmascarado(t *testing.T) {
	f := newAPI(t, map[string]string{appvf.KeyCertPassword: "s3cr3t"})

	resp, _ := f.do(t, http.MethodGet, "/api/verifactu/settings", pkgjwt.RoleOperator, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw := f.do(t, http.MethodGet, "/api/verifactu/settings", pkgjwt.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[map[string]string](t, raw)
	assert.Equal(t, "********", view[appvf.KeyCertPassword])
	assert.NotContains(t, string(raw), "s3cr3t")

	resp, raw = f.do(t, http.MethodPut, "/api/verifactu/settings", pkgjwt.RoleAdmin, map[string]string{"color": "azul"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION", decode[dto.ErrorResponse](t, raw).Code)
}

func uploadRequest(t *testing.T, data []byte, password string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("certificate", "empresa.p12")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.WriteField("password", password))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/verifactu/certificate", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", tokenForRole(t, pkgjwt.RoleAdmin))
	return req
}

func TestCertificate_SubirConsultarYBorrar(t *testing.T) {
	f := newAPI(t, nil)
	opts := testutil.DefaultCertOptions()
	data, _ := testutil.P12(t, opts)

	resp, raw := f.send(t, uploadRequest(t, data, "incorrecta"))
	assert.Equal(t, http.StatusFailedDependency, resp.StatusCode, string(raw))
	assert.Equal(t, domainvf.ReasonIncorrectPassword, decode[dto.ErrorResponse](t, raw).Reason)

	resp, raw = f.send(t, uploadRequest(t, data, opts.Password))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	info := decode[dto.CertificateResponse](t, raw)
	assert.True(t, info.Valid)
	assert.Equal(t, "B12345674", info.SerialNumberNIF)
	assert.True(t, strings.HasSuffix(info.Path, "empresa.p12"))

	resp, raw = f.do(t, http.MethodGet, "/api/verifactu/certificate", pkgjwt.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.Equal(t, info.Fingerprint, decode[dto.CertificateResponse](t, raw).Fingerprint)

	resp, raw = f.do(t, http.MethodPost, "/api/verifactu/connection/test", pkgjwt.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[dto.ConnectionTestResponse](t, raw).CertificateValid)

	resp, raw = f.do(t, http.MethodDelete, "/api/verifactu/certificate", pkgjwt.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"deleted":true}`, string(raw))

	resp, _ = f.do(t, http.MethodGet, "/api/verifactu/certificate", pkgjwt.RoleAdmin, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCertificate_CaducadoNoSeGuarda(t *testing.T) {
	f := newAPI(t, nil)
	opts := testutil.DefaultCertOptions()
	opts.NotBefore = time.Now().AddDate(-2, 0, 0)
	opts.NotAfter = time.Now().AddDate(-1, 0, 0)
	data, _ := testutil.P12(t, opts)

	resp, raw := f.send(t, uploadRequest(t, data, opts.Password))
	assert.Equal(t, http.StatusFailedDependency, resp.StatusCode)
	assert.Equal(t, domainvf.ReasonExpired, decode[dto.ErrorResponse](t, raw).Reason)

	stored, err := f.settings.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored[appvf.KeyCertPath])
}
