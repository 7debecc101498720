package verifactu_test

import (
	"context"
	"sync"
	"testing"
	"time"

	appvf "github.com/jhoicas/verifactu-api/internal/application/verifactu"
	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	infravf "github.com/jhoicas/verifactu-api/internal/infrastructure/verifactu"
	"github.com/jhoicas/verifactu-api/internal/infrastructure/memory"
	"github.com/jhoicas/verifactu-api/pkg/config"
)

var fixedNow = time.Date(2026, 1, 19, 10, 30, 0, 0, time.UTC)

func testDefaults() config.VerifactuConfig {
	return config.VerifactuConfig{
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
	}
}

// fakeTransport respuestas programables; registra los documentos recibidos.
type fakeTransport struct {
	mu       sync.Mutex
	submitFn func(doc []byte) (*infravf.AeatResponse, error)
	cancelFn func(doc []byte) (*infravf.AeatResponse, error)
	submits  [][]byte
	cancels  [][]byte
}

func (f *fakeTransport) Submit(_ context.Context, doc []byte, _ *entity.SubmissionConfig) (*infravf.AeatResponse, error) {
	f.mu.Lock()
	f.submits = append(f.submits, doc)
	fn := f.submitFn
	f.mu.Unlock()
	if fn == nil {
		return accepted(), nil
	}
	return fn(doc)
}

func (f *fakeTransport) Cancel(_ context.Context, doc []byte, _ *entity.SubmissionConfig) (*infravf.AeatResponse, error) {
	f.mu.Lock()
	f.cancels = append(f.cancels, doc)
	fn := f.cancelFn
	f.mu.Unlock()
	if fn == nil {
		return accepted(), nil
	}
	return fn(doc)
}

func (f *fakeTransport) TestConnection(context.Context, *entity.SubmissionConfig) *infravf.ConnectionTestResult {
	return &infravf.ConnectionTestResult{Success: true, CertificateValid: true, ServerReachable: true}
}

func (f *fakeTransport) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func accepted() *infravf.AeatResponse {
	return &infravf.AeatResponse{Success: true, Status: "Correcto", CSV: "A-CSV123", HTTPStatus: 200, RawResponse: "<ok/>"}
}

func rejected(code, msg string) *infravf.AeatResponse {
	return &infravf.AeatResponse{Status: "Incorrecto", ErrorCode: code, ErrorMessage: msg, HTTPStatus: 200, RawResponse: "<ko/>"}
}

type fixture struct {
	store     *memory.ChainStore
	settings  *memory.SettingsRepository
	configs   *appvf.ConfigLoader
	transport *fakeTransport
	svc       *appvf.RecordService
}

func newFixture(t *testing.T, settings map[string]string, opts ...appvf.ServiceOption) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.NewChainStore(),
		settings:  memory.NewSettingsRepository(settings),
		transport: &fakeTransport{},
	}
	f.configs = appvf.NewConfigLoader(f.settings, testDefaults(), time.Minute)
	all := append([]appvf.ServiceOption{appvf.WithServiceClock(func() time.Time { return fixedNow })}, opts...)
	f.svc = appvf.NewRecordService(f.store, f.configs, infravf.NewDocumentBuilder(), f.transport, all...)
	return f
}
