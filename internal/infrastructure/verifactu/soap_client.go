package verifactu

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	domainvf "github.com/jhoicas/verifactu-api/internal/domain/verifactu"
	"github.com/jhoicas/verifactu-api/pkg/logger"
	pkgvf "github.com/jhoicas/verifactu-api/pkg/verifactu"
	"golang.org/x/time/rate"
)

// ── Constantes ─────────────────────────────────────────────────────────────────

const (
	defaultTimeout   = 30 * time.Second
	soapActionSubmit = "RegFactuSistemaFacturacion"
	maxResponseBytes = 1 << 20 // 1 MB
)

// ── Puertos ────────────────────────────────────────────────────────────────────

// AEATTransport puerto de salida hacia el servicio SOAP de la AEAT.
// La implementación concreta usa TLS mutuo; los tests inyectan un mock.
type AEATTransport interface {
	Submit(ctx context.Context, xmlDoc []byte, cfg *entity.SubmissionConfig) (*AeatResponse, error)
	Cancel(ctx context.Context, xmlDoc []byte, cfg *entity.SubmissionConfig) (*AeatResponse, error)
	TestConnection(ctx context.Context, cfg *entity.SubmissionConfig) *ConnectionTestResult
}

// CertificateLoader origen del certificado cliente (CertificateManager).
type CertificateLoader interface {
	Load(path, password string) (*CertificateBundle, error)
}

// ── Implementación SOAP ────────────────────────────────────────────────────────

// SOAPClient implementa AEATTransport sobre net/http con certificado cliente.
// La verificación del certificado del servidor nunca se desactiva.
type SOAPClient struct {
	certs   CertificateLoader
	rootCAs *x509.CertPool
	timeout time.Duration
	limiter *rate.Limiter
	now     func() time.Time
	log     *logger.Logger
}

// ClientOption configura el SOAPClient.
type ClientOption func(*SOAPClient)

// WithRootCAs CAs adicionales para verificar el servidor (preproducción, tests).
func WithRootCAs(pool *x509.CertPool) ClientOption {
	return func(c *SOAPClient) { c.rootCAs = pool }
}

// WithTimeout timeout por defecto cuando la configuración no indica uno.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *SOAPClient) { c.timeout = d }
}

// WithRateLimit limita los envíos a rps por segundo con ráfaga burst. rps <= 0 lo desactiva.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *SOAPClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithClock reloj para la validación temporal del certificado.
func WithClock(now func() time.Time) ClientOption {
	return func(c *SOAPClient) { c.now = now }
}

// WithLogger logger del cliente.
func WithLogger(l *logger.Logger) ClientOption {
	return func(c *SOAPClient) { c.log = l }
}

// NewSOAPClient construye el cliente con timeout de 30 s.
func NewSOAPClient(certs CertificateLoader, opts ...ClientOption) *SOAPClient {
	c := &SOAPClient{certs: certs, timeout: defaultTimeout, now: time.Now, log: logger.Nop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit envía un RegistroAlta.
func (c *SOAPClient) Submit(ctx context.Context, xmlDoc []byte, cfg *entity.SubmissionConfig) (*AeatResponse, error) {
	return c.post(ctx, xmlDoc, cfg)
}

// Cancel envía un RegistroAnulacion (mismo servicio, distinto registro).
func (c *SOAPClient) Cancel(ctx context.Context, xmlDoc []byte, cfg *entity.SubmissionConfig) (*AeatResponse, error) {
	return c.post(ctx, xmlDoc, cfg)
}

func (c *SOAPClient) post(ctx context.Context, xmlDoc []byte, cfg *entity.SubmissionConfig) (*AeatResponse, error) {
	if cfg == nil {
		return nil, domainvf.NewValidationError("configuración de envío obligatoria")
	}
	bundle, err := c.loadValidCertificate(cfg)
	if err != nil {
		return nil, err
	}
	httpClient, err := c.httpClient(bundle, cfg)
	if err != nil {
		return nil, err
	}
	defer httpClient.CloseIdleConnections()

	timeout := c.timeoutFor(cfg)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, domainvf.NewTransportError(domainvf.ReasonTimeout, "límite de envíos: espera cancelada", err)
		}
	}

	endpoint := EndpointFor(cfg)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(xmlDoc))
	if err != nil {
		return nil, domainvf.NewTransportError(domainvf.ReasonConnection, "crear request", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", soapActionSubmit)

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err, timeout)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransportError(ctx, err, timeout)
	}
	c.log.Debug().
		Str("endpoint", endpoint).
		Int("http_status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("respuesta AEAT recibida")

	out, perr := ParseResponse(raw)
	if perr != nil {
		if resp.StatusCode >= 300 {
			return nil, domainvf.NewTransportError(domainvf.ReasonHTTPStatus,
				fmt.Sprintf("la AEAT respondió HTTP %d", resp.StatusCode), perr)
		}
		return nil, perr
	}
	out.HTTPStatus = resp.StatusCode
	return out, nil
}

func (c *SOAPClient) timeoutFor(cfg *entity.SubmissionConfig) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return c.timeout
}

// loadValidCertificate carga el certificado y exige que esté vigente.
func (c *SOAPClient) loadValidCertificate(cfg *entity.SubmissionConfig) (*CertificateBundle, error) {
	if !cfg.HasCertificate() {
		return nil, domainvf.NewCertificateError(domainvf.ReasonNotConfigured, "no hay certificado configurado", nil)
	}
	bundle, err := c.certs.Load(cfg.CertPath, cfg.CertPassword)
	if err != nil {
		return nil, err
	}
	if err := ValidateBundle(bundle, c.now()).Err(); err != nil {
		return nil, err
	}
	return bundle, nil
}

func (c *SOAPClient) httpClient(bundle *CertificateBundle, cfg *entity.SubmissionConfig) (*http.Client, error) {
	clientCert, err := bundle.TLSCertificate()
	if err != nil {
		return nil, domainvf.NewCertificateError(domainvf.ReasonMalformed, "preparar certificado cliente", err)
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			Certificates: []tls.Certificate{clientCert},
			RootCAs:      c.rootCAs, // nil = CAs del sistema
			MinVersion:   tls.VersionTLS12,
		},
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: c.timeoutFor(cfg),
		MaxIdleConns:          2,
	}
	return &http.Client{Transport: tr, Timeout: c.timeoutFor(cfg)}, nil
}

// classifyTransportError distingue timeout, fallo TLS y error de conexión.
func classifyTransportError(ctx context.Context, err error, timeout time.Duration) error {
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return domainvf.NewTransportError(domainvf.ReasonTimeout,
			fmt.Sprintf("sin respuesta de la AEAT en %s", timeout), err)
	case errors.Is(err, context.Canceled):
		return domainvf.NewTransportError(domainvf.ReasonConnection, "envío cancelado", err)
	case isTLSError(err):
		return domainvf.NewTransportError(domainvf.ReasonTLS, "fallo en el handshake TLS", err)
	default:
		return domainvf.NewTransportError(domainvf.ReasonConnection, "llamada HTTP fallida", err)
	}
}

func isTLSError(err error) bool {
	var certErr *tls.CertificateVerificationError
	var recErr tls.RecordHeaderError
	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &certErr) || errors.As(err, &recErr) || errors.As(err, &unknownAuth) {
		return true
	}
	return strings.Contains(err.Error(), "tls:")
}

// ── Respuesta ──────────────────────────────────────────────────────────────────

// ParseResponse interpreta la respuesta SOAP por nombres locales (sin prefijos).
// Fault → fallo con faultcode/faultstring; EstadoRegistro (o EstadoEnvio) Correcto /
// AceptadoConErrores → éxito; cualquier otro estado → fallo con el código de error.
// Un cuerpo no interpretable es ParseError.
func ParseResponse(raw []byte) (*AeatResponse, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, domainvf.NewParseError("respuesta vacía", nil)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, domainvf.NewParseError("respuesta SOAP no interpretable", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, domainvf.NewParseError("respuesta SOAP sin elemento raíz", nil)
	}

	out := &AeatResponse{RawResponse: string(raw)}
	if fault := findLocal(root, "Fault"); fault != nil {
		out.Status = "Fault"
		out.ErrorCode = localText(fault, "faultcode")
		out.ErrorMessage = localText(fault, "faultstring")
		return out, nil
	}

	status := localText(root, "EstadoRegistro")
	if status == "" {
		status = localText(root, "EstadoEnvio")
	}
	if status == "" {
		return nil, domainvf.NewParseError("la respuesta no contiene EstadoRegistro ni EstadoEnvio", nil)
	}
	out.Status = status
	out.Success = pkgvf.IsSuccessToken(status)
	out.ErrorCode = localText(root, "CodigoErrorRegistro")
	out.ErrorMessage = localText(root, "DescripcionErrorRegistro")
	out.CSV = localText(root, "CSV")
	return out, nil
}

// findLocal primer descendiente (o el propio e) con nombre local tag.
func findLocal(e *etree.Element, tag string) *etree.Element {
	if e.Tag == tag {
		return e
	}
	for _, c := range e.ChildElements() {
		if found := findLocal(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func localText(e *etree.Element, tag string) string {
	if found := findLocal(e, tag); found != nil {
		return strings.TrimSpace(found.Text())
	}
	return ""
}

// ── Prueba de conexión ─────────────────────────────────────────────────────────

// TestConnection comprueba certificado (configurado, existente, vigente) y solo entonces
// sondea el endpoint con HEAD. Cualquier respuesta HTTP cuenta como servidor alcanzable.
func (c *SOAPClient) TestConnection(ctx context.Context, cfg *entity.SubmissionConfig) *ConnectionTestResult {
	res := &ConnectionTestResult{CheckedAt: c.now()}
	if cfg == nil {
		res.Message = "configuración de envío obligatoria"
		return res
	}
	res.Endpoint = EndpointFor(cfg)

	if !cfg.HasCertificate() {
		res.Message = "no hay certificado configurado"
		return res
	}
	if _, err := os.Stat(cfg.CertPath); err != nil {
		res.Message = "el archivo de certificado no existe: " + cfg.CertPath
		return res
	}
	bundle, err := c.certs.Load(cfg.CertPath, cfg.CertPassword)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	report := ValidateBundle(bundle, c.now())
	res.Warnings = report.Warnings
	if !report.Valid {
		res.Message = strings.Join(report.Errors, "; ")
		return res
	}
	res.CertificateValid = true

	httpClient, err := c.httpClient(bundle, cfg)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	defer httpClient.CloseIdleConnections()

	timeout := c.timeoutFor(cfg)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, res.Endpoint, nil)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		res.Message = "servidor no alcanzable: " + classifyTransportError(ctx, err, timeout).Error()
		return res
	}
	resp.Body.Close()

	res.ServerReachable = true
	res.Success = true
	res.Message = fmt.Sprintf("conexión correcta con %s (HTTP %d)", res.Endpoint, resp.StatusCode)
	return res
}
