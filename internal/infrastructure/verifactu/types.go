// Package verifactu implementa la integración técnica con la AEAT (Verifactu, España):
// certificado PKCS#12, código QR de cotejo, documentos SOAP de alta/anulación y
// cliente SOAP con TLS mutuo.
package verifactu

import (
	"time"

	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	pkgvf "github.com/jhoicas/verifactu-api/pkg/verifactu"
)

// AeatResponse respuesta interpretada de la AEAT a un envío de alta o anulación.
type AeatResponse struct {
	Success      bool
	Status       string // token EstadoRegistro / EstadoEnvio, o "Fault"
	ErrorCode    string // CodigoErrorRegistro o faultcode
	ErrorMessage string // DescripcionErrorRegistro o faultstring
	CSV          string // Código Seguro de Verificación del envío
	HTTPStatus   int
	RawResponse  string
}

// ConnectionTestResult resultado de TestConnection. Certificado y alcance se reportan por separado.
type ConnectionTestResult struct {
	Success          bool
	CertificateValid bool
	ServerReachable  bool
	Endpoint         string
	Message          string
	Warnings         []string
	CheckedAt        time.Time
}

// CancellationRequest datos del registro a anular (RegistroAnulacion).
type CancellationRequest struct {
	IssuerNIF     string
	InvoiceNumber string
	InvoiceDate   time.Time
	Reason        string
	GeneratedAt   time.Time
}

// EndpointFor URL del servicio SOAP según entorno, con las sobrescrituras de la configuración.
func EndpointFor(cfg *entity.SubmissionConfig) string {
	if cfg.Environment == pkgvf.EnvironmentProduction {
		if cfg.EndpointProd != "" {
			return cfg.EndpointProd
		}
		return pkgvf.EndpointProduction
	}
	if cfg.EndpointTest != "" {
		return cfg.EndpointTest
	}
	return pkgvf.EndpointTest
}

// QRBaseURLFor URL base de cotejo del QR según entorno.
func QRBaseURLFor(environment string) string {
	if environment == pkgvf.EnvironmentProduction {
		return pkgvf.QRBaseURLProduction
	}
	return pkgvf.QRBaseURLTest
}
