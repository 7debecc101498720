package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// SoftwareInfo bloque SistemaInformatico del registro.
type SoftwareInfo struct {
	VendorName         string
	VendorNIF          string
	Name               string
	ID                 string // IdSistemaInformatico (2 caracteres)
	Version            string
	InstallationNumber string
}

// SubmissionConfig configuración efectiva para crear y enviar registros.
// Se construye por operación desde verifactu_settings sobre los valores por defecto del entorno.
type SubmissionConfig struct {
	Enabled        bool
	Environment    string // test | production
	IssuerNIF      string
	IssuerName     string
	IssuerAddress  string
	AutoSubmit     bool
	DefaultTaxRate decimal.Decimal

	CertPath     string
	CertPassword string

	EndpointTest string
	EndpointProd string
	Timeout      time.Duration

	Software SoftwareInfo
}

// HasCertificate indica si hay una ruta de certificado configurada.
func (c *SubmissionConfig) HasCertificate() bool {
	return c.CertPath != ""
}
