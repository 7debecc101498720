// Package verifactu contiene catálogos y validaciones del sistema VERI*FACTU
// (Real Decreto 1007/2023 y Orden HAC/1177/2024, AEAT).
package verifactu

// =============================================================================
// L2 - Tipo de factura
// =============================================================================

const (
	InvoiceTypeOrdinary   = "F1" // Factura completa (art. 6, 7.2 y 7.3 RD 1619/2012)
	InvoiceTypeSimplified = "F2" // Factura simplificada / ticket (art. 6.1.d RD 1619/2012)
	InvoiceTypeR1         = "R1" // Rectificativa: error fundado en derecho y art. 80 Uno, Dos y Seis LIVA
	InvoiceTypeR2         = "R2" // Rectificativa: art. 80.3 LIVA (concurso)
	InvoiceTypeR3         = "R3" // Rectificativa: art. 80.4 LIVA (créditos incobrables)
	InvoiceTypeR4         = "R4" // Rectificativa: resto
	InvoiceTypeR5         = "R5" // Rectificativa en facturas simplificadas
)

// ValidInvoiceTypes códigos de tipo de factura admitidos.
var ValidInvoiceTypes = map[string]bool{
	InvoiceTypeOrdinary: true, InvoiceTypeSimplified: true,
	InvoiceTypeR1: true, InvoiceTypeR2: true, InvoiceTypeR3: true,
	InvoiceTypeR4: true, InvoiceTypeR5: true,
}

// IsRectification indica si el tipo es una factura rectificativa (R1..R5).
func IsRectification(invoiceType string) bool {
	switch invoiceType {
	case InvoiceTypeR1, InvoiceTypeR2, InvoiceTypeR3, InvoiceTypeR4, InvoiceTypeR5:
		return true
	}
	return false
}

// RequiresRecipient indica si el tipo exige identificar al destinatario.
// Las simplificadas (F2) y sus rectificativas (R5) no lo exigen.
func RequiresRecipient(invoiceType string) bool {
	return invoiceType != InvoiceTypeSimplified && invoiceType != InvoiceTypeR5
}

// =============================================================================
// L3 - Tipo de rectificativa
// =============================================================================

const (
	RectificationBySubstitution = "S" // Por sustitución
	RectificationByDifferences  = "I" // Por diferencias
)

// =============================================================================
// L8A - Clave de régimen (IVA) y L9 - Calificación de la operación
// =============================================================================

const (
	RegimeGeneral         = "01" // Operación de régimen general
	OperationSubjectS1    = "S1" // Sujeta y no exenta, sin inversión del sujeto pasivo
	TaxIVA                = "01" // Impuesto sobre el Valor Añadido
	HashTypeSHA256        = "01" // L12 - Tipo de huella SHA-256
	CommunicationTypeAlta = "A0" // Alta inicial del registro de facturación
	SchemaVersion         = "1.0"
)

// =============================================================================
// Estados de respuesta AEAT (EstadoEnvio / EstadoRegistro)
// =============================================================================

const (
	StatusTokenCorrect            = "Correcto"
	StatusTokenAcceptedWithErrors = "AceptadoConErrores"
	StatusTokenPartiallyCorrect   = "ParcialmenteCorrecto"
	StatusTokenIncorrect          = "Incorrecto"
)

// IsSuccessToken indica si el token de estado devuelto por la AEAT equivale a aceptación.
// Se admiten también las formas en inglés que usan algunos proxies de pruebas.
func IsSuccessToken(token string) bool {
	switch token {
	case StatusTokenCorrect, StatusTokenAcceptedWithErrors, "Correct", "AcceptedWithErrors":
		return true
	}
	return false
}

// =============================================================================
// Entornos y URLs oficiales
// =============================================================================

const (
	EnvironmentTest       = "test"
	EnvironmentProduction = "production"

	EndpointTest       = "https://prewww1.aeat.es/wlpl/TIKE-CONT/ws/SistemaFacturacion/VerifactuSOAP"
	EndpointProduction = "https://www1.agenciatributaria.gob.es/wlpl/TIKE-CONT/ws/SistemaFacturacion/VerifactuSOAP"

	QRBaseURLTest       = "https://prewww2.aeat.es/wlpl/TIKE-CONT/ValidarQR"
	QRBaseURLProduction = "https://www2.agenciatributaria.gob.es/wlpl/TIKE-CONT/ValidarQR"
)

// IsValidEnvironment indica si env es "test" o "production".
func IsValidEnvironment(env string) bool {
	return env == EnvironmentTest || env == EnvironmentProduction
}
