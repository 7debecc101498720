package verifactu

import (
	"errors"
	"fmt"
)

// Kind clasifica los errores del subsistema Verifactu.
type Kind string

const (
	KindValidation  Kind = "validation"  // NIF mal formado, configuración fiscal ausente, XML estructuralmente inválido
	KindCertificate Kind = "certificate" // archivo ausente, contraseña incorrecta, caducado o aún no válido
	KindHashChain   Kind = "hash_chain"  // inconsistencia detectada al verificar la cadena
	KindTransport   Kind = "transport"   // timeout, conexión rechazada, fallo TLS; reintentable
	KindRejection   Kind = "rejection"   // la AEAT respondió con un error de negocio
	KindParse       Kind = "parse"       // respuesta no interpretable
)

// Sub-motivos habituales.
const (
	ReasonIncorrectPassword = "incorrect_password"
	ReasonFileNotFound      = "file_not_found"
	ReasonNotConfigured     = "not_configured"
	ReasonExpired           = "expired"
	ReasonNotYetValid       = "not_yet_valid"
	ReasonMalformed         = "malformed"
	ReasonTimeout           = "timeout"
	ReasonConnection        = "connection"
	ReasonHTTPStatus        = "http_status"
	ReasonTLS               = "tls"
)

// Error error estructurado con tipo y sub-motivo.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Reason)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("verifactu %s: %s: %v", e.Kind, msg, e.Wrapped)
	}
	return fmt.Sprintf("verifactu %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// NewValidationError error de validación previo a cualquier persistencia o envío.
func NewValidationError(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

// WrapValidationError envuelve err como error de validación.
func WrapValidationError(err error, msg string) error {
	return &Error{Kind: KindValidation, Message: msg, Wrapped: err}
}

// NewCertificateError error de certificado con sub-motivo.
func NewCertificateError(reason, msg string, err error) error {
	return &Error{Kind: KindCertificate, Reason: reason, Message: msg, Wrapped: err}
}

// NewHashChainError inconsistencia de la cadena.
func NewHashChainError(msg string) error {
	return &Error{Kind: KindHashChain, Message: msg}
}

// NewTransportError fallo de red o TLS; el registro conserva su estado previo.
func NewTransportError(reason, msg string, err error) error {
	return &Error{Kind: KindTransport, Reason: reason, Message: msg, Wrapped: err}
}

// NewRejectionError la AEAT rechazó el registro con código y descripción.
func NewRejectionError(code, msg string) error {
	return &Error{Kind: KindRejection, Reason: code, Message: msg}
}

// NewParseError respuesta de la AEAT no interpretable.
func NewParseError(msg string, err error) error {
	return &Error{Kind: KindParse, Message: msg, Wrapped: err}
}

// KindOf devuelve el Kind del primer *Error en la cadena de err, o "" si no hay.
func KindOf(err error) Kind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ""
}

// IsKind indica si err (o algún error envuelto) es un *Error del tipo k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// ReasonOf devuelve el sub-motivo del primer *Error en la cadena de err.
func ReasonOf(err error) string {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}
