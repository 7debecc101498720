package domain

import "errors"

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound          = errors.New("recurso no encontrado")
	ErrInvalidInput      = errors.New("entrada inválida")
	ErrConflict          = errors.New("conflicto con el estado actual")
	ErrUnauthorized      = errors.New("no autorizado")
	ErrForbidden         = errors.New("acceso denegado")
	ErrIllegalTransition = errors.New("transición de estado no permitida")
	ErrFeatureDisabled   = errors.New("Verifactu no está habilitado")
	// ErrChainConflict la cola de la cadena cambió entre la lectura y la inserción.
	ErrChainConflict = errors.New("la cola de la cadena de huellas ha cambiado")
)
