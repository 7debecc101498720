package repository

import "context"

// SettingsRepository tabla clave-valor verifactu_settings.
type SettingsRepository interface {
	GetAll(ctx context.Context) (map[string]string, error)
	// Upsert guarda las claves indicadas; un valor vacío elimina la clave.
	Upsert(ctx context.Context, values map[string]string) error
}
