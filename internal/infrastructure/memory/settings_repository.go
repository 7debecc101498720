package memory

import (
	"context"
	"sync"
)

// SettingsRepository tabla clave-valor en memoria.
type SettingsRepository struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewSettingsRepository crea el repositorio con valores iniciales opcionales.
func NewSettingsRepository(initial map[string]string) *SettingsRepository {
	values := make(map[string]string, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &SettingsRepository{values: values}
}

func (r *SettingsRepository) GetAll(_ context.Context) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out, nil
}

func (r *SettingsRepository) Upsert(_ context.Context, values map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range values {
		if v == "" {
			delete(r.values, k)
			continue
		}
		r.values[k] = v
	}
	return nil
}
