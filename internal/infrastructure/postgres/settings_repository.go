package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/verifactu-api/internal/domain/repository"
)

var _ repository.SettingsRepository = (*SettingsRepo)(nil)

// SettingsRepo tabla clave-valor verifactu_settings.
type SettingsRepo struct {
	q  Querier
	tx *TxRunner
}

// NewSettingsRepository construye el adaptador.
func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepo {
	return &SettingsRepo{q: pool, tx: NewTxRunner(pool)}
}

// GetAll devuelve todas las claves guardadas.
func (r *SettingsRepo) GetAll(ctx context.Context) (map[string]string, error) {
	rows, err := r.q.Query(ctx, `SELECT key, value FROM verifactu_settings`)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Upsert guarda las claves en una transacción; un valor vacío borra la clave.
func (r *SettingsRepo) Upsert(ctx context.Context, values map[string]string) error {
	return r.tx.Run(ctx, func(q Querier) error {
		for k, v := range values {
			if v == "" {
				if _, err := q.Exec(ctx, `DELETE FROM verifactu_settings WHERE key = $1`, k); err != nil {
					return fmt.Errorf("delete setting %s: %w", k, err)
				}
				continue
			}
			if _, err := q.Exec(ctx, `
				INSERT INTO verifactu_settings (key, value, updated_at) VALUES ($1, $2, now())
				ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, k, v); err != nil {
				return fmt.Errorf("upsert setting %s: %w", k, err)
			}
		}
		return nil
	})
}
