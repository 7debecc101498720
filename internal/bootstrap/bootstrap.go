// Package bootstrap arma los componentes Verifactu a partir de la configuración.
// Lo comparten el servidor HTTP y verifactuctl.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	appvf "github.com/jhoicas/verifactu-api/internal/application/verifactu"
	"github.com/jhoicas/verifactu-api/internal/domain/repository"
	"github.com/jhoicas/verifactu-api/internal/infrastructure/export"
	"github.com/jhoicas/verifactu-api/internal/infrastructure/memory"
	infrapdf "github.com/jhoicas/verifactu-api/internal/infrastructure/pdf"
	"github.com/jhoicas/verifactu-api/internal/infrastructure/postgres"
	infravf "github.com/jhoicas/verifactu-api/internal/infrastructure/verifactu"
	"github.com/jhoicas/verifactu-api/pkg/config"
	"github.com/jhoicas/verifactu-api/pkg/logger"
)

// settingsTTL caché de la configuración efectiva.
const settingsTTL = 30 * time.Second

// Components servicios listos para usar.
type Components struct {
	Pool         *pgxpool.Pool // nil con almacén en memoria
	Store        repository.ChainStore
	Settings     repository.SettingsRepository
	Configs      *appvf.ConfigLoader
	Certificates *infravf.CertificateManager
	Transport    *infravf.SOAPClient
	Records      *appvf.RecordService
}

// Close libera la conexión a la base de datos.
func (c *Components) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// Options ajustes del arranque.
type Options struct {
	// Migrate aplica las migraciones pendientes al abrir PostgreSQL.
	Migrate bool
}

// Build conecta el almacén indicado en VERIFACTU_STORE y construye los servicios.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*Components, error) {
	c := &Components{}
	switch cfg.Verifactu.Store {
	case "memory":
		c.Store = memory.NewChainStore()
		c.Settings = memory.NewSettingsRepository(nil)
		log.Warn().Msg("almacén en memoria: los registros se pierden al reiniciar")
	default:
		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("conexión a PostgreSQL: %w", err)
		}
		if opts.Migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migraciones: %w", err)
			}
		}
		c.Pool = pool
		c.Store = postgres.NewInvoiceRecordRepository(pool)
		c.Settings = postgres.NewSettingsRepository(pool)
	}

	c.Configs = appvf.NewConfigLoader(c.Settings, cfg.Verifactu, settingsTTL)
	c.Certificates = infravf.NewCertificateManager(cfg.Verifactu.CertDir)

	clientOpts := []infravf.ClientOption{
		infravf.WithTimeout(cfg.Verifactu.Timeout),
		infravf.WithLogger(log.Component("aeat")),
	}
	if cfg.Verifactu.RateLimit > 0 {
		clientOpts = append(clientOpts, infravf.WithRateLimit(float64(cfg.Verifactu.RateLimit), cfg.Verifactu.RateBurst))
	}
	c.Transport = infravf.NewSOAPClient(c.Certificates, clientOpts...)

	c.Records = appvf.NewRecordService(c.Store, c.Configs, infravf.NewDocumentBuilder(), c.Transport,
		appvf.WithServiceLogger(log.Component("verifactu")),
		appvf.WithReceiptRenderer(infrapdf.NewReceiptGenerator()),
		appvf.WithExporter(export.NewExcelExporter(log.Component("export"))),
	)
	return c, nil
}
