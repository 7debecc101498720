// Package cli comandos de verifactuctl: migraciones, certificado, conexión con la AEAT,
// verificación de la cadena y tokens de servicio.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jhoicas/verifactu-api/internal/bootstrap"
	"github.com/jhoicas/verifactu-api/pkg/config"
	"github.com/jhoicas/verifactu-api/pkg/logger"
)

// Version se fija al compilar con -ldflags "-X .../internal/cli.Version=..."
var Version = "dev"

// env estado compartido por los subcomandos, cargado en PersistentPreRunE.
type env struct {
	cfg *config.Config
	log *logger.Logger
	out io.Writer
}

// build construye los componentes; el llamador debe cerrar el resultado.
func (e *env) build(ctx context.Context, opts bootstrap.Options) (*bootstrap.Components, error) {
	return bootstrap.Build(ctx, e.cfg, e.log, opts)
}

// NewRootCommand árbol de comandos. load permite inyectar la configuración en tests.
func NewRootCommand(load func() (*config.Config, error)) *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:               "verifactuctl",
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		Short:             "Herramientas de operación Verifactu",
		Long:              `Utilidades de administración del registro Verifactu: migraciones, certificado, conexión con la AEAT y cadena de huellas`,
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("cargar configuración: %w", err)
			}
			e.cfg = cfg
			e.log = logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel, Output: cmd.ErrOrStderr()})
			e.out = cmd.OutOrStdout()
			return nil
		},
	}
	root.AddCommand(
		newMigrateCommand(e),
		newCertCommand(e),
		newConnectionCommand(e),
		newChainCommand(e),
		newTokenCommand(e),
	)
	return root
}

// Execute punto de entrada de cmd/verifactuctl.
func Execute() {
	if err := NewRootCommand(config.Load).Execute(); err != nil {
		os.Exit(1)
	}
}
