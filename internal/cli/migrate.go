package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jhoicas/verifactu-api/internal/bootstrap"
	"github.com/jhoicas/verifactu-api/internal/infrastructure/postgres"
)

func newMigrateCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones pendientes de PostgreSQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.cfg.Verifactu.Store != "postgres" {
				return fmt.Errorf("migrate requiere VERIFACTU_STORE=postgres (actual %q)", e.cfg.Verifactu.Store)
			}
			c, err := e.build(cmd.Context(), bootstrap.Options{Migrate: true})
			if err != nil {
				return err
			}
			defer c.Close()

			version, err := postgres.MigrationVersion(cmd.Context(), c.Pool)
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "esquema en la versión %d\n", version)
			return nil
		},
	}
}
