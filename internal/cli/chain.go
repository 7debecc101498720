package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jhoicas/verifactu-api/internal/bootstrap"
)

func newChainCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Cadena de huellas del emisor configurado",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Recalcula las huellas y comprueba el encadenamiento",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.build(cmd.Context(), bootstrap.Options{})
			if err != nil {
				return err
			}
			defer c.Close()

			report, err := c.Records.VerifyChain(cmd.Context())
			if err != nil {
				return err
			}
			for _, f := range report.Findings {
				fmt.Fprintf(e.out, "%s\t%s\t%s\n", f.InvoiceNumber, f.RecordID, f.Problem)
			}
			fmt.Fprintf(e.out, "%d registros revisados, %d incidencias\n", report.Checked, len(report.Findings))
			if !report.Valid {
				return fmt.Errorf("cadena inconsistente")
			}
			return nil
		},
	})
	return cmd
}
