package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jhoicas/verifactu-api/internal/bootstrap"
)

func newConnectionCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connection",
		Short: "Conexión con la AEAT",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Comprueba certificado y alcance del endpoint sin enviar registros",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.build(cmd.Context(), bootstrap.Options{})
			if err != nil {
				return err
			}
			defer c.Close()

			cfg, err := c.Configs.Load(cmd.Context())
			if err != nil {
				return err
			}
			res := c.Transport.TestConnection(cmd.Context(), cfg)
			fmt.Fprintf(e.out, "Endpoint:     %s\n", res.Endpoint)
			fmt.Fprintf(e.out, "Certificado:  %s\n", okText(res.CertificateValid))
			fmt.Fprintf(e.out, "Servidor:     %s\n", okText(res.ServerReachable))
			for _, w := range res.Warnings {
				fmt.Fprintf(e.out, "Aviso:        %s\n", w)
			}
			fmt.Fprintln(e.out, res.Message)
			if !res.Success {
				return errors.New("la prueba de conexión falló")
			}
			return nil
		},
	})
	return cmd
}

func okText(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
