package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	infravf "github.com/jhoicas/verifactu-api/internal/infrastructure/verifactu"
)

func newCertCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Operaciones sobre el certificado PKCS#12",
	}

	var password string
	inspect := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Muestra sujeto, NIF, huella y vigencia de un .p12/.pfx",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("leer %s: %w", args[0], err)
			}
			if password == "" {
				password = e.cfg.Verifactu.CertPassword
			}
			bundle, err := infravf.ParsePKCS12(data, password)
			if err != nil {
				return err
			}
			report := infravf.ValidateBundle(bundle, time.Now())

			fmt.Fprintf(e.out, "Sujeto:       %s\n", bundle.Subject)
			fmt.Fprintf(e.out, "Emisor:       %s\n", bundle.Issuer)
			fmt.Fprintf(e.out, "NIF:          %s\n", orDash(bundle.SerialNumberNIF))
			fmt.Fprintf(e.out, "Huella:       %s\n", bundle.Fingerprint)
			fmt.Fprintf(e.out, "Válido desde: %s\n", bundle.NotBefore.UTC().Format(time.RFC3339))
			fmt.Fprintf(e.out, "Válido hasta: %s\n", bundle.NotAfter.UTC().Format(time.RFC3339))
			for _, w := range report.Warnings {
				fmt.Fprintf(e.out, "Aviso:        %s\n", w)
			}
			if err := report.Err(); err != nil {
				fmt.Fprintf(e.out, "Estado:       NO VÁLIDO (%s)\n", strings.Join(report.Errors, "; "))
				return err
			}
			fmt.Fprintln(e.out, "Estado:       válido")
			return nil
		},
	}
	inspect.Flags().StringVarP(&password, "password", "p", "", "contraseña del PKCS#12 (por defecto VERIFACTU_CERT_PASSWORD)")

	cmd.AddCommand(inspect)
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
