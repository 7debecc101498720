package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jhoicas/verifactu-api/pkg/jwt"
)

func newTokenCommand(e *env) *cobra.Command {
	var (
		role      string
		userID    string
		companyID string
		minutes   int
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Emite un token JWT firmado con JWT_SECRET",
		Long:  `Emite un token de servicio para integraciones (p. ej. el TPV) con el rol indicado`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.cfg.JWT.Secret == "" {
				return errors.New("JWT_SECRET no configurado")
			}
			switch role {
			case jwt.RoleAdmin, jwt.RoleOperator, jwt.RoleViewer:
			default:
				return fmt.Errorf("rol desconocido %q (admin|operator|viewer)", role)
			}
			if minutes <= 0 {
				minutes = e.cfg.JWT.Expiration
			}
			tok, err := jwt.Generate(e.cfg.JWT.Secret, userID, companyID, role, e.cfg.JWT.Issuer, minutes)
			if err != nil {
				return err
			}
			fmt.Fprintln(e.out, tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", jwt.RoleOperator, "rol del token (admin|operator|viewer)")
	cmd.Flags().StringVar(&userID, "user", "verifactuctl", "identificador de usuario (sub)")
	cmd.Flags().StringVar(&companyID, "company", "", "identificador de empresa")
	cmd.Flags().IntVar(&minutes, "expires", 0, "minutos de validez (por defecto JWT_EXPIRATION_MINUTES)")
	return cmd
}
