package cli_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/verifactu-api/internal/cli"
	"github.com/jhoicas/verifactu-api/internal/testutil"
	"github.com/jhoicas/verifactu-api/pkg/config"
	"github.com/jhoicas/verifactu-api/pkg/jwt"
)

const secret = "cli-test-secret"

func memoryConfig(t *testing.T) func() (*config.Config, error) {
	t.Helper()
	return func() (*config.Config, error) {
		v := viper.New()
		v.Set("APP_ENV", "test")
		v.Set("LOG_LEVEL", "error")
		v.Set("JWT_SECRET", secret)
		v.Set("VERIFACTU_STORE", "memory")
		v.Set("VERIFACTU_ENABLED", "true")
		v.Set("VERIFACTU_ISSUER_NIF", "B12345674")
		v.Set("VERIFACTU_CERT_DIR", t.TempDir())
		return config.FromViper(v)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := cli.NewRootCommand(memoryConfig(t))
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestToken_EmiteTokenConRol(t *testing.T) {
	out, err := run(t, "token", "--role", jwt.RoleViewer, "--user", "tpv-1")
	require.NoError(t, err)

	claims, err := jwt.Parse(secret, strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "tpv-1", claims.UserID)
	assert.Equal(t, jwt.RoleViewer, claims.Role)
}

func TestToken_RolDesconocido(t *testing.T) {
	_, err := run(t, "token", "--role", "root")
	assert.Error(t, err)
}

func TestCertInspect_Valido(t *testing.T) {
	opts := testutil.DefaultCertOptions()
	path := testutil.WriteP12(t, t.TempDir(), "empresa.p12", opts)

	out, err := run(t, "cert", "inspect", path, "--password", opts.Password)
	require.NoError(t, err)
	assert.Contains(t, out, "B12345674")
	assert.Contains(t, out, "Estado:       válido")
}

func TestCertInspect_PasswordIncorrecta(t *testing.T) {
	path := testutil.WriteP12(t, t.TempDir(), "empresa.p12", testutil.DefaultCertOptions())

	_, err := run(t, "cert", "inspect", path, "-p", "otra")
	assert.Error(t, err)
}

func TestChainVerify_CadenaVacia(t *testing.T) {
	out, err := run(t, "chain", "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "0 registros revisados")
}

func TestMigrate_RequierePostgres(t *testing.T) {
	_, err := run(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VERIFACTU_STORE=postgres")
}
