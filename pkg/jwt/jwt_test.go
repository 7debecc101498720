package jwt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/verifactu-api/pkg/jwt"
)

func TestGenerateParse_RoundTrip(t *testing.T) {
	token, err := jwt.Generate("secreto", "u-1", "c-1", jwt.RoleOperator, "verifactu-api", 5)
	require.NoError(t, err)

	claims, err := jwt.Parse("secreto", token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "c-1", claims.CompanyID)
	assert.Equal(t, jwt.RoleOperator, claims.Role)
	assert.Equal(t, "verifactu-api", claims.Issuer)
}

func TestParse_FirmaIncorrecta(t *testing.T) {
	token, err := jwt.Generate("secreto", "u-1", "c-1", jwt.RoleViewer, "x", 5)
	require.NoError(t, err)

	_, err = jwt.Parse("otro", token)
	assert.Error(t, err)
}

func TestParse_Expirado(t *testing.T) {
	token, err := jwt.Generate("secreto", "u-1", "c-1", jwt.RoleViewer, "x", -1)
	require.NoError(t, err)

	_, err = jwt.Parse("secreto", token)
	assert.Error(t, err)
}

func TestGenerate_SecretVacio(t *testing.T) {
	_, err := jwt.Generate("", "u", "c", jwt.RoleAdmin, "x", 5)
	assert.ErrorIs(t, err, jwt.ErrEmptySecret)
}

func TestHasRole(t *testing.T) {
	assert.True(t, jwt.HasRole(jwt.RoleAdmin, jwt.RoleOperator))
	assert.True(t, jwt.HasRole(jwt.RoleOperator, jwt.RoleOperator, jwt.RoleViewer))
	assert.False(t, jwt.HasRole(jwt.RoleViewer, jwt.RoleOperator))
	assert.False(t, jwt.HasRole("", jwt.RoleViewer))
}
