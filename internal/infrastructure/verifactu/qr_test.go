package verifactu_test

import (
	"bytes"
	"image/png"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	"github.com/jhoicas/verifactu-api/internal/infrastructure/verifactu"
)

func qrRecord() *entity.InvoiceRecord {
	return &entity.InvoiceRecord{
		IssuerNIF:     "B12345678",
		InvoiceNumber: "T 2026/0001",
		InvoiceDate:   time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC),
		TotalAmount:   decimal.RequireFromString("42.5"),
	}
}

func TestBuildVerificationURL_Parametros(t *testing.T) {
	u := verifactu.BuildVerificationURL(qrRecord(), "test")

	assert.True(t, strings.HasPrefix(u, "https://prewww2.aeat.es/wlpl/TIKE-CONT/ValidarQR?"))
	assert.Contains(t, u, "fecha=19-01-2026&importe=42.50&nif=B12345678")

	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "T 2026/0001", parsed.Query().Get("numserie"), "el número viaja codificado")
	assert.NotContains(t, u, "T 2026/0001")
}

func TestBuildVerificationURL_Produccion(t *testing.T) {
	u := verifactu.BuildVerificationURL(qrRecord(), "production")
	assert.True(t, strings.HasPrefix(u, "https://www2.agenciatributaria.gob.es/wlpl/TIKE-CONT/ValidarQR?"))
}

func TestRenderPNG_TamanoFisico(t *testing.T) {
	u := verifactu.BuildVerificationURL(qrRecord(), "test")

	data, err := verifactu.RenderPNG(u, verifactu.DefaultQROptions())
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	// 35 mm a 203 dpi = 279 px como máximo; se usa un número entero de píxeles por módulo
	w := img.Bounds().Dx()
	assert.Equal(t, w, img.Bounds().Dy())
	assert.LessOrEqual(t, w, 279)
	assert.Greater(t, w, 200)

	// la zona de silencio es blanca
	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xFFFF), r&g&b)
}

func TestRenderPNG_AnchoRecortadoAlRango(t *testing.T) {
	u := verifactu.BuildVerificationURL(qrRecord(), "test")

	small, err := verifactu.RenderMonochrome(u, verifactu.QROptions{WidthMM: 10, DPI: 203, MarginModules: 2})
	require.NoError(t, err)
	floor, err := verifactu.RenderMonochrome(u, verifactu.QROptions{WidthMM: 30, DPI: 203, MarginModules: 2})
	require.NoError(t, err)
	assert.Equal(t, floor.Width, small.Width, "por debajo de 30 mm se usa 30 mm")

	px, err := verifactu.RenderMonochrome(u, verifactu.QROptions{WidthPx: 600, MarginModules: 0})
	require.NoError(t, err)
	assert.LessOrEqual(t, px.Width, 600)
	assert.Greater(t, px.Width, 400)
}

func TestRenderMonochrome_Empaquetado(t *testing.T) {
	u := verifactu.BuildVerificationURL(qrRecord(), "test")

	bmp, err := verifactu.RenderMonochrome(u, verifactu.DefaultQROptions())
	require.NoError(t, err)
	assert.Equal(t, (bmp.Width+7)/8, bmp.BytesPerRow)
	assert.Len(t, bmp.Data, bmp.BytesPerRow*bmp.Height)
	assert.Equal(t, byte(0), bmp.Data[0], "primera fila en la zona de silencio")

	dark := 0
	for _, by := range bmp.Data {
		if by != 0 {
			dark++
		}
	}
	assert.Greater(t, dark, 0)
}

func TestRenderSVG_EsDeterminista(t *testing.T) {
	u := verifactu.BuildVerificationURL(qrRecord(), "test")

	a, err := verifactu.RenderSVG(u, verifactu.DefaultQROptions())
	require.NoError(t, err)
	b, err := verifactu.RenderSVG(u, verifactu.DefaultQROptions())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "<svg "))
	assert.Contains(t, a, `<path fill="#000" d="M`)
}

func TestRenderDataURI(t *testing.T) {
	uri, err := verifactu.RenderDataURI("https://example.test", verifactu.DefaultQROptions())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))

	_, err = verifactu.RenderPNG("  ", verifactu.DefaultQROptions())
	assert.Error(t, err)
}
