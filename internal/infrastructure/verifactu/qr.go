package verifactu

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/url"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	domainvf "github.com/jhoicas/verifactu-api/internal/domain/verifactu"
)

// Tamaño físico admitido del QR impreso (Orden HAC/1177/2024: entre 30 y 40 mm).
const (
	QRMinWidthMM     = 30.0
	QRMaxWidthMM     = 40.0
	QRDefaultWidthMM = 35.0
	QRDefaultDPI     = 203 // impresoras térmicas de 58/80 mm
	QRDefaultMargin  = 2   // módulos de zona de silencio
)

// qrDateLayout formato de fecha del parámetro "fecha".
const qrDateLayout = "02-01-2006"

// BuildVerificationURL URL de cotejo del registro en la sede de la AEAT.
func BuildVerificationURL(rec *entity.InvoiceRecord, environment string) string {
	q := url.Values{}
	q.Set("nif", rec.IssuerNIF)
	q.Set("numserie", rec.InvoiceNumber)
	q.Set("fecha", rec.InvoiceDate.Format(qrDateLayout))
	q.Set("importe", domainvf.FormatAmount(rec.TotalAmount))
	return QRBaseURLFor(environment) + "?" + q.Encode()
}

// QROptions tamaño de salida. WidthPx > 0 sustituye al cálculo por milímetros.
type QROptions struct {
	WidthMM       float64
	DPI           int
	WidthPx       int
	MarginModules int
}

// DefaultQROptions 35 mm a 203 dpi con 2 módulos de margen.
func DefaultQROptions() QROptions {
	return QROptions{WidthMM: QRDefaultWidthMM, DPI: QRDefaultDPI, MarginModules: QRDefaultMargin}
}

// targetPixels ancho pedido en píxeles; los milímetros se recortan al rango 30-40.
func (o QROptions) targetPixels() int {
	if o.WidthPx > 0 {
		return o.WidthPx
	}
	mm := o.WidthMM
	if mm == 0 {
		mm = QRDefaultWidthMM
	}
	mm = math.Max(QRMinWidthMM, math.Min(QRMaxWidthMM, mm))
	dpi := o.DPI
	if dpi <= 0 {
		dpi = QRDefaultDPI
	}
	return int(math.Floor(mm / 25.4 * float64(dpi)))
}

func (o QROptions) margin() int {
	if o.MarginModules < 0 {
		return 0
	}
	return o.MarginModules
}

// qrMatrix matriz de módulos con la zona de silencio, escalada a un entero de píxeles por módulo.
type qrMatrix struct {
	code   barcode.Barcode
	margin int
	scale  int
}

func encodeQR(content string, opts QROptions) (*qrMatrix, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("qr: contenido vacío")
	}
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("qr: codificar: %w", err)
	}
	m := &qrMatrix{code: code, margin: opts.margin()}
	m.scale = opts.targetPixels() / m.modules()
	if m.scale < 1 {
		m.scale = 1
	}
	return m, nil
}

// modules ancho en módulos incluida la zona de silencio.
func (m *qrMatrix) modules() int {
	return m.code.Bounds().Dx() + 2*m.margin
}

func (m *qrMatrix) size() int { return m.modules() * m.scale }

// dark indica si el módulo (mx, my), en coordenadas con margen, es oscuro.
func (m *qrMatrix) dark(mx, my int) bool {
	x, y := mx-m.margin, my-m.margin
	b := m.code.Bounds()
	if x < 0 || y < 0 || x >= b.Dx() || y >= b.Dy() {
		return false
	}
	return m.code.At(b.Min.X+x, b.Min.Y+y) == color.Black
}

func (m *qrMatrix) image() *image.Gray {
	n := m.size()
	img := image.NewGray(image.Rect(0, 0, n, n))
	for py := 0; py < n; py++ {
		for px := 0; px < n; px++ {
			c := color.Gray{Y: 0xFF}
			if m.dark(px/m.scale, py/m.scale) {
				c = color.Gray{Y: 0x00}
			}
			img.SetGray(px, py, c)
		}
	}
	return img
}

// RenderPNG imagen PNG en escala de grises.
func RenderPNG(content string, opts QROptions) ([]byte, error) {
	m, err := encodeQR(content, opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, m.image()); err != nil {
		return nil, fmt.Errorf("qr: png: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderDataURI PNG como data URI para incrustar en HTML.
func RenderDataURI(content string, opts QROptions) (string, error) {
	data, err := RenderPNG(content, opts)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// RenderSVG vector con un rectángulo por tramo horizontal de módulos oscuros.
func RenderSVG(content string, opts QROptions) (string, error) {
	m, err := encodeQR(content, opts)
	if err != nil {
		return "", err
	}
	n := m.modules()
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" shape-rendering="crispEdges">`,
		m.size(), m.size(), n, n)
	fmt.Fprintf(&b, `<rect width="%d" height="%d" fill="#fff"/><path fill="#000" d="`, n, n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; {
			if !m.dark(x, y) {
				x++
				continue
			}
			start := x
			for x < n && m.dark(x, y) {
				x++
			}
			fmt.Fprintf(&b, "M%d %dh%dv1h-%dz", start, y, x-start, x-start)
		}
	}
	b.WriteString(`"/></svg>`)
	return b.String(), nil
}

// MonochromeBitmap raster de 1 bit por píxel, filas empaquetadas MSB primero (1 = negro),
// el formato de las órdenes de imagen ESC/POS (GS v 0).
type MonochromeBitmap struct {
	Width       int
	Height      int
	BytesPerRow int
	Data        []byte
}

// RenderMonochrome raster empaquetado para impresoras térmicas.
func RenderMonochrome(content string, opts QROptions) (*MonochromeBitmap, error) {
	m, err := encodeQR(content, opts)
	if err != nil {
		return nil, err
	}
	n := m.size()
	bpr := (n + 7) / 8
	data := make([]byte, bpr*n)
	for py := 0; py < n; py++ {
		for px := 0; px < n; px++ {
			if m.dark(px/m.scale, py/m.scale) {
				data[py*bpr+px/8] |= 0x80 >> uint(px%8)
			}
		}
	}
	return &MonochromeBitmap{Width: n, Height: n, BytesPerRow: bpr, Data: data}, nil
}
