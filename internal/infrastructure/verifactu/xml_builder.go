package verifactu

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	domainvf "github.com/jhoicas/verifactu-api/internal/domain/verifactu"
	pkgvf "github.com/jhoicas/verifactu-api/pkg/verifactu"
	"github.com/ucarion/c14n"
	"golang.org/x/text/unicode/norm"
)

// Namespaces del servicio SuministroLR (Orden HAC/1177/2024).
const (
	NsSoapEnv = "http://schemas.xmlsoap.org/soap/envelope/"
	NsSum     = "https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/tike/cont/ws/SuministroLR.xsd"

	xmlDateLayout = "02-01-2006"
)

// DocumentKind tipo de documento SOAP.
type DocumentKind string

const (
	DocumentSubmission   DocumentKind = "submission"   // RegistroAlta
	DocumentCancellation DocumentKind = "cancellation" // RegistroAnulacion
)

// requiredPaths rutas obligatorias relativas al registro (RegistroAlta o RegistroAnulacion).
var requiredPaths = map[DocumentKind][]string{
	DocumentSubmission: {
		"IDVersion", "IDFactura/IDEmisorFactura", "IDFactura/NumSerieFactura",
		"IDFactura/FechaExpedicionFactura", "NombreRazonEmisor", "TipoFactura", "DescripcionOperacion",
		"Desglose/DetalleDesglose", "CuotaTotal", "ImporteTotal", "Encadenamiento",
		"SistemaInformatico/NIF", "FechaHoraHusoGenRegistro", "TipoHuella", "Huella",
	},
	DocumentCancellation: {
		"IDVersion", "IDFactura/IDEmisorFacturaAnulada", "IDFactura/NumSerieFacturaAnulada",
		"IDFactura/FechaExpedicionFacturaAnulada", "SistemaInformatico/NIF", "FechaHoraHusoGenRegistro",
	},
}

// nonEmptyPaths hojas que además deben llevar texto.
var nonEmptyPaths = map[DocumentKind][]string{
	DocumentSubmission: {
		"IDFactura/IDEmisorFactura", "IDFactura/NumSerieFactura", "IDFactura/FechaExpedicionFactura",
		"ImporteTotal", "Huella",
	},
	DocumentCancellation: {
		"IDFactura/IDEmisorFacturaAnulada", "IDFactura/NumSerieFacturaAnulada",
		"IDFactura/FechaExpedicionFacturaAnulada",
	},
}

// DocumentBuilder construye los documentos SOAP de alta y anulación.
// La salida es función pura del registro y la configuración.
type DocumentBuilder struct{}

// NewDocumentBuilder crea el constructor.
func NewDocumentBuilder() *DocumentBuilder {
	return &DocumentBuilder{}
}

// xmlWriter envuelve el encoder y conserva el primer error.
type xmlWriter struct {
	enc *xml.Encoder
	err error
}

func (w *xmlWriter) token(t xml.Token) {
	if w.err == nil {
		w.err = w.enc.EncodeToken(t)
	}
}

func (w *xmlWriter) start(local string, attrs ...xml.Attr) {
	w.token(xml.StartElement{Name: xml.Name{Local: "sum:" + local}, Attr: attrs})
}

func (w *xmlWriter) end(local string) {
	w.token(xml.EndElement{Name: xml.Name{Local: "sum:" + local}})
}

// leaf <sum:local>value</sum:local>; el encoder escapa & < > " '.
func (w *xmlWriter) leaf(local, value string) {
	w.start(local)
	w.token(xml.CharData(value))
	w.end(local)
}

// text como leaf, normalizando texto libre a NFC.
func (w *xmlWriter) text(local, value string) {
	w.leaf(local, freeText(value))
}

func freeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// envelope escribe declaración, Envelope/Body y la Cabecera; body escribe el registro.
func (s *DocumentBuilder) envelope(cfg *entity.SubmissionConfig, body func(w *xmlWriter)) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	w := &xmlWriter{enc: enc}

	env := xml.StartElement{
		Name: xml.Name{Local: "soapenv:Envelope"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns:soapenv"}, Value: NsSoapEnv},
			{Name: xml.Name{Local: "xmlns:sum"}, Value: NsSum},
		},
	}
	w.token(env)
	w.token(xml.StartElement{Name: xml.Name{Local: "soapenv:Header"}})
	w.token(xml.EndElement{Name: xml.Name{Local: "soapenv:Header"}})
	w.token(xml.StartElement{Name: xml.Name{Local: "soapenv:Body"}})
	w.start("RegFactuSistemaFacturacion")

	// ---- Cabecera
	w.start("Cabecera")
	w.start("ObligadoEmision")
	w.text("NombreRazon", cfg.IssuerName)
	w.leaf("NIF", cfg.IssuerNIF)
	w.end("ObligadoEmision")
	w.leaf("IDVersion", pkgvf.SchemaVersion)
	w.leaf("TipoComunicacion", pkgvf.CommunicationTypeAlta)
	w.end("Cabecera")

	w.start("RegistroFactura")
	body(w)
	w.end("RegistroFactura")

	w.end("RegFactuSistemaFacturacion")
	w.token(xml.EndElement{Name: xml.Name{Local: "soapenv:Body"}})
	w.token(env.End())
	if w.err == nil {
		w.err = enc.Flush()
	}
	if w.err != nil {
		return nil, fmt.Errorf("verifactu: construir XML: %w", w.err)
	}
	return buf.Bytes(), nil
}

// BuildSubmissionXML documento RegistroAlta del registro con la huella hash.
func (s *DocumentBuilder) BuildSubmissionXML(rec *entity.InvoiceRecord, hash string, cfg *entity.SubmissionConfig) ([]byte, error) {
	if rec == nil || cfg == nil {
		return nil, domainvf.NewValidationError("registro y configuración son obligatorios para el XML")
	}
	if hash == "" {
		return nil, domainvf.NewValidationError("la huella es obligatoria para el XML")
	}
	return s.envelope(cfg, func(w *xmlWriter) {
		w.start("RegistroAlta")
		w.leaf("IDVersion", pkgvf.SchemaVersion)

		w.start("IDFactura")
		w.leaf("IDEmisorFactura", rec.IssuerNIF)
		w.leaf("NumSerieFactura", rec.InvoiceNumber)
		w.leaf("FechaExpedicionFactura", rec.InvoiceDate.Format(xmlDateLayout))
		w.end("IDFactura")

		w.text("NombreRazonEmisor", rec.IssuerName)
		w.leaf("TipoFactura", rec.InvoiceType)

		if pkgvf.IsRectification(rec.InvoiceType) && rec.Rectification != nil {
			writeRectification(w, rec)
		}

		desc := rec.Description
		if strings.TrimSpace(desc) == "" {
			desc = "Venta"
		}
		w.text("DescripcionOperacion", desc)

		if pkgvf.RequiresRecipient(rec.InvoiceType) && rec.RecipientNIF != "" {
			w.start("Destinatarios")
			w.start("IDDestinatario")
			w.text("NombreRazon", rec.RecipientName)
			w.leaf("NIF", rec.RecipientNIF)
			w.end("IDDestinatario")
			w.end("Destinatarios")
		}

		// ---- Desglose (un único tipo impositivo)
		w.start("Desglose")
		w.start("DetalleDesglose")
		w.leaf("Impuesto", pkgvf.TaxIVA)
		w.leaf("ClaveRegimen", pkgvf.RegimeGeneral)
		w.leaf("CalificacionOperacion", pkgvf.OperationSubjectS1)
		w.leaf("TipoImpositivo", domainvf.FormatAmount(rec.TaxRate))
		w.leaf("BaseImponibleOimporteNoSujeto", domainvf.FormatAmount(rec.BaseAmount))
		w.leaf("CuotaRepercutida", domainvf.FormatAmount(rec.TaxAmount))
		w.end("DetalleDesglose")
		w.end("Desglose")

		w.leaf("CuotaTotal", domainvf.FormatAmount(rec.TaxAmount))
		w.leaf("ImporteTotal", domainvf.FormatAmount(rec.TotalAmount))

		// ---- Encadenamiento
		w.start("Encadenamiento")
		if rec.PreviousHash == nil || *rec.PreviousHash == "" {
			w.leaf("PrimerRegistro", "S")
		} else {
			w.start("RegistroAnterior")
			w.leaf("IDEmisorFactura", rec.IssuerNIF)
			w.leaf("NumSerieFactura", rec.PreviousInvoiceNumber)
			if rec.PreviousInvoiceDate != nil {
				w.leaf("FechaExpedicionFactura", rec.PreviousInvoiceDate.Format(xmlDateLayout))
			}
			w.leaf("Huella", *rec.PreviousHash)
			w.end("RegistroAnterior")
		}
		w.end("Encadenamiento")

		writeSoftware(w, cfg.Software)
		w.leaf("FechaHoraHusoGenRegistro", generatedAt(rec.GeneratedAt))
		w.leaf("TipoHuella", pkgvf.HashTypeSHA256)
		w.leaf("Huella", hash)
		w.end("RegistroAlta")
	})
}

func writeRectification(w *xmlWriter, rec *entity.InvoiceRecord) {
	r := rec.Rectification
	kind := r.Kind
	if kind == "" {
		kind = pkgvf.RectificationBySubstitution
	}
	w.leaf("TipoRectificativa", kind)
	w.start("FacturasRectificadas")
	w.start("IDFacturaRectificada")
	w.leaf("IDEmisorFactura", rec.IssuerNIF)
	w.leaf("NumSerieFactura", r.InvoiceNumber)
	w.leaf("FechaExpedicionFactura", r.InvoiceDate.Format(xmlDateLayout))
	w.end("IDFacturaRectificada")
	w.end("FacturasRectificadas")
	if kind == pkgvf.RectificationBySubstitution {
		w.start("ImporteRectificacion")
		w.leaf("BaseRectificada", domainvf.FormatAmount(r.BaseAmount))
		w.leaf("CuotaRectificada", domainvf.FormatAmount(r.TaxAmount))
		w.end("ImporteRectificacion")
	}
}

func writeSoftware(w *xmlWriter, sw entity.SoftwareInfo) {
	w.start("SistemaInformatico")
	w.text("NombreRazon", sw.VendorName)
	w.leaf("NIF", sw.VendorNIF)
	w.text("NombreSistemaInformatico", sw.Name)
	w.leaf("IdSistemaInformatico", sw.ID)
	w.leaf("Version", sw.Version)
	w.leaf("NumeroInstalacion", sw.InstallationNumber)
	w.leaf("TipoUsoPosibleSoloVerifactu", "S")
	w.leaf("TipoUsoPosibleMultiOT", "N")
	w.leaf("IndicadorMultiplesOT", "N")
	w.end("SistemaInformatico")
}

func generatedAt(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// BuildCancellationXML documento RegistroAnulacion (sin desglose económico).
func (s *DocumentBuilder) BuildCancellationXML(req CancellationRequest, cfg *entity.SubmissionConfig) ([]byte, error) {
	if cfg == nil {
		return nil, domainvf.NewValidationError("configuración obligatoria para el XML de anulación")
	}
	if req.InvoiceNumber == "" || req.InvoiceDate.IsZero() {
		return nil, domainvf.NewValidationError("número y fecha de la factura a anular son obligatorios")
	}
	issuer := req.IssuerNIF
	if issuer == "" {
		issuer = cfg.IssuerNIF
	}
	return s.envelope(cfg, func(w *xmlWriter) {
		w.start("RegistroAnulacion")
		w.leaf("IDVersion", pkgvf.SchemaVersion)
		w.start("IDFactura")
		w.leaf("IDEmisorFacturaAnulada", issuer)
		w.leaf("NumSerieFacturaAnulada", req.InvoiceNumber)
		w.leaf("FechaExpedicionFacturaAnulada", req.InvoiceDate.Format(xmlDateLayout))
		w.end("IDFactura")
		if strings.TrimSpace(req.Reason) != "" {
			w.text("MotivoAnulacion", req.Reason)
		}
		writeSoftware(w, cfg.Software)
		w.leaf("FechaHoraHusoGenRegistro", generatedAt(req.GeneratedAt))
		w.end("RegistroAnulacion")
	})
}

// ── Validación estructural ──

// StructureReport resultado de ValidateStructure.
type StructureReport struct {
	Valid  bool
	Kind   DocumentKind
	Errors []string
}

// Err error de validación con los problemas, o nil.
func (r StructureReport) Err() error {
	if r.Valid {
		return nil
	}
	return domainvf.NewValidationError("XML estructuralmente inválido: " + strings.Join(r.Errors, "; "))
}

// ValidateStructure comprobación previa al envío: declaración XML, documento bien formado y
// presencia de todos los elementos obligatorios de su tipo. No sustituye a la validación XSD.
func ValidateStructure(doc []byte) StructureReport {
	r := StructureReport{Valid: true}
	fail := func(msg string) {
		r.Valid = false
		r.Errors = append(r.Errors, msg)
	}

	if !bytes.HasPrefix(bytes.TrimPrefix(doc, []byte("\ufeff")), []byte("<?xml")) {
		fail("falta la declaración XML")
	}
	tree := etree.NewDocument()
	if err := tree.ReadFromBytes(doc); err != nil {
		fail("XML mal formado: " + err.Error())
		return r
	}
	if tree.Root() == nil {
		fail("documento sin elemento raíz")
		return r
	}

	body := childPath(tree.Root(), "Body")
	if tree.Root().Tag != "Envelope" || body == nil {
		fail("falta el elemento Envelope/Body")
		return r
	}
	sys := childPath(body, "RegFactuSistemaFacturacion")
	if sys == nil {
		fail("falta el elemento Body/RegFactuSistemaFacturacion")
		return r
	}
	requireLeaf(sys, []string{"Cabecera/IDVersion", "Cabecera/ObligadoEmision/NIF"}, fail)

	r.Kind = DocumentSubmission
	prefix := "RegistroAlta"
	rec := childPath(sys, "RegistroFactura/RegistroAlta")
	if anul := childPath(sys, "RegistroFactura/RegistroAnulacion"); anul != nil {
		r.Kind, prefix, rec = DocumentCancellation, "RegistroAnulacion", anul
	}
	if rec == nil {
		fail("falta el elemento RegistroFactura/RegistroAlta")
		return r
	}
	for _, path := range requiredPaths[r.Kind] {
		if childPath(rec, path) == nil {
			fail("falta el elemento " + prefix + "/" + path)
		}
	}
	for _, path := range nonEmptyPaths[r.Kind] {
		if e := childPath(rec, path); e != nil && strings.TrimSpace(e.Text()) == "" {
			fail("el elemento " + prefix + "/" + path + " está vacío")
		}
	}
	if r.Kind == DocumentSubmission {
		if chain := childPath(rec, "Encadenamiento"); chain != nil && childPath(chain, "PrimerRegistro") == nil {
			prev := childPath(chain, "RegistroAnterior/Huella")
			switch {
			case prev == nil:
				fail("falta el elemento RegistroAlta/Encadenamiento/RegistroAnterior/Huella")
			case strings.TrimSpace(prev.Text()) == "":
				fail("el elemento RegistroAlta/Encadenamiento/RegistroAnterior/Huella está vacío")
			}
		}
	}
	return r
}

// requireLeaf exige las rutas indicadas bajo el nodo y que no estén vacías.
func requireLeaf(root *etree.Element, paths []string, fail func(string)) {
	for _, path := range paths {
		e := childPath(root, path)
		switch {
		case e == nil:
			fail("falta el elemento " + path)
		case len(e.ChildElements()) == 0 && strings.TrimSpace(e.Text()) == "":
			fail("el elemento " + path + " está vacío")
		}
	}
}

// childPath sigue la ruta de hijos directos por nombre local, sin mirar el prefijo.
func childPath(e *etree.Element, path string) *etree.Element {
	for _, name := range strings.Split(path, "/") {
		var next *etree.Element
		for _, c := range e.ChildElements() {
			if c.Tag == name {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		e = next
	}
	return e
}

// EquivalentDocuments compara dos documentos en su forma canónica (C14N).
func EquivalentDocuments(a, b []byte) (bool, error) {
	ca, err := canonicalize(a)
	if err != nil {
		return false, err
	}
	cb, err := canonicalize(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ca, cb), nil
}

// canonicalize forma C14N; la declaración XML no forma parte de ella.
func canonicalize(data []byte) ([]byte, error) {
	data = bytes.TrimSpace(data)
	if bytes.HasPrefix(data, []byte("<?xml")) {
		if end := bytes.Index(data, []byte("?>")); end >= 0 {
			data = bytes.TrimSpace(data[end+2:])
		}
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	out, err := c14n.Canonicalize(dec)
	if err != nil {
		return nil, fmt.Errorf("verifactu: canonicalizar XML: %w", err)
	}
	return out, nil
}
