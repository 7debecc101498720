package verifactu

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	domainvf "github.com/jhoicas/verifactu-api/internal/domain/verifactu"
	pkgvf "github.com/jhoicas/verifactu-api/pkg/verifactu"
	"golang.org/x/crypto/pkcs12"
)

// expiryWarningWindow antelación con la que se avisa de la caducidad.
const expiryWarningWindow = 30 * 24 * time.Hour

// CertificateBundle certificado y clave de un PKCS#12 en PEM. No se persiste.
type CertificateBundle struct {
	CertificatePEM  []byte
	PrivateKeyPEM   []byte
	NotBefore       time.Time
	NotAfter        time.Time
	Subject         string
	Issuer          string
	SerialNumberNIF string // NIF extraído del serialNumber del sujeto; vacío si no hay
	Fingerprint     string // SHA-256 del DER en hex
}

// TLSCertificate par cliente para el handshake TLS mutuo.
func (b *CertificateBundle) TLSCertificate() (tls.Certificate, error) {
	return tls.X509KeyPair(b.CertificatePEM, b.PrivateKeyPEM)
}

// ValidationReport resultado de Validate.
type ValidationReport struct {
	Valid    bool
	Errors   []string
	Warnings []string
	reason   string
}

// Err error certificate con el sub-motivo (expired / not_yet_valid), o nil si es válido.
func (r ValidationReport) Err() error {
	if r.Valid {
		return nil
	}
	return domainvf.NewCertificateError(r.reason, strings.Join(r.Errors, "; "), nil)
}

// CertificateManager carga, valida y guarda certificados PKCS#12 en un directorio dedicado.
// Mantiene una caché por ruta invalidada por cambio de contraseña, de mtime o por Invalidate.
type CertificateManager struct {
	dir string

	mu    sync.Mutex
	cache map[string]cachedBundle
}

type cachedBundle struct {
	passwordKey string
	modTime     time.Time
	bundle      *CertificateBundle
}

// NewCertificateManager crea el gestor sobre dir (directorio de almacenamiento de certificados).
func NewCertificateManager(dir string) *CertificateManager {
	return &CertificateManager{dir: dir, cache: make(map[string]cachedBundle)}
}

// Dir directorio de almacenamiento.
func (m *CertificateManager) Dir() string { return m.dir }

// Load lee y decodifica el PKCS#12 de path.
func (m *CertificateManager) Load(path, password string) (*CertificateBundle, error) {
	if path == "" {
		return nil, domainvf.NewCertificateError(domainvf.ReasonNotConfigured, "no hay certificado configurado", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domainvf.NewCertificateError(domainvf.ReasonFileNotFound, "no existe el archivo de certificado "+path, err)
		}
		return nil, domainvf.NewCertificateError(domainvf.ReasonFileNotFound, "no se pudo acceder al certificado", err)
	}

	key := passwordKey(password)
	m.mu.Lock()
	if c, ok := m.cache[path]; ok && c.passwordKey == key && c.modTime.Equal(info.ModTime()) {
		m.mu.Unlock()
		return c.bundle, nil
	}
	m.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domainvf.NewCertificateError(domainvf.ReasonFileNotFound, "leer p12", err)
	}
	bundle, err := ParsePKCS12(data, password)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[path] = cachedBundle{passwordKey: key, modTime: info.ModTime(), bundle: bundle}
	m.mu.Unlock()
	return bundle, nil
}

// Invalidate descarta la entrada de caché de path.
func (m *CertificateManager) Invalidate(path string) {
	m.mu.Lock()
	delete(m.cache, path)
	m.mu.Unlock()
}

// ParsePKCS12 decodifica un contenedor con exactamente un certificado y una clave privada.
func ParsePKCS12(data []byte, password string) (*CertificateBundle, error) {
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, domainvf.NewCertificateError(domainvf.ReasonIncorrectPassword, "contraseña del certificado incorrecta", err)
		}
		return nil, domainvf.NewCertificateError(domainvf.ReasonMalformed, "decodificar p12", err)
	}
	if cert == nil {
		return nil, domainvf.NewCertificateError(domainvf.ReasonMalformed, "el p12 no contiene certificado", nil)
	}
	if priv == nil {
		return nil, domainvf.NewCertificateError(domainvf.ReasonMalformed, "el p12 no contiene clave privada", nil)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, domainvf.NewCertificateError(domainvf.ReasonMalformed, "serializar clave privada", err)
	}
	fp := sha256.Sum256(cert.Raw)

	return &CertificateBundle{
		CertificatePEM:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}),
		PrivateKeyPEM:   pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
		NotBefore:       cert.NotBefore,
		NotAfter:        cert.NotAfter,
		Subject:         cert.Subject.String(),
		Issuer:          cert.Issuer.String(),
		SerialNumberNIF: nifFromSerialNumber(cert.Subject.SerialNumber),
		Fingerprint:     strings.ToUpper(hex.EncodeToString(fp[:])),
	}, nil
}

// nifFromSerialNumber extrae el NIF de serialNumber (IDCES-12345678Z, VATES-B12345674 o el NIF sin prefijo).
func nifFromSerialNumber(serial string) string {
	s := strings.ToUpper(strings.TrimSpace(serial))
	for _, prefix := range []string{"IDCES-", "VATES-", "IDCES", "VATES"} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			break
		}
	}
	if pkgvf.IsValidNIF(s) {
		return pkgvf.NormalizeNIF(s)
	}
	return ""
}

// Validate comprueba la vigencia en now. Avisa si caduca en menos de 30 días o si el
// sujeto no incluye un NIF en serialNumber.
func (m *CertificateManager) Validate(b *CertificateBundle, now time.Time) ValidationReport {
	return ValidateBundle(b, now)
}

// ValidateBundle ver CertificateManager.Validate.
func ValidateBundle(b *CertificateBundle, now time.Time) ValidationReport {
	r := ValidationReport{Valid: true}
	if b == nil {
		return ValidationReport{Errors: []string{"certificado no cargado"}, reason: domainvf.ReasonNotConfigured}
	}
	switch {
	case now.Before(b.NotBefore):
		r.Valid = false
		r.reason = domainvf.ReasonNotYetValid
		r.Errors = append(r.Errors, fmt.Sprintf("el certificado aún no es válido (válido desde %s)", b.NotBefore.UTC().Format(time.RFC3339)))
	case now.After(b.NotAfter):
		r.Valid = false
		r.reason = domainvf.ReasonExpired
		r.Errors = append(r.Errors, fmt.Sprintf("el certificado caducó el %s", b.NotAfter.UTC().Format(time.RFC3339)))
	case b.NotAfter.Sub(now) < expiryWarningWindow:
		days := int(b.NotAfter.Sub(now).Hours() / 24)
		r.Warnings = append(r.Warnings, fmt.Sprintf("el certificado caduca en %d días", days))
	}
	if b.SerialNumberNIF == "" {
		r.Warnings = append(r.Warnings, "el sujeto del certificado no incluye un NIF en serialNumber")
	}
	return r
}

// ── Almacenamiento ──

// Exists indica si path existe y es un archivo regular.
func (m *CertificateManager) Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Save guarda data como filename dentro del directorio de certificados y devuelve la ruta.
func (m *CertificateManager) Save(data []byte, filename string) (string, error) {
	name, err := sanitizeFilename(filename)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", domainvf.NewValidationError("el certificado está vacío")
	}
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return "", fmt.Errorf("crear directorio de certificados: %w", err)
	}
	path := filepath.Join(m.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("guardar certificado: %w", err)
	}
	m.Invalidate(path)
	return path, nil
}

// Delete borra path si está dentro del directorio de certificados. false si no existía.
func (m *CertificateManager) Delete(path string) (bool, error) {
	if !m.within(path) {
		return false, domainvf.NewValidationError("la ruta no pertenece al directorio de certificados")
	}
	m.Invalidate(path)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("borrar certificado: %w", err)
	}
	return true, nil
}

func (m *CertificateManager) within(path string) bool {
	dir, err := filepath.Abs(m.dir)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(dir, abs)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// sanitizeFilename solo nombre base con [A-Za-z0-9._-] y extensión .p12/.pfx.
func sanitizeFilename(filename string) (string, error) {
	if filename == "" || strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		return "", domainvf.NewValidationError(fmt.Sprintf("nombre de certificado inválido %q", filename))
	}
	var b strings.Builder
	for _, r := range filename {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := b.String()
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".p12" && ext != ".pfx" {
		return "", domainvf.NewValidationError("el certificado debe tener extensión .p12 o .pfx")
	}
	return name, nil
}

func passwordKey(password string) string {
	h := sha256.Sum256([]byte(password))
	return hex.EncodeToString(h[:])
}
