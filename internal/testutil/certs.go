// Package testutil utilidades compartidas por los tests: certificados autofirmados en
// PKCS#12 y servidores TLS con cliente obligatorio.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"
)

// CertOptions parámetros del certificado de prueba.
type CertOptions struct {
	CommonName   string
	SerialNumber string // atributo serialNumber del sujeto, ej. "IDCES-12345678Z"
	NotBefore    time.Time
	NotAfter     time.Time
	Password     string
}

// DefaultCertOptions certificado vigente un año con NIF en serialNumber.
func DefaultCertOptions() CertOptions {
	now := time.Now()
	return CertOptions{
		CommonName:   "COMERCIAL EJEMPLO SL",
		SerialNumber: "VATES-B12345674",
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.AddDate(1, 0, 0),
		Password:     "secreto",
	}
}

// SelfSigned genera un certificado autofirmado ECDSA P-256 apto para cliente y servidor TLS.
func SelfSigned(t testing.TB, opts CertOptions) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   opts.CommonName,
			SerialNumber: opts.SerialNumber,
			Country:      []string{"ES"},
		},
		NotBefore:             opts.NotBefore,
		NotAfter:              opts.NotAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

// P12 codifica un certificado nuevo en PKCS#12 (3DES/SHA-1, legible por x/crypto/pkcs12).
func P12(t testing.TB, opts CertOptions) ([]byte, *x509.Certificate) {
	t.Helper()
	cert, key := SelfSigned(t, opts)
	data, err := gopkcs12.LegacyDES.Encode(key, cert, nil, opts.Password)
	require.NoError(t, err)
	return data, cert
}

// WriteP12 escribe un PKCS#12 en dir y devuelve su ruta.
func WriteP12(t testing.TB, dir, name string, opts CertOptions) string {
	t.Helper()
	data, _ := P12(t, opts)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// MutualTLSServer servidor HTTPS que exige certificado de cliente firmado por clientCA.
// Devuelve el servidor y un pool con su certificado para usarlo como RootCAs.
func MutualTLSServer(t testing.TB, clientCA *x509.Certificate, handler http.Handler) (*httptest.Server, *x509.CertPool) {
	t.Helper()
	srvCert, srvKey := SelfSigned(t, CertOptions{
		CommonName: "localhost",
		NotBefore:  time.Now().Add(-time.Hour),
		NotAfter:   time.Now().Add(24 * time.Hour),
	})

	clientPool := x509.NewCertPool()
	clientPool.AddCert(clientCA)

	srv := httptest.NewUnstartedServer(handler)
	srv.TLS = &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{srvCert.Raw}, PrivateKey: srvKey, Leaf: srvCert}},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    clientPool,
		MinVersion:   tls.VersionTLS12,
	}
	srv.StartTLS()
	t.Cleanup(srv.Close)

	roots := x509.NewCertPool()
	roots.AddCert(srvCert)
	return srv, roots
}
