package verifactu

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/verifactu-api/internal/domain"
	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	"github.com/jhoicas/verifactu-api/internal/domain/repository"
	"github.com/jhoicas/verifactu-api/pkg/config"
	pkgvf "github.com/jhoicas/verifactu-api/pkg/verifactu"
)

// Claves de la tabla verifactu_settings. Este archivo es el único que las conoce.
const (
	KeyEnabled            = "enabled"
	KeyEnvironment        = "environment"
	KeyIssuerNIF          = "issuer_nif"
	KeyIssuerName         = "issuer_name"
	KeyIssuerAddress      = "issuer_address"
	KeyAutoSubmit         = "auto_submit"
	KeyDefaultTaxRate     = "default_tax_rate"
	KeyCertPath           = "cert_path"
	KeyCertPassword       = "cert_password"
	KeyEndpointTest       = "endpoint_test"
	KeyEndpointProd       = "endpoint_prod"
	KeyTimeoutSeconds     = "timeout_seconds"
	KeySoftwareName       = "software_name"
	KeySoftwareVendorName = "software_vendor_name"
	KeySoftwareVendorNIF  = "software_vendor_nif"
	KeySoftwareID         = "software_id"
	KeySoftwareVersion    = "software_version"
	KeyInstallationNumber = "installation_number"
)

// secretKeys no se devuelven nunca en claro.
var secretKeys = map[string]bool{KeyCertPassword: true}

// knownKeys claves admitidas con su validador de valor (nil = texto libre).
var knownKeys = map[string]func(string) error{
	KeyEnabled:            validateBool,
	KeyEnvironment:        validateEnvironment,
	KeyIssuerNIF:          validateNIF,
	KeyIssuerName:         nil,
	KeyIssuerAddress:      nil,
	KeyAutoSubmit:         validateBool,
	KeyDefaultTaxRate:     validateTaxRate,
	KeyCertPath:           nil,
	KeyCertPassword:       nil,
	KeyEndpointTest:       validateURL,
	KeyEndpointProd:       validateURL,
	KeyTimeoutSeconds:     validatePositiveInt,
	KeySoftwareName:       nil,
	KeySoftwareVendorName: nil,
	KeySoftwareVendorNIF:  validateNIF,
	KeySoftwareID:         nil,
	KeySoftwareVersion:    nil,
	KeyInstallationNumber: nil,
}

const defaultConfigTTL = 30 * time.Second

// ConfigLoader construye SubmissionConfig desde verifactu_settings sobre los valores del entorno.
// Cachea el resultado durante ttl; Invalidate fuerza la relectura.
type ConfigLoader struct {
	settings repository.SettingsRepository
	defaults config.VerifactuConfig
	ttl      time.Duration
	now      func() time.Time

	mu       sync.Mutex
	cached   *entity.SubmissionConfig
	loadedAt time.Time
}

// NewConfigLoader crea el loader. ttl <= 0 usa 30 s.
func NewConfigLoader(settings repository.SettingsRepository, defaults config.VerifactuConfig, ttl time.Duration) *ConfigLoader {
	if ttl <= 0 {
		ttl = defaultConfigTTL
	}
	return &ConfigLoader{settings: settings, defaults: defaults, ttl: ttl, now: time.Now}
}

// Load devuelve una copia de la configuración efectiva.
func (l *ConfigLoader) Load(ctx context.Context) (*entity.SubmissionConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cached != nil && l.now().Sub(l.loadedAt) < l.ttl {
		c := *l.cached
		return &c, nil
	}
	values, err := l.settings.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("verifactu: leer configuración: %w", err)
	}
	cfg, err := l.build(values)
	if err != nil {
		return nil, err
	}
	l.cached = cfg
	l.loadedAt = l.now()
	c := *cfg
	return &c, nil
}

// Invalidate descarta la caché.
func (l *ConfigLoader) Invalidate() {
	l.mu.Lock()
	l.cached = nil
	l.mu.Unlock()
}

func (l *ConfigLoader) build(values map[string]string) (*entity.SubmissionConfig, error) {
	d := l.defaults
	get := func(key, def string) string {
		if v, ok := values[key]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}
	getBool := func(key string, def bool) bool {
		if b, err := strconv.ParseBool(get(key, "")); err == nil {
			return b
		}
		return def
	}

	rate, err := decimal.NewFromString(get(KeyDefaultTaxRate, d.DefaultTaxRate))
	if err != nil {
		return nil, fmt.Errorf("%w: tipo impositivo por defecto inválido", domain.ErrInvalidInput)
	}
	timeout := d.Timeout
	if n, err := strconv.Atoi(get(KeyTimeoutSeconds, "")); err == nil && n > 0 {
		timeout = time.Duration(n) * time.Second
	}

	cfg := &entity.SubmissionConfig{
		Enabled:        getBool(KeyEnabled, d.Enabled),
		Environment:    get(KeyEnvironment, d.Environment),
		IssuerNIF:      pkgvf.NormalizeNIF(get(KeyIssuerNIF, d.IssuerNIF)),
		IssuerName:     get(KeyIssuerName, d.IssuerName),
		IssuerAddress:  get(KeyIssuerAddress, ""),
		AutoSubmit:     getBool(KeyAutoSubmit, d.AutoSubmit),
		DefaultTaxRate: rate,
		CertPath:       get(KeyCertPath, d.CertPath),
		CertPassword:   get(KeyCertPassword, d.CertPassword),
		EndpointTest:   get(KeyEndpointTest, d.EndpointTest),
		EndpointProd:   get(KeyEndpointProd, d.EndpointProd),
		Timeout:        timeout,
		Software: entity.SoftwareInfo{
			Name:               get(KeySoftwareName, d.SoftwareName),
			VendorName:         get(KeySoftwareVendorName, d.SoftwareVendorName),
			VendorNIF:          pkgvf.NormalizeNIF(get(KeySoftwareVendorNIF, d.SoftwareVendorNIF)),
			ID:                 get(KeySoftwareID, d.SoftwareID),
			Version:            get(KeySoftwareVersion, d.SoftwareVersion),
			InstallationNumber: get(KeyInstallationNumber, d.InstallationNumber),
		},
	}
	if !pkgvf.IsValidEnvironment(cfg.Environment) {
		cfg.Environment = pkgvf.EnvironmentTest
	}
	// Software propio: el productor es el mismo obligado tributario.
	if cfg.Software.VendorNIF == "" {
		cfg.Software.VendorNIF = cfg.IssuerNIF
	}
	if cfg.Software.VendorName == "" {
		cfg.Software.VendorName = cfg.IssuerName
	}
	return cfg, nil
}

// Update valida y guarda claves de configuración. Un valor vacío elimina la clave
// (vuelve al valor del entorno). Invalida la caché.
func (l *ConfigLoader) Update(ctx context.Context, values map[string]string) error {
	clean := make(map[string]string, len(values))
	for k, v := range values {
		validate, ok := knownKeys[k]
		if !ok {
			return fmt.Errorf("%w: clave de configuración desconocida %q", domain.ErrInvalidInput, k)
		}
		v = strings.TrimSpace(v)
		if v != "" && validate != nil {
			if err := validate(v); err != nil {
				return fmt.Errorf("%w: %s: %v", domain.ErrInvalidInput, k, err)
			}
		}
		if k == KeyIssuerNIF || k == KeySoftwareVendorNIF {
			v = pkgvf.NormalizeNIF(v)
		}
		clean[k] = v
	}
	if err := l.settings.Upsert(ctx, clean); err != nil {
		return fmt.Errorf("verifactu: guardar configuración: %w", err)
	}
	l.Invalidate()
	return nil
}

// Settings vista clave-valor de la configuración efectiva; los secretos se enmascaran.
func (l *ConfigLoader) Settings(ctx context.Context) (map[string]string, error) {
	cfg, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]string{
		KeyEnabled:            strconv.FormatBool(cfg.Enabled),
		KeyEnvironment:        cfg.Environment,
		KeyIssuerNIF:          cfg.IssuerNIF,
		KeyIssuerName:         cfg.IssuerName,
		KeyIssuerAddress:      cfg.IssuerAddress,
		KeyAutoSubmit:         strconv.FormatBool(cfg.AutoSubmit),
		KeyDefaultTaxRate:     cfg.DefaultTaxRate.String(),
		KeyCertPath:           cfg.CertPath,
		KeyCertPassword:       cfg.CertPassword,
		KeyEndpointTest:       cfg.EndpointTest,
		KeyEndpointProd:       cfg.EndpointProd,
		KeyTimeoutSeconds:     strconv.Itoa(int(cfg.Timeout / time.Second)),
		KeySoftwareName:       cfg.Software.Name,
		KeySoftwareVendorName: cfg.Software.VendorName,
		KeySoftwareVendorNIF:  cfg.Software.VendorNIF,
		KeySoftwareID:         cfg.Software.ID,
		KeySoftwareVersion:    cfg.Software.Version,
		KeyInstallationNumber: cfg.Software.InstallationNumber,
	}
	for k := range secretKeys {
		if out[k] != "" {
			out[k] = "********"
		}
	}
	return out, nil
}

// KnownKeys claves admitidas, ordenadas.
func KnownKeys() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---- validadores ----

func validateBool(v string) error {
	_, err := strconv.ParseBool(v)
	return err
}

func validateEnvironment(v string) error {
	if !pkgvf.IsValidEnvironment(v) {
		return fmt.Errorf("entorno %q desconocido (test|production)", v)
	}
	return nil
}

func validateNIF(v string) error {
	_, err := pkgvf.ValidateNIF(pkgvf.NormalizeNIF(v))
	return err
}

func validateTaxRate(v string) error {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return err
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("tipo fuera de rango")
	}
	return nil
}

func validateURL(v string) error {
	if !strings.HasPrefix(v, "https://") {
		return fmt.Errorf("el endpoint debe ser https")
	}
	return nil
}

func validatePositiveInt(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fmt.Errorf("se esperaba un entero positivo")
	}
	return nil
}
