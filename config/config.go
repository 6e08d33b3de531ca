package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/guseggert/cmdhub/internal/files"
)

// Mode selects how service ports and probe timeouts are resolved.
type Mode string

const (
	Development Mode = "development"
	Production  Mode = "production"
)

// ParseMode accepts the usual spellings of the two modes ("prod", "dev", any case).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dev", "development":
		return Development, nil
	case "prod", "production":
		return Production, nil
	}
	return "", fmt.Errorf("unknown mode %q, expected development or production", s)
}

const (
	DefaultListenAddr      = "0.0.0.0:9010"
	DefaultHost            = "127.0.0.1"
	DefaultCatalogFile     = "commands_db.json"
	DefaultServicesFile    = "services.json"
	DefaultRegistryBin     = "pm2"
	DefaultRegistryTimeout = 5 * time.Second

	devProbeTimeout  = 150 * time.Millisecond
	prodProbeTimeout = 500 * time.Millisecond
)

// CatalogDriver names a catalog storage backend.
type CatalogDriver string

const (
	CatalogJSON   CatalogDriver = "json"
	CatalogSQLite CatalogDriver = "sqlite"
)

// Config is the full runtime configuration. It is built once at startup and handed to each
// component's constructor; nothing reads globals after that.
type Config struct {
	ListenAddr string
	Mode       Mode
	// Host is both the probe target and the host used to build public service URLs.
	Host string

	// ProbeTimeout bounds each service probe. Zero means "derive from Mode".
	ProbeTimeout time.Duration

	CatalogDriver CatalogDriver
	CatalogPath   string
	ServicesPath  string

	// Shell interprets stored command lines. Empty means $SHELL, then /bin/sh.
	Shell           string
	WorkDir         string
	RegistryBin     string
	RegistryTimeout time.Duration

	AllowedOrigins []string
}

func Defaults() Config {
	return Config{
		ListenAddr:      DefaultListenAddr,
		Mode:            Development,
		Host:            DefaultHost,
		CatalogDriver:   CatalogJSON,
		CatalogPath:     DefaultCatalogFile,
		ServicesPath:    DefaultServicesFile,
		RegistryBin:     DefaultRegistryBin,
		RegistryTimeout: DefaultRegistryTimeout,
		AllowedOrigins:  []string{"*"},
	}
}

// EffectiveProbeTimeout returns the configured probe timeout, falling back to the mode default.
func (c Config) EffectiveProbeTimeout() time.Duration {
	if c.ProbeTimeout > 0 {
		return c.ProbeTimeout
	}
	if c.Mode == Production {
		return prodProbeTimeout
	}
	return devProbeTimeout
}

func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.Mode != Development && c.Mode != Production {
		errs = append(errs, fmt.Errorf("invalid mode %q", c.Mode))
	}
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.ProbeTimeout < 0 {
		errs = append(errs, fmt.Errorf("probe timeout must not be negative, got %s", c.ProbeTimeout))
	}
	switch c.CatalogDriver {
	case CatalogJSON, CatalogSQLite:
	default:
		errs = append(errs, fmt.Errorf("unsupported catalog driver %q", c.CatalogDriver))
	}
	if c.CatalogPath == "" {
		errs = append(errs, errors.New("catalog path is required"))
	}
	if c.ServicesPath == "" {
		errs = append(errs, errors.New("services path is required"))
	}
	if c.RegistryBin == "" {
		errs = append(errs, errors.New("registry binary is required"))
	}
	return errors.Join(errs...)
}

// ResolveDataFile returns the path to use for a relative data file. If the file exists in dir
// or any of its parents, that path wins, otherwise the file will be created under dir.
// Absolute paths are returned untouched.
func ResolveDataFile(name, dir string) string {
	if filepath.IsAbs(name) {
		return name
	}
	if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
		return filepath.Join(dir, name)
	}
	if strings.ContainsRune(name, filepath.Separator) {
		return filepath.Join(dir, name)
	}
	if found := files.FindUp(name, dir); found != "" {
		return found
	}
	return filepath.Join(dir, name)
}
