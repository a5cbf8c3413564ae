// Package tlscert supplies TLS configuration for the HTTPS listener,
// either from certificate files on disk or from a generated self-signed
// certificate for local development.
package tlscert

import (
	"crypto/tls"
	"fmt"
	"log/slog"
)

// Mode selects how the server certificate is obtained.
type Mode string

const (
	ModeFile       Mode = "file"
	ModeSelfSigned Mode = "selfsigned"
)

// MinTLSVersion applies to every manager; older protocol versions are
// not negotiated.
const MinTLSVersion = tls.VersionTLS13

// Config carries the settings for whichever mode is selected.
type Config struct {
	Mode Mode

	// file mode
	CertFile string
	KeyFile  string

	// selfsigned mode
	SelfSignedCertDir string
	SelfSignedHosts   []string
}

// Manager hands the HTTP server its tls.Config and owns any state
// behind it.
type Manager interface {
	TLSConfig() (*tls.Config, error)

	// Description identifies the certificate source in startup logs.
	Description() string

	Shutdown() error
}

// New builds the manager for cfg.Mode.
func New(cfg Config, logger *slog.Logger) (Manager, error) {
	switch cfg.Mode {
	case ModeFile:
		return newFileManager(cfg, logger)
	case ModeSelfSigned:
		return newSelfSigned(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported TLS certificate mode: %s (valid modes: file, selfsigned)", cfg.Mode)
	}
}
