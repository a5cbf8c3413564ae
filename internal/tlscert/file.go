package tlscert

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
)

type fileManager struct {
	certFile string
	keyFile  string
	logger   *slog.Logger
}

func newFileManager(cfg Config, logger *slog.Logger) (Manager, error) {
	for _, f := range []struct{ value, name string }{
		{cfg.CertFile, "tls_cert_file"},
		{cfg.KeyFile, "tls_key_file"},
	} {
		if f.value == "" {
			return nil, fmt.Errorf("%s is required when tls_cert_mode=file", f.name)
		}
	}

	m := &fileManager{certFile: cfg.CertFile, keyFile: cfg.KeyFile, logger: logger}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// validate rejects unusable certificate material at startup rather than
// on the first handshake.
func (m *fileManager) validate() error {
	if err := checkCertFile(m.certFile); err != nil {
		return fmt.Errorf("invalid certificate file: %w", err)
	}
	if err := checkCertFile(m.keyFile); err != nil {
		return fmt.Errorf("invalid key file: %w", err)
	}
	if err := checkKeyFilePermissions(m.keyFile); err != nil {
		return fmt.Errorf("insecure key file permissions: %w", err)
	}
	if _, err := tls.LoadX509KeyPair(m.certFile, m.keyFile); err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}
	return nil
}

func (m *fileManager) TLSConfig() (*tls.Config, error) {
	return &tls.Config{
		MinVersion: MinTLSVersion,
		// Loading per handshake picks up rotated certificates without
		// a restart.
		GetCertificate: m.loadPair,
	}, nil
}

func (m *fileManager) loadPair(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(m.certFile, m.keyFile)
	if err != nil {
		m.logger.Error("failed to reload certificate",
			slog.String("cert_file", m.certFile),
			slog.String("error", err.Error()))
		return nil, err
	}
	return &cert, nil
}

func (m *fileManager) Description() string {
	return fmt.Sprintf("file-based (cert=%s, key=%s)", m.certFile, m.keyFile)
}

func (m *fileManager) Shutdown() error {
	return nil
}

func checkCertFile(path string) error {
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return fmt.Errorf("file not accessible: %w", err)
	case info.IsDir():
		return fmt.Errorf("path is a directory, not a file")
	case info.Size() == 0:
		return fmt.Errorf("file is empty")
	}
	return nil
}

func checkKeyFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return fmt.Errorf("key file has insecure permissions %o (should be 0600 or 0400)", mode)
	}
	return nil
}
