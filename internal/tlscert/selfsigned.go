package tlscert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	selfSignedValidity = 365 * 24 * time.Hour
	certFileName       = "server.crt"
	keyFileName        = "server.key"
)

var defaultSelfSignedHosts = []string{"localhost", "127.0.0.1", "::1"}

type selfSigned struct {
	dir    string
	hosts  []string
	logger *slog.Logger
}

func newSelfSigned(cfg Config, logger *slog.Logger) (Manager, error) {
	hosts := cfg.SelfSignedHosts
	if len(hosts) == 0 {
		hosts = defaultSelfSignedHosts
	}

	m := &selfSigned{
		dir:    cfg.SelfSignedCertDir,
		hosts:  hosts,
		logger: logger,
	}
	if err := m.ensure(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *selfSigned) certPath() string { return filepath.Join(m.dir, certFileName) }
func (m *selfSigned) keyPath() string  { return filepath.Join(m.dir, keyFileName) }

// ensure makes a valid certificate pair available on disk, reusing the
// persisted one while it is valid and still covers the configured hosts.
func (m *selfSigned) ensure() error {
	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}

	reuse, err := m.canReuse()
	if err != nil {
		return err
	}
	if reuse {
		m.logger.Info("using existing self-signed certificate",
			slog.String("cert_path", m.certPath()))
		return nil
	}

	m.logger.Info("generating self-signed certificate",
		slog.String("cert_path", m.certPath()),
		slog.String("key_path", m.keyPath()),
		slog.Any("hosts", m.hosts))
	if err := m.generate(); err != nil {
		return fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	m.logger.Warn("self-signed certificate generated - not suitable for production",
		slog.String("cert_path", m.certPath()))
	return nil
}

func (m *selfSigned) TLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(m.certPath(), m.keyPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load self-signed key pair: %w", err)
	}
	return &tls.Config{MinVersion: MinTLSVersion, Certificates: []tls.Certificate{cert}}, nil
}

func (m *selfSigned) Description() string {
	return fmt.Sprintf("self-signed (cert=%s) - DEV ONLY", m.certPath())
}

func (m *selfSigned) Shutdown() error {
	return nil
}

// splitHosts separates the host list into DNS names and IP addresses for
// certificate SANs.
func splitHosts(hosts []string) (dns []string, ips []net.IP) {
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			ips = append(ips, ip)
		} else {
			dns = append(dns, host)
		}
	}
	return dns, ips
}

func (m *selfSigned) generate() error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	tmpl, err := m.template()
	if err != nil {
		return err
	}

	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := writePEM(m.certPath(), "CERTIFICATE", certDER, 0644); err != nil {
		return fmt.Errorf("failed to write certificate file: %w", err)
	}
	if err := writePEM(m.keyPath(), "EC PRIVATE KEY", keyDER, 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// template builds the leaf certificate template. NotBefore is backdated
// to tolerate minor clock skew.
func (m *selfSigned) template() (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	dns, ips := splitHosts(m.hosts)
	now := time.Now()
	return &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"tablegraph (Self-Signed)"}, CommonName: "localhost"},
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.Add(selfSignedValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dns,
		IPAddresses:           ips,
	}, nil
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	return os.WriteFile(path, data, mode)
}

// canReuse reports whether the persisted pair can serve as is. A missing
// pair means regenerate; a present but corrupt one is an error, never a
// silent overwrite.
func (m *selfSigned) canReuse() (bool, error) {
	raw, err := os.ReadFile(m.certPath())
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read existing certificate: %w", err)
	}
	if _, statErr := os.Stat(m.keyPath()); os.IsNotExist(statErr) {
		return false, nil
	}

	block, _ := pem.Decode(raw)
	if block == nil || block.Type != "CERTIFICATE" {
		return false, fmt.Errorf("invalid certificate PEM in %s", m.certPath())
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return false, fmt.Errorf("failed to parse existing certificate: %w", err)
	}

	switch {
	case time.Now().Before(cert.NotBefore), time.Now().After(cert.NotAfter):
		return false, nil
	case !coversHosts(cert, m.hosts):
		return false, nil
	}

	// The pair must actually load together; a mismatched key forces
	// regeneration.
	if _, err := tls.LoadX509KeyPair(m.certPath(), m.keyPath()); err != nil {
		return false, nil
	}
	return true, nil
}

// coversHosts reports whether the certificate's SANs are exactly the
// configured hosts, so host-list changes force regeneration.
func coversHosts(cert *x509.Certificate, hosts []string) bool {
	wantDNS, wantIPs := splitHosts(hosts)
	return sameSet(cert.DNSNames, wantDNS) && sameSet(ipStrings(cert.IPAddresses), ipStrings(wantIPs))
}

func ipStrings(ips []net.IP) []string {
	out := make([]string, len(ips))
	for i, ip := range ips {
		out[i] = ip.String()
	}
	return out
}

func sameSet(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	set := make(map[string]struct{}, len(want))
	for _, v := range want {
		set[v] = struct{}{}
	}
	for _, v := range got {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}
