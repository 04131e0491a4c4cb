package tls

import "crypto/tls"

// ParseMinVersion maps "1.2" to TLS 1.2. Anything else, including "",
// means TLS 1.3.
func ParseMinVersion(v string) uint16 {
	if v == "1.2" {
		return tls.VersionTLS12
	}
	return tls.VersionTLS13
}

// NewServerConfig returns a server tls.Config that takes its certificate
// from certs on every handshake. Go's default cipher suites are used.
func NewServerConfig(certs *CertificateReloader, minVersion string) *tls.Config {
	// #nosec G402 - MinVersion is 1.2 or 1.3
	return &tls.Config{
		GetCertificate: certs.GetCertificate,
		MinVersion:     ParseMinVersion(minVersion),
	}
}
