package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"
)

// ExpiryWarning is how close to NotAfter a certificate starts being
// logged as expiring.
const ExpiryWarning = 30 * 24 * time.Hour

// leaf returns the parsed leaf certificate of cert.
func leaf(cert *tls.Certificate) (*x509.Certificate, error) {
	if cert == nil {
		return nil, fmt.Errorf("certificate is nil")
	}
	if cert.Leaf != nil {
		return cert.Leaf, nil
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("certificate chain is empty")
	}
	x, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return x, nil
}

// ValidateCertificate checks that cert is inside its validity period at
// now.
func ValidateCertificate(cert *tls.Certificate, now time.Time) error {
	x, err := leaf(cert)
	if err != nil {
		return err
	}
	if now.Before(x.NotBefore) {
		return fmt.Errorf("certificate is not yet valid (valid from %s)", x.NotBefore.Format(time.RFC3339))
	}
	if now.After(x.NotAfter) {
		return fmt.Errorf("certificate expired on %s", x.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// expiresSoon reports whether x expires within ExpiryWarning of now.
func expiresSoon(x *x509.Certificate, now time.Time) bool {
	return x.NotAfter.Sub(now) < ExpiryWarning
}
