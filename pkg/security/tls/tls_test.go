package tls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeCert writes a self-signed certificate for cn, valid from notBefore
// to notAfter, and returns the cert and key paths.
func writeCert(t *testing.T, dir, cn string, notBefore, notAfter time.Time) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		Issuer:       pkix.Name{CommonName: cn},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certPath, keyPath
}

func subject(t *testing.T, r *CertificateReloader) string {
	t.Helper()
	cert, err := r.GetCertificate(nil)
	if err != nil {
		t.Fatalf("GetCertificate() error = %v", err)
	}
	x, err := leaf(cert)
	if err != nil {
		t.Fatal(err)
	}
	return x.Subject.CommonName
}

func TestCertificateReloader_Load(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		notBefore time.Time
		notAfter  time.Time
		wantErr   bool
	}{
		{"valid", now.Add(-time.Hour), now.Add(365 * 24 * time.Hour), false},
		{"expiring soon still loads", now.Add(-time.Hour), now.Add(24 * time.Hour), false},
		{"expired", now.Add(-48 * time.Hour), now.Add(-24 * time.Hour), true},
		{"not yet valid", now.Add(24 * time.Hour), now.Add(48 * time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			certPath, keyPath := writeCert(t, t.TempDir(), "ratchet", tt.notBefore, tt.notAfter)
			r := NewCertificateReloader(certPath, keyPath, time.Minute)

			err := r.Load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if _, err := r.GetCertificate(nil); err == nil {
					t.Error("GetCertificate() should fail before a successful Load")
				}
				return
			}
			if got := subject(t, r); got != "ratchet" {
				t.Errorf("subject = %q", got)
			}
		})
	}
}

func TestCertificateReloader_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	r := NewCertificateReloader(filepath.Join(dir, "none.crt"), filepath.Join(dir, "none.key"), time.Minute)
	if err := r.Load(); err == nil {
		t.Error("Load() should fail for missing files")
	}
	if err := r.Ping(context.Background()); err == nil {
		t.Error("Ping() should fail with no certificate")
	}
}

func TestCertificateReloader_Run(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	certPath, keyPath := writeCert(t, dir, "first", now.Add(-time.Hour), now.Add(365*24*time.Hour))

	r := NewCertificateReloader(certPath, keyPath, 10*time.Millisecond)
	if err := r.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	writeCert(t, dir, "second", now.Add(-time.Hour), now.Add(365*24*time.Hour))
	later := time.Now().Add(time.Minute)
	os.Chtimes(certPath, later, later)
	os.Chtimes(keyPath, later, later)

	deadline := time.Now().Add(5 * time.Second)
	for subject(t, r) != "second" {
		if time.Now().After(deadline) {
			t.Fatal("certificate was not reloaded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestCertificateReloader_Ping(t *testing.T) {
	now := time.Now()
	certPath, keyPath := writeCert(t, t.TempDir(), "ratchet", now.Add(-time.Hour), now.Add(time.Hour))
	r := NewCertificateReloader(certPath, keyPath, time.Minute)
	if err := r.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := r.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	r.now = func() time.Time { return now.Add(2 * time.Hour) }
	if err := r.Ping(context.Background()); err == nil {
		t.Error("Ping() should fail once the certificate has expired")
	}
}

func TestNewServerConfig(t *testing.T) {
	now := time.Now()
	certPath, keyPath := writeCert(t, t.TempDir(), "ratchet", now.Add(-time.Hour), now.Add(time.Hour))
	r := NewCertificateReloader(certPath, keyPath, time.Minute)
	if err := r.Load(); err != nil {
		t.Fatal(err)
	}

	for version, want := range map[string]uint16{"1.2": tls.VersionTLS12, "1.3": tls.VersionTLS13, "": tls.VersionTLS13} {
		cfg := NewServerConfig(r, version)
		if cfg.MinVersion != want {
			t.Errorf("MinVersion(%q) = %x, want %x", version, cfg.MinVersion, want)
		}
		if cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{}); err != nil || cert == nil {
			t.Errorf("GetCertificate() = %v, %v", cert, err)
		}
	}
}
