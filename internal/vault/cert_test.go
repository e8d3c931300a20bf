package vault

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := GenerateSelfSignedCert("clap.local", "10.0.0.7")
	if err != nil {
		t.Fatalf("Failed to generate self-signed cert: %v", err)
	}

	if len(cert.Certificate) == 0 {
		t.Fatal("Generated certificate is empty")
	}
	if cert.PrivateKey == nil {
		t.Fatal("Generated private key is nil")
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	if err := leaf.VerifyHostname("localhost"); err != nil {
		t.Errorf("Certificate should cover localhost: %v", err)
	}
	if err := leaf.VerifyHostname("clap.local"); err != nil {
		t.Errorf("Certificate should cover extra host: %v", err)
	}
	if err := leaf.VerifyHostname("10.0.0.7"); err != nil {
		t.Errorf("Certificate should cover extra IP: %v", err)
	}
}

func TestLoadCertificate(t *testing.T) {
	if _, err := LoadCertificate("", ""); err != nil {
		t.Fatalf("Expected generated certificate, got %v", err)
	}

	if _, err := LoadCertificate("missing.pem", "missing.key"); err == nil {
		t.Fatal("Expected error for missing files")
	}

	// Round-trip a generated pair through files.
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	keyDER, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]}), 0600)
	os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0600)

	if _, err := LoadCertificate(certPath, keyPath); err != nil {
		t.Errorf("Failed to load written pair: %v", err)
	}
}
