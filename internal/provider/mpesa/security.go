package mpesa

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"payrelay/internal/config"
)

// SecurityCredential returns the B2C SecurityCredential: the configured value
// when set, otherwise the initiator password encrypted with the certificate at
// cfg.CertPath.
func SecurityCredential(cfg config.MpesaCfg) (string, error) {
	if v := strings.TrimSpace(cfg.SecurityCredential); v != "" {
		return v, nil
	}
	if cfg.InitiatorPassword == "" {
		return "", errors.New("neither MPESA_SECURITY_CREDENTIAL nor MPESA_INITIATOR_PASSWORD is set")
	}
	if cfg.CertPath == "" {
		return "", errors.New("MPESA_CERT_PATH is required to encrypt the initiator password")
	}

	cert, err := os.ReadFile(cfg.CertPath)
	if err != nil {
		return "", fmt.Errorf("read certificate: %w", err)
	}
	return EncryptInitiatorPassword(cfg.InitiatorPassword, cert)
}

// EncryptInitiatorPassword encrypts password with the RSA key of a Daraja
// certificate (PEM or DER) using PKCS#1 v1.5 and base64-encodes the result.
func EncryptInitiatorPassword(password string, cert []byte) (string, error) {
	der := cert
	if block, _ := pem.Decode(cert); block != nil {
		der = block.Bytes
	}

	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return "", fmt.Errorf("parse certificate: %w", err)
	}
	pub, ok := parsed.PublicKey.(*rsa.PublicKey)
	if !ok {
		return "", fmt.Errorf("certificate key is %T, want RSA", parsed.PublicKey)
	}

	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(password))
	if err != nil {
		return "", fmt.Errorf("encrypt initiator password: %w", err)
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}
