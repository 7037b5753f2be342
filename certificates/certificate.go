// Package certificates implements the X.509 trust primitives of the LCP
// pipeline: parsing the root and provider certificates and checking
// signatures, plus the in-memory revocation list the background updater
// maintains.
package certificates

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
	"time"
)

// Certificate wraps a parsed X.509 certificate. Its trust is relative: it
// is meaningful only checked against another certificate or a signed
// message.
type Certificate struct {
	cert    *x509.Certificate
	sigAlgo x509.SignatureAlgorithm
}

// Parse builds a Certificate from its transported form: base64 DER, PEM,
// or raw DER. sigAlgo is the signature scheme the encryption profile
// declares for message verification.
func Parse(encoded string, sigAlgo x509.SignatureAlgorithm) (*Certificate, error) {
	der, err := decodeCertificateBlob(encoded)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return &Certificate{cert: cert, sigAlgo: sigAlgo}, nil
}

// ParseDER builds a Certificate from raw DER bytes.
func ParseDER(der []byte, sigAlgo x509.SignatureAlgorithm) (*Certificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return &Certificate{cert: cert, sigAlgo: sigAlgo}, nil
}

func decodeCertificateBlob(encoded string) ([]byte, error) {
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return nil, fmt.Errorf("empty certificate")
	}
	if strings.HasPrefix(trimmed, "-----BEGIN") {
		block, _ := pem.Decode([]byte(trimmed))
		if block == nil {
			return nil, fmt.Errorf("malformed PEM block")
		}
		return block.Bytes, nil
	}
	cleaned := strings.Join(strings.Fields(trimmed), "")
	if der, err := base64.StdEncoding.DecodeString(cleaned); err == nil {
		return der, nil
	}
	return []byte(encoded), nil
}

// VerifyCertificate reports whether this certificate's signature
// validates under issuer's public key. Verification failure is an
// ordinary false, never an error.
func (c *Certificate) VerifyCertificate(issuer *Certificate) bool {
	return c.cert.CheckSignatureFrom(issuer.cert) == nil
}

// VerifyMessage reports whether signature is valid over content under
// this certificate's public key, using the profile's signature scheme.
func (c *Certificate) VerifyMessage(content, signature []byte) bool {
	return c.cert.CheckSignature(c.sigAlgo, content, signature) == nil
}

// SerialNumber returns the certificate serial as lowercase hex, the form
// the revocation list stores.
func (c *Certificate) SerialNumber() string {
	return c.cert.SerialNumber.Text(16)
}

// NotBefore is the start of the certificate's validity window.
func (c *Certificate) NotBefore() time.Time { return c.cert.NotBefore }

// NotAfter is the end of the certificate's validity window.
func (c *Certificate) NotAfter() time.Time { return c.cert.NotAfter }

// DistributionPoints lists the CRL distribution-point URLs the
// certificate advertises.
func (c *Certificate) DistributionPoints() []string {
	return c.cert.CRLDistributionPoints
}

// OCSPServers lists the certificate's OCSP responder URLs.
func (c *Certificate) OCSPServers() []string { return c.cert.OCSPServer }

// X509 exposes the underlying parsed certificate for collaborators that
// work on x509 values directly, such as the OCSP checker.
func (c *Certificate) X509() *x509.Certificate { return c.cert }
