package revocation

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/ocsp"
)

// Status is the outcome of a revocation check against a responder.
type Status int

const (
	StatusGood Status = iota
	StatusRevoked
	StatusUnknown
)

// OCSPChecker queries a certificate's OCSP responders. It supplements the
// CRL machinery for provider certificates that advertise responders.
type OCSPChecker struct {
	Client *http.Client
}

func NewOCSPChecker() *OCSPChecker {
	return &OCSPChecker{
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Check asks each of the certificate's OCSP servers in turn and returns
// the first definitive answer. No servers, or no definitive answer, is
// StatusUnknown.
func (c *OCSPChecker) Check(ctx context.Context, cert, issuer *x509.Certificate) (Status, error) {
	if len(cert.OCSPServer) == 0 {
		return StatusUnknown, nil
	}

	var lastErr error
	for _, serverURL := range cert.OCSPServer {
		status, err := c.checkOne(ctx, serverURL, cert, issuer)
		if err == nil && status != StatusUnknown {
			return status, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	return StatusUnknown, lastErr
}

func (c *OCSPChecker) checkOne(ctx context.Context, serverURL string, cert, issuer *x509.Certificate) (Status, error) {
	req, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{
		Hash: crypto.SHA1, // SHA1 is standard for OCSP requests
	})
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to create OCSP request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, bytes.NewReader(req))
	if err != nil {
		return StatusUnknown, err
	}
	httpRequest.Header.Set("Content-Type", "application/ocsp-request")
	httpRequest.Header.Set("Accept", "application/ocsp-response")

	resp, err := c.Client.Do(httpRequest)
	if err != nil {
		return StatusUnknown, fmt.Errorf("OCSP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to read OCSP response: %w", err)
	}

	ocspResp, err := ocsp.ParseResponse(body, issuer)
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to parse OCSP response: %w", err)
	}

	switch ocspResp.Status {
	case ocsp.Good:
		return StatusGood, nil
	case ocsp.Revoked:
		return StatusRevoked, nil
	default:
		return StatusUnknown, nil
	}
}
