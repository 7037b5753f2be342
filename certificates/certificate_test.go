package certificates

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAuthority struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey
	der  []byte
}

func newTestAuthority(t *testing.T) *testAuthority {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "lcpkit test root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &testAuthority{cert: cert, key: key, der: der}
}

func (a *testAuthority) issue(t *testing.T, serial int64, notBefore, notAfter time.Time, crlURLs []string) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: "lcpkit test provider"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		CRLDistributionPoints: crlURLs,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.cert, &key.PublicKey, a.key)
	require.NoError(t, err)
	return der, key
}

func TestParseEncodings(t *testing.T) {
	ca := newTestAuthority(t)

	b64 := base64.StdEncoding.EncodeToString(ca.der)
	cert, err := Parse(b64, x509.SHA256WithRSA)
	require.NoError(t, err)
	assert.Equal(t, "1", cert.SerialNumber())

	pemText := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.der}))
	cert, err = Parse(pemText, x509.SHA256WithRSA)
	require.NoError(t, err)
	assert.Equal(t, "1", cert.SerialNumber())

	_, err = ParseDER(ca.der, x509.SHA256WithRSA)
	require.NoError(t, err)
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse("", x509.SHA256WithRSA)
	assert.Error(t, err)
	_, err = Parse("   ", x509.SHA256WithRSA)
	assert.Error(t, err)
	_, err = Parse("bm90IGEgY2VydA==", x509.SHA256WithRSA)
	assert.Error(t, err)
	_, err = Parse("-----BEGIN CERTIFICATE-----\ngarbage\n-----END CERTIFICATE-----", x509.SHA256WithRSA)
	assert.Error(t, err)
}

func TestVerifyCertificate(t *testing.T) {
	ca := newTestAuthority(t)
	root, err := ParseDER(ca.der, x509.SHA256WithRSA)
	require.NoError(t, err)

	der, _ := ca.issue(t, 7, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), nil)
	provider, err := ParseDER(der, x509.SHA256WithRSA)
	require.NoError(t, err)

	assert.True(t, provider.VerifyCertificate(root))
	assert.False(t, root.VerifyCertificate(provider))

	other := newTestAuthority(t)
	wrongRoot, err := ParseDER(other.der, x509.SHA256WithRSA)
	require.NoError(t, err)
	assert.False(t, provider.VerifyCertificate(wrongRoot))
}

func TestVerifyMessage(t *testing.T) {
	ca := newTestAuthority(t)
	der, key := ca.issue(t, 9, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), nil)
	provider, err := ParseDER(der, x509.SHA256WithRSA)
	require.NoError(t, err)

	content := []byte("canonical license content")
	digest := sha256.Sum256(content)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)

	assert.True(t, provider.VerifyMessage(content, sig))

	// Any single-byte mutation of the signature must fail verification.
	for _, i := range []int{0, len(sig) / 2, len(sig) - 1} {
		mutated := append([]byte(nil), sig...)
		mutated[i] ^= 0x01
		assert.False(t, provider.VerifyMessage(content, mutated), "mutation at %d", i)
	}
	assert.False(t, provider.VerifyMessage([]byte("different content"), sig))
}

func TestAccessors(t *testing.T) {
	ca := newTestAuthority(t)
	notBefore := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	notAfter := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	urls := []string{"http://crl.example.org/lcp.crl"}
	der, _ := ca.issue(t, 0xBEEF, notBefore, notAfter, urls)

	cert, err := ParseDER(der, x509.SHA256WithRSA)
	require.NoError(t, err)
	assert.Equal(t, "beef", cert.SerialNumber())
	assert.WithinDuration(t, notBefore, cert.NotBefore(), time.Second)
	assert.WithinDuration(t, notAfter, cert.NotAfter(), time.Second)
	assert.Equal(t, urls, cert.DistributionPoints())
	assert.NotNil(t, cert.X509())
}
