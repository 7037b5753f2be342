package provider

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wudi/lcpkit/license"
	"github.com/wudi/lcpkit/profiles"
)

const (
	aesAlgoURI  = "http://www.w3.org/2001/04/xmlenc#aes256-cbc"
	shaAlgoURI  = "http://www.w3.org/2001/04/xmlenc#sha256"
	sigAlgoURI  = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	testProfile = profiles.BasicProfileName
)

type testCA struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey
	der  []byte
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "lcpkit test root"},
		NotBefore:             time.Now().Add(-48 * time.Hour),
		NotAfter:              time.Now().Add(48 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &testCA{cert: cert, key: key, der: der}
}

func (ca *testCA) rootBase64() string {
	return base64.StdEncoding.EncodeToString(ca.der)
}

type certSpec struct {
	serial    int64
	notBefore time.Time
	notAfter  time.Time
	crlURLs   []string
	ocspURLs  []string
}

func (ca *testCA) issue(t *testing.T, spec certSpec) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	if spec.serial == 0 {
		spec.serial = 2
	}
	if spec.notBefore.IsZero() {
		spec.notBefore = time.Now().Add(-24 * time.Hour)
	}
	if spec.notAfter.IsZero() {
		spec.notAfter = time.Now().Add(24 * time.Hour)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(spec.serial),
		Subject:               pkix.Name{CommonName: "lcpkit test provider"},
		NotBefore:             spec.notBefore,
		NotAfter:              spec.notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		CRLDistributionPoints: spec.crlURLs,
		OCSPServer:            spec.ocspURLs,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	require.NoError(t, err)
	return der, key
}

func (ca *testCA) crl(t *testing.T, serials ...int64) []byte {
	t.Helper()
	var revoked []x509.RevocationListEntry
	for _, s := range serials {
		revoked = append(revoked, x509.RevocationListEntry{
			SerialNumber:   big.NewInt(s),
			RevocationTime: time.Now().Add(-time.Hour),
		})
	}
	tmpl := &x509.RevocationList{
		Number:                    big.NewInt(1),
		ThisUpdate:                time.Now().Add(-time.Hour),
		NextUpdate:                time.Now().Add(time.Hour),
		RevokedCertificateEntries: revoked,
	}
	der, err := x509.CreateRevocationList(rand.Reader, tmpl, ca.cert, ca.key)
	require.NoError(t, err)
	return der
}

type licenseSpec struct {
	id          string
	issued      time.Time
	updated     time.Time
	profile     string
	passphrase  string
	contentKey  []byte
	providerDER []byte
	providerKey *rsa.PrivateKey

	// applied to the signed document before the final marshal
	tamper func(doc map[string]interface{})
}

func buildLicense(t *testing.T, spec licenseSpec) *license.License {
	t.Helper()
	if spec.id == "" {
		spec.id = "urn:uuid:7b9023c7-937f-4357-8b39-a2c4374289c2"
	}
	if spec.issued.IsZero() {
		spec.issued = time.Now().UTC().Truncate(time.Second)
	}
	if spec.profile == "" {
		spec.profile = testProfile
	}
	if spec.passphrase == "" {
		spec.passphrase = "pw1"
	}
	if spec.contentKey == nil {
		spec.contentKey = make([]byte, 32)
		for i := range spec.contentKey {
			spec.contentKey[i] = byte(i)
		}
	}

	userKey := sha256.Sum256([]byte(spec.passphrase))
	prof := profiles.Default().MustGet(spec.profile)
	algo, err := prof.CreateContentKeyAlgorithm(userKey[:])
	require.NoError(t, err)
	keyCheck, err := algo.Encrypt([]byte(spec.id))
	require.NoError(t, err)
	contentKeyBlob, err := algo.Encrypt(spec.contentKey)
	require.NoError(t, err)

	doc := map[string]interface{}{
		"id":       spec.id,
		"issued":   spec.issued.Format(time.RFC3339Nano),
		"provider": "https://provider.example.com",
		"encryption": map[string]interface{}{
			"profile": spec.profile,
			"content_key": map[string]interface{}{
				"algorithm":       aesAlgoURI,
				"encrypted_value": base64.StdEncoding.EncodeToString(contentKeyBlob),
			},
			"user_key": map[string]interface{}{
				"algorithm": shaAlgoURI,
				"text_hint": "ask the librarian",
				"key_check": base64.StdEncoding.EncodeToString(keyCheck),
			},
		},
	}
	if !spec.updated.IsZero() {
		doc["updated"] = spec.updated.Format(time.RFC3339Nano)
	}

	unsigned, err := json.Marshal(doc)
	require.NoError(t, err)
	canonical, err := license.CanonicalForm(unsigned)
	require.NoError(t, err)
	digest := sha256.Sum256(canonical)
	sig, err := rsa.SignPKCS1v15(rand.Reader, spec.providerKey, crypto.SHA256, digest[:])
	require.NoError(t, err)
	doc["signature"] = map[string]interface{}{
		"algorithm":   sigAlgoURI,
		"certificate": base64.StdEncoding.EncodeToString(spec.providerDER),
		"value":       base64.StdEncoding.EncodeToString(sig),
	}
	if spec.tamper != nil {
		spec.tamper(doc)
	}

	signed, err := json.Marshal(doc)
	require.NoError(t, err)
	lic, err := license.Parse(signed)
	require.NoError(t, err)
	return lic
}

// scriptedFetcher answers CRL fetches from a swappable handler and
// counts every call.
type scriptedFetcher struct {
	mu      sync.Mutex
	calls   int
	handler func(url string) ([]byte, error)
}

func (f *scriptedFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return nil, errors.New("no handler installed")
	}
	return h(url)
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *scriptedFetcher) setHandler(h func(url string) ([]byte, error)) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}
