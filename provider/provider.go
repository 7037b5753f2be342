// Package provider implements the license-verification protocol, the key
// derivation chain, and publication decryption. A Provider owns one
// revocation updater and one background timer for its lifetime. Every
// public operation returns either nil or a *status.Status; errors from
// the underlying crypto layers never escape raw.
package provider

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/wudi/lcpkit/certificates"
	"github.com/wudi/lcpkit/license"
	"github.com/wudi/lcpkit/observability"
	"github.com/wudi/lcpkit/profiles"
	"github.com/wudi/lcpkit/revocation"
	"github.com/wudi/lcpkit/status"
	"github.com/wudi/lcpkit/streams"
	"github.com/wudi/lcpkit/timer"
)

// DefaultUpdateInterval is the period of the background revocation
// refresh.
const DefaultUpdateInterval = time.Hour

const hashChunkSize = 1024 * 1024

// Provider is the crypto engine bound to one profile registry and one
// network collaborator. Safe for concurrent use: independent
// verification and decryption calls do not serialize each other.
type Provider struct {
	registry *profiles.Registry
	list     *certificates.RevocationList
	updater  *revocation.Updater
	tm       *timer.Timer
	log      observability.Logger
	tracer   observability.Tracer
	ocsp     *revocation.OCSPChecker
}

// Option configures a Provider.
type Option func(*settings)

type settings struct {
	log            observability.Logger
	tracer         observability.Tracer
	updateInterval time.Duration
	fetchTimeout   time.Duration
	ocsp           *revocation.OCSPChecker
}

// WithLogger routes engine diagnostics to log.
func WithLogger(log observability.Logger) Option {
	return func(s *settings) { s.log = log }
}

// WithTracer attaches tracing spans to public operations.
func WithTracer(tracer observability.Tracer) Option {
	return func(s *settings) { s.tracer = tracer }
}

// WithUpdateInterval overrides the background revocation refresh period.
func WithUpdateInterval(d time.Duration) Option {
	return func(s *settings) { s.updateInterval = d }
}

// WithFetchTimeout caps the wait for one CRL distribution point.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *settings) { s.fetchTimeout = d }
}

// WithOCSPChecker enables the supplementary OCSP revocation check for
// provider certificates that advertise responders.
func WithOCSPChecker(c *revocation.OCSPChecker) Option {
	return func(s *settings) { s.ocsp = c }
}

// New builds a Provider over the given profile registry and revocation
// fetcher.
func New(registry *profiles.Registry, fetcher revocation.Fetcher, opts ...Option) *Provider {
	cfg := settings{
		log:            observability.NopLogger{},
		tracer:         observability.NopTracer(),
		updateInterval: DefaultUpdateInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	list := certificates.NewRevocationList()
	updaterOpts := []revocation.UpdaterOption{revocation.WithLogger(cfg.log)}
	if cfg.fetchTimeout > 0 {
		updaterOpts = append(updaterOpts, revocation.WithFetchTimeout(cfg.fetchTimeout))
	}
	updater := revocation.NewUpdater(fetcher, list, updaterOpts...)

	p := &Provider{
		registry: registry,
		list:     list,
		updater:  updater,
		log:      cfg.log,
		tracer:   cfg.tracer,
		ocsp:     cfg.ocsp,
	}
	p.tm = timer.New(cfg.updateInterval, func() error {
		err := updater.Update()
		if errors.Is(err, revocation.ErrAllDistributionPointsFailed) {
			cfg.log.Warn("background revocation refresh degraded", observability.Error("error", err))
			return nil
		}
		return err
	})
	updater.AttachTimer(p.tm)
	return p
}

// Close cancels any in-flight revocation fetch and stops the background
// timer. The provider is unusable afterwards.
func (p *Provider) Close() {
	p.updater.Cancel()
	p.tm.Stop()
}

// VerifyLicense checks the license's authenticity and validity against
// the given root certificate: profile resolution, certificate chain,
// revocation, license signature, and the certificate validity window
// relative to the license's last update.
func (p *Provider) VerifyLicense(rootCertificate string, lic *license.License) error {
	_, span := p.tracer.StartSpan(context.Background(), "lcp.VerifyLicense")
	defer span.Finish()
	start := time.Now()
	defer func() { span.SetTag(observability.MetricVerifyTime, time.Since(start)) }()

	err := p.verifyLicense(rootCertificate, lic)
	if err != nil {
		span.SetError(err)
		p.log.Info("license verification failed",
			observability.String("license", lic.ID),
			observability.Error("error", err))
		return err
	}
	p.log.Debug("license verified", observability.String("license", lic.ID))
	return nil
}

func (p *Provider) verifyLicense(rootCertificate string, lic *license.License) error {
	profile, err := p.registry.Get(lic.Encryption.Profile)
	if err != nil {
		return err
	}
	if strings.TrimSpace(rootCertificate) == "" {
		return status.New(status.NoRootCertificate, "")
	}
	root, err := certificates.Parse(rootCertificate, profile.CertificateSignatureAlgorithm())
	if err != nil {
		return status.New(status.RootCertificateInvalid, err.Error())
	}
	providerCert, err := certificates.Parse(lic.SignatureCertificate(), profile.CertificateSignatureAlgorithm())
	if err != nil {
		return status.New(status.ProviderCertificateInvalid, err.Error())
	}
	if !providerCert.VerifyCertificate(root) {
		return status.New(status.ProviderCertificateNotVerified, "")
	}
	if err := p.processRevocation(providerCert, root); err != nil {
		return err
	}

	sig, err := lic.SignatureValue()
	if err != nil {
		return status.New(status.LicenseSignatureNotValid, err.Error())
	}
	if !providerCert.VerifyMessage(lic.CanonicalContent(), sig) {
		return status.New(status.LicenseSignatureNotValid, "")
	}

	// Both bounds of the certificate validity window are inclusive.
	lastUpdated := lic.LastUpdated()
	if lastUpdated.Before(providerCert.NotBefore()) {
		return status.New(status.ProviderCertificateNotStarted, "")
	}
	if lastUpdated.After(providerCert.NotAfter()) {
		return status.New(status.ProviderCertificateExpired, "")
	}
	return nil
}

// processRevocation registers the certificate's distribution points,
// bootstraps the background refresh the first time any URL becomes
// known, surfaces captured background failures, and checks the
// certificate's serial against the revocation list.
func (p *Provider) processRevocation(providerCert, root *certificates.Certificate) error {
	hadAnyURL := p.updater.ContainsAnyURL()
	p.updater.UpdateDistributionPoints(providerCert.DistributionPoints())

	// First sight of a distribution point: one synchronous update, then
	// the periodic refresh takes over.
	if !hadAnyURL && p.updater.ContainsAnyURL() {
		if err := p.updater.Update(); err != nil {
			if errors.Is(err, revocation.ErrAllDistributionPointsFailed) {
				p.log.Warn("revocation refresh degraded", observability.Error("error", err))
			} else {
				return status.New(status.ProviderCertificateNotVerified, err.Error())
			}
		}
		if err := p.tm.Start(); err != nil && !errors.Is(err, timer.ErrRunning) {
			p.log.Warn("revocation timer not started", observability.Error("error", err))
		}
	}

	// A failure from a prior background cycle surfaces on this call
	// path rather than being dropped.
	if err := p.tm.Err(); err != nil {
		return status.New(status.ProviderCertificateNotVerified, err.Error())
	}

	if p.ocsp != nil && len(providerCert.OCSPServers()) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		st, err := p.ocsp.Check(ctx, providerCert.X509(), root.X509())
		if err != nil {
			p.log.Warn("OCSP check inconclusive", observability.Error("error", err))
		}
		if st == revocation.StatusRevoked {
			return status.New(status.ProviderCertificateRevoked, "reported by OCSP responder")
		}
	}

	if p.list.SerialNumberRevoked(providerCert.SerialNumber()) {
		return status.New(status.ProviderCertificateRevoked, "")
	}
	return nil
}

// DecryptUserKey derives the user key from the passphrase and confirms
// it against the license's user-key check. A wrong passphrase and a
// corrupted check blob are indistinguishable; both report
// UserPassphraseNotValid.
func (p *Provider) DecryptUserKey(passphrase string, lic *license.License) ([]byte, error) {
	profile, err := p.registry.Get(lic.Encryption.Profile)
	if err != nil {
		return nil, err
	}
	hash := profile.CreateUserKeyAlgorithm()
	if _, err := hash.Write([]byte(passphrase)); err != nil {
		return nil, status.New(status.UserPassphraseNotValid, err.Error())
	}
	userKey := hash.Sum()

	algo, err := profile.CreateContentKeyAlgorithm(userKey)
	if err != nil {
		return nil, status.New(status.UserPassphraseNotValid, err.Error())
	}
	check, err := lic.UserKeyCheck()
	if err != nil {
		return nil, status.New(status.UserPassphraseNotValid, err.Error())
	}
	id, err := algo.Decrypt(check)
	if err != nil {
		return nil, status.New(status.UserPassphraseNotValid, err.Error())
	}
	if subtle.ConstantTimeCompare(id, []byte(lic.ID)) != 1 {
		return nil, status.New(status.UserPassphraseNotValid, "")
	}
	lic.SetDecrypted()
	return userKey, nil
}

// DecryptContentKey unwraps the license's content key with the user key.
func (p *Provider) DecryptContentKey(userKey []byte, lic *license.License) ([]byte, error) {
	profile, err := p.registry.Get(lic.Encryption.Profile)
	if err != nil {
		return nil, err
	}
	algo, err := profile.CreateContentKeyAlgorithm(userKey)
	if err != nil {
		return nil, status.New(status.LicenseEncrypted, err.Error())
	}
	ciphertext, err := lic.ContentKeyCiphertext()
	if err != nil {
		return nil, status.New(status.LicenseEncrypted, err.Error())
	}
	contentKey, err := algo.Decrypt(ciphertext)
	if err != nil {
		return nil, status.New(status.LicenseEncrypted, err.Error())
	}
	return contentKey, nil
}

// DecryptLicenseData decrypts an arbitrary license-carried ciphertext
// field with the user key.
func (p *Provider) DecryptLicenseData(ciphertext []byte, lic *license.License, userKey []byte) ([]byte, error) {
	profile, err := p.registry.Get(lic.Encryption.Profile)
	if err != nil {
		return nil, err
	}
	algo, err := profile.CreateContentKeyAlgorithm(userKey)
	if err != nil {
		return nil, status.New(status.LicenseEncrypted, err.Error())
	}
	plain, err := algo.Decrypt(ciphertext)
	if err != nil {
		return nil, status.New(status.LicenseEncrypted, err.Error())
	}
	return plain, nil
}

// DecryptPublicationData bulk-decrypts a publication payload into the
// caller-supplied buffer and reports the number of bytes written.
func (p *Provider) DecryptPublicationData(lic *license.License, contentKey, data, out []byte) (int, error) {
	profile, err := p.registry.Get(lic.Encryption.Profile)
	if err != nil {
		return 0, err
	}
	algo, err := profile.CreatePublicationAlgorithm(contentKey)
	if err != nil {
		return 0, status.New(status.PublicationEncrypted, err.Error())
	}
	n, err := algo.DecryptInto(data, out)
	if err != nil {
		return 0, status.New(status.PublicationEncrypted, err.Error())
	}
	return n, nil
}

// CreateEncryptedPublicationStream binds a fresh publication algorithm
// instance to source. Nothing is decrypted until the stream is read.
func (p *Provider) CreateEncryptedPublicationStream(lic *license.License, contentKey []byte, source streams.ReadableStream) (*streams.EncryptedStream, error) {
	profile, err := p.registry.Get(lic.Encryption.Profile)
	if err != nil {
		return nil, err
	}
	algo, err := profile.CreatePublicationAlgorithm(contentKey)
	if err != nil {
		return nil, status.New(status.PublicationEncrypted, err.Error())
	}
	return streams.NewEncryptedStream(algo, source), nil
}

// CalculateFileHash streams source through SHA-256 in fixed-size chunks
// and returns the digest. Independent of the decryption chain.
func (p *Provider) CalculateFileHash(source streams.ReadableStream) ([]byte, error) {
	digest := sha256.New()
	buf := make([]byte, hashChunkSize)
	remaining := source.Size()
	for remaining > 0 {
		chunk := int64(len(buf))
		if remaining < chunk {
			chunk = remaining
		}
		n, err := source.Read(buf[:chunk])
		if n > 0 {
			digest.Write(buf[:n])
			remaining -= int64(n)
		}
		if err != nil {
			if err == io.EOF && remaining == 0 {
				break
			}
			return nil, status.New(status.DecryptionError, err.Error())
		}
	}
	return digest.Sum(nil), nil
}
