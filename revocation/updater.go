package revocation

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wudi/lcpkit/certificates"
	"github.com/wudi/lcpkit/observability"
	"github.com/wudi/lcpkit/timer"
)

// ErrAllDistributionPointsFailed reports an update cycle in which every
// known distribution point was unreachable. Callers may treat it as
// degraded operation rather than hard failure; revocation checking is not
// meant to block license use on network availability.
var ErrAllDistributionPointsFailed = errors.New("no CRL distribution point reachable")

const (
	defaultFetchTimeout = 10 * time.Second
	maxParallelFetches  = 4
)

// Updater owns the set of CRL distribution points to poll and merges the
// revocation data they serve into the shared RevocationList. URLs only
// accumulate; fetch failure for one URL never aborts the others.
type Updater struct {
	fetcher      Fetcher
	list         *certificates.RevocationList
	log          observability.Logger
	fetchTimeout time.Duration

	mu   sync.Mutex
	urls map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc

	tm *timer.Timer
}

// UpdaterOption configures an Updater.
type UpdaterOption func(*Updater)

// WithLogger routes updater diagnostics to log.
func WithLogger(log observability.Logger) UpdaterOption {
	return func(u *Updater) { u.log = log }
}

// WithFetchTimeout caps the wait for a single distribution point.
func WithFetchTimeout(d time.Duration) UpdaterOption {
	return func(u *Updater) { u.fetchTimeout = d }
}

// NewUpdater builds an updater merging into list via fetcher.
func NewUpdater(fetcher Fetcher, list *certificates.RevocationList, opts ...UpdaterOption) *Updater {
	ctx, cancel := context.WithCancel(context.Background())
	u := &Updater{
		fetcher:      fetcher,
		list:         list,
		log:          observability.NopLogger{},
		fetchTimeout: defaultFetchTimeout,
		urls:         make(map[string]struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// AttachTimer hands the updater the periodic timer it drives, so Cancel
// can stop the whole refresh machinery.
func (u *Updater) AttachTimer(tm *timer.Timer) { u.tm = tm }

// UpdateDistributionPoints registers any new URLs. Pure bookkeeping; no
// I/O.
func (u *Updater) UpdateDistributionPoints(urls []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, url := range urls {
		if url == "" {
			continue
		}
		u.urls[url] = struct{}{}
	}
}

// ContainsAnyURL reports whether at least one distribution point is
// known.
func (u *Updater) ContainsAnyURL() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.urls) > 0
}

func (u *Updater) snapshotURLs() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	urls := make([]string, 0, len(u.urls))
	for url := range u.urls {
		urls = append(urls, url)
	}
	return urls
}

// Update fetches every known distribution point, parses the revocation
// data, and merges the revoked serials into the list in one atomic step.
// Individual fetch failures are logged and tolerated; if every point
// failed, ErrAllDistributionPointsFailed is returned. Unparsable
// revocation data is a real error.
func (u *Updater) Update() error {
	urls := u.snapshotURLs()
	if len(urls) == 0 {
		return nil
	}

	var (
		resMu      sync.Mutex
		serials    []string
		fetchFails int
		lastFetch  error
		parseErr   error
	)
	g, ctx := errgroup.WithContext(u.ctx)
	g.SetLimit(maxParallelFetches)
	for _, url := range urls {
		url := url
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, u.fetchTimeout)
			defer cancel()
			body, err := u.fetcher.Fetch(fetchCtx, url)
			if err != nil {
				u.log.Warn("CRL fetch failed",
					observability.String("url", url),
					observability.Error("error", err))
				resMu.Lock()
				fetchFails++
				lastFetch = err
				resMu.Unlock()
				return nil
			}
			revoked, err := ParseRevokedSerials(body)
			if err != nil {
				resMu.Lock()
				if parseErr == nil {
					parseErr = fmt.Errorf("distribution point %s: %w", url, err)
				}
				resMu.Unlock()
				return nil
			}
			resMu.Lock()
			serials = append(serials, revoked...)
			resMu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // goroutines report through the shared result set

	u.list.Merge(serials)
	u.log.Debug("revocation list updated",
		observability.Int("merged", len(serials)),
		observability.Int("failed", fetchFails))

	if parseErr != nil {
		return parseErr
	}
	if fetchFails == len(urls) {
		return fmt.Errorf("%w: %v", ErrAllDistributionPointsFailed, lastFetch)
	}
	return nil
}

// Cancel stops any in-flight fetch and the owning timer. The updater is
// unusable afterwards.
func (u *Updater) Cancel() {
	u.cancel()
	if u.tm != nil {
		u.tm.Stop()
	}
}

// ParseRevokedSerials extracts the revoked serial numbers from a CRL in
// DER or PEM form, encoded the way RevocationList stores them.
func ParseRevokedSerials(data []byte) ([]string, error) {
	der := data
	if strings.HasPrefix(strings.TrimSpace(string(data)), "-----BEGIN") {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, errors.New("malformed PEM CRL")
		}
		der = block.Bytes
	}
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL: %w", err)
	}
	serials := make([]string, 0, len(crl.RevokedCertificateEntries))
	for _, entry := range crl.RevokedCertificateEntries {
		serials = append(serials, entry.SerialNumber.Text(16))
	}
	return serials, nil
}
