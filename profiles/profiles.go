// Package profiles maps LCP encryption-profile identifiers to the
// algorithm factories the rest of the engine works with: a hash for
// user-key derivation and symmetric algorithms for content-key and
// publication decryption.
package profiles

import (
	"crypto/x509"
	"io"

	"github.com/wudi/lcpkit/status"
)

// Profile names understood by the default registry.
const (
	BasicProfileName = "http://readium.org/lcp/basic-profile"
	V1ProfileName    = "http://readium.org/lcp/profile-1.0"
)

// HashAlgorithm accumulates input and produces a fixed-length digest.
type HashAlgorithm interface {
	io.Writer
	Sum() []byte
	Size() int
}

// SymmetricAlgorithm is a symmetric cipher bound to one key. Decrypt and
// Encrypt operate on whole blobs with an IV prefix; NewDecrypter returns a
// forward-only reader that decrypts lazily, preserving cipher state
// across calls.
type SymmetricAlgorithm interface {
	Decrypt(ciphertext []byte) ([]byte, error)
	DecryptInto(ciphertext, out []byte) (int, error)
	Encrypt(plaintext []byte) ([]byte, error)
	NewDecrypter(src io.Reader) io.Reader
	BlockSize() int
}

// LengthDecrypter is implemented by algorithms that can determine the
// plaintext length of a ciphertext without decrypting all of it, given
// random access to the encrypted bytes.
type LengthDecrypter interface {
	DecryptedLength(ra io.ReaderAt, encryptedSize int64) (int64, error)
}

// Profile bundles the algorithm factories for one encryption-profile
// identifier, plus the signature scheme its certificates use.
type Profile interface {
	Name() string
	CertificateSignatureAlgorithm() x509.SignatureAlgorithm
	CreateUserKeyAlgorithm() HashAlgorithm
	CreateContentKeyAlgorithm(key []byte) (SymmetricAlgorithm, error)
	CreatePublicationAlgorithm(key []byte) (SymmetricAlgorithm, error)
}

type basicProfile struct {
	name string
}

func (p basicProfile) Name() string { return p.name }

func (p basicProfile) CertificateSignatureAlgorithm() x509.SignatureAlgorithm {
	return x509.SHA256WithRSA
}

func (p basicProfile) CreateUserKeyAlgorithm() HashAlgorithm { return newSHA256Hash() }

func (p basicProfile) CreateContentKeyAlgorithm(key []byte) (SymmetricAlgorithm, error) {
	return newAESCBC(key)
}

func (p basicProfile) CreatePublicationAlgorithm(key []byte) (SymmetricAlgorithm, error) {
	return newAESCBC(key)
}

// Registry resolves profile identifiers. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry builds a registry from the given profiles.
func NewRegistry(list ...Profile) *Registry {
	m := make(map[string]Profile, len(list))
	for _, p := range list {
		m[p.Name()] = p
	}
	return &Registry{profiles: m}
}

// Default returns the registry of profiles this library implements:
// the basic profile, and profile 1.0 registered with the same algorithm
// set (the 1.0 scheme beyond that set is not publicly specified).
func Default() *Registry {
	return NewRegistry(
		basicProfile{name: BasicProfileName},
		basicProfile{name: V1ProfileName},
	)
}

// Get resolves a profile identifier. An unknown identifier is a
// recoverable ProfileNotFound status, never a panic.
func (r *Registry) Get(name string) (Profile, error) {
	if p, ok := r.profiles[name]; ok {
		return p, nil
	}
	return nil, status.Newf(status.ProfileNotFound, "%q", name)
}

// MustGet resolves a profile identifier known to be registered; it panics
// otherwise. Intended for static profile names.
func (r *Registry) MustGet(name string) Profile {
	p, err := r.Get(name)
	if err != nil {
		panic(err)
	}
	return p
}

// Names lists the registered profile identifiers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	return names
}
