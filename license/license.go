// Package license models the LCP license document consumed by the crypto
// engine. Only the fields taking part in the trust pipeline are
// interpreted; the rest of the document participates solely through the
// canonical content the signature covers.
package license

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Encryption carries the license's declared profile and the two encrypted
// key blobs of the derivation chain.
type Encryption struct {
	Profile    string         `json:"profile"`
	ContentKey EncryptedValue `json:"content_key"`
	UserKey    UserKey        `json:"user_key"`
}

// EncryptedValue is a base64 ciphertext tagged with its algorithm URI.
type EncryptedValue struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"encrypted_value"`
}

// UserKey describes how the user passphrase is turned into a key and
// carries the encrypted check value used to confirm it.
type UserKey struct {
	Algorithm string `json:"algorithm"`
	TextHint  string `json:"text_hint"`
	KeyCheck  string `json:"key_check"`
}

// Signature is the license signature block: the signing (provider)
// certificate and the signature value over the canonical content.
type Signature struct {
	Algorithm   string `json:"algorithm"`
	Certificate string `json:"certificate"`
	Value       string `json:"value"`
}

// License is an immutable parsed license document. The decrypted flag is
// the only mutable state; it is set once the user key check has been
// confirmed.
type License struct {
	ID         string
	Provider   string
	Issued     time.Time
	Updated    time.Time // zero when the document carries no update
	Encryption Encryption
	Signature  Signature

	canonical []byte

	mu        sync.Mutex
	decrypted bool
}

type wireLicense struct {
	ID         string     `json:"id"`
	Issued     string     `json:"issued"`
	Updated    string     `json:"updated"`
	Provider   string     `json:"provider"`
	Encryption Encryption `json:"encryption"`
	Signature  *Signature `json:"signature"`
}

// Parse reads a license document from its JSON form. A missing signature
// block is tolerated so unsigned skeletons can be inspected; verification
// of such a license fails at the signature step.
func Parse(data []byte) (*License, error) {
	var wire wireLicense
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse license: %w", err)
	}
	if wire.ID == "" {
		return nil, errors.New("parse license: missing id")
	}
	if wire.Encryption.Profile == "" {
		return nil, errors.New("parse license: missing encryption profile")
	}
	issued, err := time.Parse(time.RFC3339, wire.Issued)
	if err != nil {
		return nil, fmt.Errorf("parse license: issued: %w", err)
	}
	var updated time.Time
	if wire.Updated != "" {
		updated, err = time.Parse(time.RFC3339, wire.Updated)
		if err != nil {
			return nil, fmt.Errorf("parse license: updated: %w", err)
		}
	}
	canonical, err := CanonicalForm(data)
	if err != nil {
		return nil, err
	}
	lic := &License{
		ID:         wire.ID,
		Provider:   wire.Provider,
		Issued:     issued,
		Updated:    updated,
		Encryption: wire.Encryption,
		canonical:  canonical,
	}
	if wire.Signature != nil {
		lic.Signature = *wire.Signature
	}
	return lic, nil
}

// CanonicalContent returns the normalized byte form of the license with
// the signature block removed; this is what the license signature covers.
func (l *License) CanonicalContent() []byte { return l.canonical }

// LastUpdated is the updated timestamp when present, the issued timestamp
// otherwise.
func (l *License) LastUpdated() time.Time {
	if !l.Updated.IsZero() {
		return l.Updated
	}
	return l.Issued
}

// UserKeyCheck decodes the encrypted user-key check blob.
func (l *License) UserKeyCheck() ([]byte, error) {
	return decodeBase64("user key check", l.Encryption.UserKey.KeyCheck)
}

// ContentKeyCiphertext decodes the encrypted content-key blob.
func (l *License) ContentKeyCiphertext() ([]byte, error) {
	return decodeBase64("content key", l.Encryption.ContentKey.Value)
}

// SignatureValue decodes the license signature bytes.
func (l *License) SignatureValue() ([]byte, error) {
	return decodeBase64("signature", l.Signature.Value)
}

// SignatureCertificate returns the embedded provider certificate in its
// transported (base64) form.
func (l *License) SignatureCertificate() string { return l.Signature.Certificate }

// SetDecrypted records that the user key check has been confirmed.
func (l *License) SetDecrypted() {
	l.mu.Lock()
	l.decrypted = true
	l.mu.Unlock()
}

// Decrypted reports whether a user key has been confirmed for this
// license.
func (l *License) Decrypted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decrypted
}

// NewIdentifier produces a fresh urn:uuid license identifier.
func NewIdentifier() string {
	return "urn:uuid:" + uuid.NewString()
}

func decodeBase64(what, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("license %s is empty", what)
	}
	cleaned := strings.Join(strings.Fields(value), "")
	raw, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("license %s: %w", what, err)
	}
	return raw, nil
}
