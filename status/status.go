// Package status defines the result taxonomy shared by every public
// operation of the LCP crypto engine. Failures are ordinary values: a
// *Status carries one Code from the taxonomy plus an optional diagnostic
// message captured from the layer that failed. Raw errors from the
// underlying crypto libraries never cross the provider boundary.
package status

import "fmt"

// Code identifies one outcome from the license-opening or decryption
// pipelines.
type Code int

const (
	Success Code = iota

	// Profile stage.
	ProfileNotFound

	// License-opening stage.
	NoRootCertificate
	RootCertificateInvalid
	ProviderCertificateInvalid
	ProviderCertificateNotVerified
	ProviderCertificateRevoked
	ProviderCertificateNotStarted
	ProviderCertificateExpired
	LicenseSignatureNotValid

	// Decryption stage.
	UserPassphraseNotValid
	LicenseEncrypted
	PublicationEncrypted
	DecryptionError
)

var codeNames = map[Code]string{
	Success:                        "success",
	ProfileNotFound:                "encryption profile not found",
	NoRootCertificate:              "no root certificate",
	RootCertificateInvalid:         "root certificate not valid",
	ProviderCertificateInvalid:     "provider certificate not valid",
	ProviderCertificateNotVerified: "provider certificate not verified",
	ProviderCertificateRevoked:     "provider certificate revoked",
	ProviderCertificateNotStarted:  "provider certificate not yet valid",
	ProviderCertificateExpired:     "provider certificate expired",
	LicenseSignatureNotValid:       "license signature not valid",
	UserPassphraseNotValid:         "user passphrase not valid",
	LicenseEncrypted:               "license data decryption failed",
	PublicationEncrypted:           "publication decryption failed",
	DecryptionError:                "decryption error",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("status code %d", int(c))
}

// Status is the error value returned by the crypto provider. Message, when
// present, is the human-readable diagnostic captured from the failing
// layer.
type Status struct {
	Code    Code
	Message string
}

func (s *Status) Error() string {
	if s.Message == "" {
		return s.Code.String()
	}
	return s.Code.String() + ": " + s.Message
}

// New builds a Status for code with an optional diagnostic message.
func New(code Code, message string) *Status {
	return &Status{Code: code, Message: message}
}

// Newf builds a Status with a formatted diagnostic message.
func Newf(code Code, format string, args ...any) *Status {
	return &Status{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the status code from err. A nil error is Success; an
// error that is not a *Status reports DecryptionError, the generic kind.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	if s, ok := err.(*Status); ok {
		return s.Code
	}
	return DecryptionError
}

// Is reports whether err carries the given status code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
