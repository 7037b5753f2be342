// Command lcpencrypt encrypts a publication for a passphrase and emits
// an unsigned license skeleton alongside it. The skeleton carries the
// full key chain (user key check, wrapped content key) and is ready for
// a provider to sign.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/wudi/lcpkit/license"
	"github.com/wudi/lcpkit/profiles"
)

const (
	aesAlgoURI = "http://www.w3.org/2001/04/xmlenc#aes256-cbc"
	shaAlgoURI = "http://www.w3.org/2001/04/xmlenc#sha256"
)

type options struct {
	inputPath   string
	outputPath  string
	licensePath string
	passphrase  string
	hint        string
	providerURL string
	contentKey  []byte
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lcpencrypt: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "lcpencrypt: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: lcpencrypt [flags] <publication>\n")
		flag.PrintDefaults()
	}
	output := flag.String("out", "", "Path for the encrypted publication (default <publication>.enc)")
	licenseOut := flag.String("license", "", "Path for the license skeleton (default <publication>.lcpl)")
	passphrase := flag.String("passphrase", "", "User passphrase protecting the publication")
	hint := flag.String("hint", "", "Text hint shown when prompting for the passphrase")
	providerURL := flag.String("provider", "https://provider.example.com", "Provider URL recorded in the license")
	keyHex := flag.String("key", "", "Content key as hex; a random key is generated when empty")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return options{}, fmt.Errorf("missing publication path")
	}
	if *passphrase == "" {
		return options{}, fmt.Errorf("missing -passphrase")
	}
	opts.inputPath = flag.Arg(0)
	opts.outputPath = *output
	if opts.outputPath == "" {
		opts.outputPath = opts.inputPath + ".enc"
	}
	opts.licensePath = *licenseOut
	if opts.licensePath == "" {
		opts.licensePath = opts.inputPath + ".lcpl"
	}
	opts.passphrase = *passphrase
	opts.hint = *hint
	opts.providerURL = *providerURL
	if *keyHex != "" {
		key, err := hex.DecodeString(*keyHex)
		if err != nil {
			return options{}, fmt.Errorf("invalid -key: %w", err)
		}
		if len(key) != 32 {
			return options{}, fmt.Errorf("invalid -key: want 32 bytes, got %d", len(key))
		}
		opts.contentKey = key
	}
	return opts, nil
}

func run(opts options) error {
	payload, err := os.ReadFile(opts.inputPath)
	if err != nil {
		return err
	}

	contentKey := opts.contentKey
	if contentKey == nil {
		contentKey = make([]byte, 32)
		if _, err := rand.Read(contentKey); err != nil {
			return err
		}
	}

	prof := profiles.Default().MustGet(profiles.BasicProfileName)
	hash := prof.CreateUserKeyAlgorithm()
	if _, err := hash.Write([]byte(opts.passphrase)); err != nil {
		return err
	}
	userKey := hash.Sum()

	keyWrap, err := prof.CreateContentKeyAlgorithm(userKey)
	if err != nil {
		return err
	}
	id := license.NewIdentifier()
	keyCheck, err := keyWrap.Encrypt([]byte(id))
	if err != nil {
		return err
	}
	wrappedKey, err := keyWrap.Encrypt(contentKey)
	if err != nil {
		return err
	}

	bulk, err := prof.CreatePublicationAlgorithm(contentKey)
	if err != nil {
		return err
	}
	encrypted, err := bulk.Encrypt(payload)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.outputPath, encrypted, 0o644); err != nil {
		return err
	}

	skeleton := map[string]interface{}{
		"id":       id,
		"issued":   time.Now().UTC().Format(time.RFC3339),
		"provider": opts.providerURL,
		"encryption": map[string]interface{}{
			"profile": profiles.BasicProfileName,
			"content_key": map[string]interface{}{
				"algorithm":       aesAlgoURI,
				"encrypted_value": base64.StdEncoding.EncodeToString(wrappedKey),
			},
			"user_key": map[string]interface{}{
				"algorithm": shaAlgoURI,
				"text_hint": opts.hint,
				"key_check": base64.StdEncoding.EncodeToString(keyCheck),
			},
		},
	}
	doc, err := json.MarshalIndent(skeleton, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.licensePath, append(doc, '\n'), 0o644); err != nil {
		return err
	}

	fmt.Printf("wrote %s and %s (license %s)\n", opts.outputPath, opts.licensePath, id)
	return nil
}
