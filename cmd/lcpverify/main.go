// Command lcpverify checks a license document against a root certificate
// and, given a passphrase, walks the key derivation chain down to the
// content key.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/wudi/lcpkit/license"
	"github.com/wudi/lcpkit/profiles"
	"github.com/wudi/lcpkit/provider"
	"github.com/wudi/lcpkit/revocation"
	"github.com/wudi/lcpkit/status"
	"github.com/wudi/lcpkit/streams"
)

type environment struct {
	FetchTimeout   time.Duration `envconfig:"FETCH_TIMEOUT" default:"10s"`
	UpdateInterval time.Duration `envconfig:"UPDATE_INTERVAL" default:"1h"`
	OCSP           bool          `envconfig:"OCSP" default:"false"`
}

type options struct {
	licensePath     string
	rootPath        string
	passphrase      string
	publicationPath string
	outputPath      string
	env             environment
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lcpverify: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "lcpverify: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: lcpverify [flags] <license.lcpl>\n")
		flag.PrintDefaults()
	}
	root := flag.String("root", "", "Path to the root certificate (PEM, DER, or base64)")
	passphrase := flag.String("passphrase", "", "User passphrase; when set the key chain is exercised too")
	publication := flag.String("publication", "", "Encrypted publication to decrypt (requires -passphrase)")
	output := flag.String("out", "", "Path for the decrypted publication (default <publication>.dec)")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return options{}, fmt.Errorf("missing license path")
	}
	if *root == "" {
		return options{}, fmt.Errorf("missing -root")
	}
	if *publication != "" && *passphrase == "" {
		return options{}, fmt.Errorf("-publication requires -passphrase")
	}
	opts.licensePath = flag.Arg(0)
	opts.rootPath = *root
	opts.passphrase = *passphrase
	opts.publicationPath = *publication
	opts.outputPath = *output
	if opts.outputPath == "" && opts.publicationPath != "" {
		opts.outputPath = opts.publicationPath + ".dec"
	}
	if err := envconfig.Process("LCPVERIFY", &opts.env); err != nil {
		return options{}, err
	}
	return opts, nil
}

func run(opts options) error {
	licenseData, err := os.ReadFile(opts.licensePath)
	if err != nil {
		return err
	}
	rootData, err := os.ReadFile(opts.rootPath)
	if err != nil {
		return err
	}
	lic, err := license.Parse(licenseData)
	if err != nil {
		return err
	}

	providerOpts := []provider.Option{
		provider.WithFetchTimeout(opts.env.FetchTimeout),
		provider.WithUpdateInterval(opts.env.UpdateInterval),
	}
	if opts.env.OCSP {
		providerOpts = append(providerOpts, provider.WithOCSPChecker(revocation.NewOCSPChecker()))
	}
	p := provider.New(profiles.Default(), revocation.NewHTTPFetcher(), providerOpts...)
	defer p.Close()

	if err := p.VerifyLicense(string(rootData), lic); err != nil {
		return fmt.Errorf("%s: %w", status.CodeOf(err), err)
	}
	fmt.Printf("license %s verified\n", lic.ID)

	if opts.passphrase == "" {
		return nil
	}
	userKey, err := p.DecryptUserKey(opts.passphrase, lic)
	if err != nil {
		return fmt.Errorf("%s: %w", status.CodeOf(err), err)
	}
	fmt.Println("passphrase accepted")
	contentKey, err := p.DecryptContentKey(userKey, lic)
	if err != nil {
		return fmt.Errorf("%s: %w", status.CodeOf(err), err)
	}
	fmt.Printf("content key recovered (%d bytes)\n", len(contentKey))

	if opts.publicationPath == "" {
		return nil
	}
	return decryptPublication(p, lic, contentKey, opts.publicationPath, opts.outputPath)
}

func decryptPublication(p *provider.Provider, lic *license.License, contentKey []byte, inPath, outPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return err
	}
	defer in.Close()
	source, err := streams.NewFileStream(in)
	if err != nil {
		return err
	}
	stream, err := p.CreateEncryptedPublicationStream(lic, contentKey, source)
	if err != nil {
		return fmt.Errorf("%s: %w", status.CodeOf(err), err)
	}
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()
	n, err := io.Copy(out, stream)
	if err != nil {
		return fmt.Errorf("%s: %w", status.CodeOf(err), err)
	}
	fmt.Printf("decrypted %d bytes to %s\n", n, outPath)
	return out.Close()
}
