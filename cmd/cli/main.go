package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/i5heu/seedgate/pkg/client"
	"github.com/i5heu/seedgate/pkg/exceptions"
	"github.com/i5heu/seedgate/pkg/logging"
	"github.com/i5heu/seedgate/pkg/recipe"
)

const usage = `Usage: seedgate-cli [flags] <command> [arguments]
Commands:
  handshake-url                  print the address to open in a browser to
                                 obtain an auth token for --respond-to
  token <landed-url>             print the auth token from the respondTo URL
                                 the browser arrived at
  secret <recipe>                derive a secret
  sealing-key <recipe>           derive a public sealing key
  seal <recipe> [instructions]   seal stdin with a symmetric key
  unseal                         unseal the packaged message on stdin
  sign <recipe>                  sign stdin
Flags:
`

type cliConfig struct {
	endpoint     string
	respondTo    string
	transport    string
	codec        string
	authToken    string
	unsealingKey bool
	timeout      time.Duration
	logLevel     string
}

func main() {
	cfg, args, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	if err := run(ctx, cfg, args, os.Stdin, os.Stdout); err != nil {
		var ex *exceptions.Exception
		if errors.As(err, &ex) {
			fmt.Fprintf(os.Stderr, "%s (%s): %s\n", ex.Name, ex.Kind, ex.Message)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func parseFlags(argv []string, stderr io.Writer) (cliConfig, []string, error) {
	var cfg cliConfig
	fs := pflag.NewFlagSet("seedgate-cli", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&cfg.endpoint, "endpoint", "http://127.0.0.1:4280", "daemon base URL")
	fs.StringVar(&cfg.respondTo, "respond-to", "https://localhost/--derived-secret-api--/",
		"URL the auth token was issued for; its host is matched against recipe allow lists")
	fs.StringVarP(&cfg.transport, "transport", "t", "url", "url or ws")
	fs.StringVar(&cfg.codec, "codec", "json", "websocket codec: json or cbor")
	fs.StringVar(&cfg.authToken, "auth-token", "", "auth token from a browser handshake")
	fs.BoolVar(&cfg.unsealingKey, "unsealing-key", false, "unseal with the asymmetric unsealing key")
	fs.DurationVar(&cfg.timeout, "timeout", 2*time.Minute, "overall timeout, including consent prompts")
	fs.StringVar(&cfg.logLevel, "log-level", "warn", "debug, info, warn or error")
	if err := fs.Parse(argv); err != nil {
		return cfg, nil, err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return cfg, nil, errors.New("missing command")
	}
	return cfg, fs.Args(), nil
}

func dial(ctx context.Context, cfg cliConfig) (*client.Client, error) {
	opts := []client.Option{
		client.WithLogger(logging.New(logging.Options{Level: cfg.logLevel})),
		client.WithCodec(cfg.codec),
	}
	base := strings.TrimRight(cfg.endpoint, "/")
	switch cfg.transport {
	case "url":
		return client.NewURL(base+"/api", cfg.respondTo, opts...)
	case "ws":
		wsBase := "ws" + strings.TrimPrefix(base, "http")
		return client.DialWebSocket(ctx, wsBase+"/ws", cfg.respondTo, opts...)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.transport)
	}
}

func run(ctx context.Context, cfg cliConfig, args []string, stdin io.Reader, stdout io.Writer) error {
	arg := func(i int) (string, error) {
		if len(args) <= i {
			return "", fmt.Errorf("%s needs %d argument(s)", args[0], i)
		}
		return args[i], nil
	}

	// the handshake runs in the user's browser, never through this process
	switch args[0] {
	case "handshake-url":
		target, err := client.HandshakeURL(strings.TrimRight(cfg.endpoint, "/")+"/api", cfg.respondTo)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, target)
		return err

	case "token":
		landed, err := arg(1)
		if err != nil {
			return err
		}
		token, err := client.AuthTokenFromRedirect(landed)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, token)
		return err
	}

	c, err := dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if cfg.authToken != "" {
		c.UseAuthToken(cfg.authToken)
	}

	switch args[0] {
	case "secret":
		r, err := arg(1)
		if err != nil {
			return err
		}
		secret, err := c.GetSecret(ctx, r)
		if err != nil {
			return err
		}
		defer secret.Dispose()
		return printJSON(stdout, secret)

	case "sealing-key":
		r, err := arg(1)
		if err != nil {
			return err
		}
		key, err := c.GetSealingKey(ctx, r)
		if err != nil {
			return err
		}
		return printJSON(stdout, key)

	case "seal":
		r, err := arg(1)
		if err != nil {
			return err
		}
		var instructions string
		if len(args) > 2 {
			instructions = args[2]
		}
		plaintext, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read plaintext: %w", err)
		}
		sealed, err := c.SealWithSymmetricKey(ctx, r, plaintext, instructions)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, sealed.Json())
		return err

	case "unseal":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read packaged message: %w", err)
		}
		m, err := recipe.ParsePackagedSealedMessage(strings.TrimSpace(string(data)))
		if err != nil {
			return err
		}
		var plaintext []byte
		if cfg.unsealingKey {
			plaintext, err = c.UnsealWithUnsealingKey(ctx, m)
		} else {
			plaintext, err = c.UnsealWithSymmetricKey(ctx, m)
		}
		if err != nil {
			return err
		}
		_, err = stdout.Write(plaintext)
		return err

	case "sign":
		r, err := arg(1)
		if err != nil {
			return err
		}
		message, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		sig, vk, err := c.GenerateSignature(ctx, r, message)
		if err != nil {
			return err
		}
		return printJSON(stdout, map[string]any{
			"signature":                    recipe.EncodeBinary(sig),
			"signatureVerificationKeyJson": vk.Json(),
		})

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
