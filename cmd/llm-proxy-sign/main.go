// Command llm-proxy-sign signs a request body the way llm-proxy verifies it
// and prints the headers, or a ready-to-run curl command.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"github.com/bobmcallan/llm-proxy/internal/auth"
)

type cli struct {
	Secret    string `help:"Shared secret used by the proxy" env:"LLMPROXY_SHARED_SECRET" required:""`
	Body      string `help:"File holding the exact request body, or - for stdin" default:"-"`
	Token     string `help:"Device token sent as X-Device-Token" default:""`
	Timestamp int64  `help:"Unix seconds to sign with (default: now)" default:"0"`
	URL       string `help:"Proxy endpoint used in curl output" default:"http://localhost:8080/v1/chat/completions"`
	Curl      bool   `help:"Print a curl command instead of headers"`
}

func main() {
	var c cli
	kong.Parse(&c,
		kong.Name("llm-proxy-sign"),
		kong.Description("Sign a chat completion request for llm-proxy."),
	)

	if err := run(c, os.Stdin, os.Stdout, time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "llm-proxy-sign: %v\n", err)
		os.Exit(1)
	}
}

func run(c cli, stdin io.Reader, out io.Writer, now time.Time) error {
	body, err := readBody(c.Body, stdin)
	if err != nil {
		return err
	}

	ts := auth.Timestamp(now)
	if c.Timestamp != 0 {
		ts = fmt.Sprint(c.Timestamp)
	}
	sig := auth.Sign(c.Secret, body, ts)

	headers := [][2]string{
		{auth.HeaderTimestamp, ts},
		{auth.HeaderSignature, sig},
	}
	if c.Token != "" {
		headers = append(headers, [2]string{auth.HeaderDeviceToken, c.Token})
	}

	if !c.Curl {
		for _, h := range headers {
			fmt.Fprintf(out, "%s: %s\n", h[0], h[1])
		}
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "curl -sS -X POST %s \\\n", shellQuote(c.URL))
	b.WriteString("  -H 'Content-Type: application/json' \\\n")
	for _, h := range headers {
		fmt.Fprintf(&b, "  -H %s \\\n", shellQuote(h[0]+": "+h[1]))
	}
	// --data-binary keeps the bytes identical to what was signed.
	fmt.Fprintf(&b, "  --data-binary %s\n", shellQuote(string(body)))
	_, err = io.WriteString(out, b.String())
	return err
}

func readBody(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		body, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return body, nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
