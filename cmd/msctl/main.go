// Package main implements msctl, a command-line client for the mailsmith
// HTTP API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/mailsmith/internal/http"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	server  string
	owner   string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "msctl",
		Short: "CLI for the mailsmith email generation service",
		Long: `msctl talks to a running mailsmithd over HTTP. It generates and
regenerates drafts, lists draft history and manages sender profiles.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("MAILSMITH_SERVER", "http://localhost:8085"), "mailsmith server URL")
	root.PersistentFlags().StringVar(&opts.owner, "owner", os.Getenv("MAILSMITH_OWNER"), "owner id requests run as")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "request timeout")

	root.AddCommand(
		newGenerateCmd(opts),
		newRegenerateCmd(opts),
		newHistoryCmd(opts),
		newLearnCmd(opts),
		newProfileCmd(opts),
		newHealthCmd(opts),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (o *options) requireOwner() error {
	if strings.TrimSpace(o.owner) == "" {
		return fmt.Errorf("--owner is required (or set MAILSMITH_OWNER)")
	}
	return nil
}

// apiError is a non-2xx response.
type apiError struct {
	Status int
	httpapi.ErrorResponse
}

func (e *apiError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
}

// call sends body as JSON and decodes a JSON response into out.
func (o *options) call(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(raw)
	}

	url := strings.TrimRight(o.server, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(raw, &apiErr.ErrorResponse) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// readText returns the first argument, the named file with @path, or stdin
// for "-".
func readText(cmd *cobra.Command, arg string) (string, error) {
	switch {
	case arg == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
		return string(b), nil
	case strings.HasPrefix(arg, "@"):
		b, err := os.ReadFile(arg[1:])
		if err != nil {
			return "", fmt.Errorf("failed to read file %s: %w", arg[1:], err)
		}
		return string(b), nil
	default:
		return arg, nil
	}
}
