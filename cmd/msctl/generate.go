package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mailsmith/internal/assistant"
)

func newGenerateCmd(opts *options) *cobra.Command {
	var (
		req    assistant.GenerateRequest
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "generate <request|@file|->",
		Short: "Generate an email from a free-text request",
		Example: `  msctl generate --owner alice "Follow up with John about the proposal"
  msctl generate --owner alice --tone casual --save "Thank Maria for the launch"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireOwner(); err != nil {
				return err
			}
			prompt, err := readText(cmd, args[0])
			if err != nil {
				return err
			}
			req.Prompt = prompt
			req.Owner = opts.owner

			var resp assistant.Response
			if err := opts.call(cmd.Context(), "POST", "/api/v1/generate", req, &resp); err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), &resp, asJSON)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Tone, "tone", "", "formal, casual, assertive or empathetic")
	f.StringVar(&req.RecipientHint, "recipient", "", "recipient name override")
	f.StringVar(&req.SubjectHint, "subject", "", "subject hint")
	f.StringVar(&req.Format, "format", "", `"text" or "html"`)
	f.BoolVar(&req.SaveToHistory, "save", false, "save the draft to history")
	f.BoolVar(&req.Diagnostics, "diagnostics", false, "include the per-stage trace")
	f.BoolVar(&asJSON, "json", false, "print the raw JSON response")
	return cmd
}

func newRegenerateCmd(opts *options) *cobra.Command {
	var (
		req    assistant.RegenerateRequest
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "regenerate <original|@file> <edited|@file|->",
		Short: "Rework an edited draft",
		Long: `Regenerate compares the edited draft with the original. Small edits
are only polished again; larger edits are re-toned and re-personalized.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireOwner(); err != nil {
				return err
			}
			var err error
			if req.OriginalDraft, err = readText(cmd, args[0]); err != nil {
				return err
			}
			if req.EditedDraft, err = readText(cmd, args[1]); err != nil {
				return err
			}
			req.Owner = opts.owner

			var resp assistant.Response
			if err := opts.call(cmd.Context(), "POST", "/api/v1/regenerate", req, &resp); err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), &resp, asJSON)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Tone, "tone", "", "formal, casual, assertive or empathetic")
	f.BoolVar(&req.SaveToHistory, "save", false, "save the result to history")
	f.BoolVar(&req.Diagnostics, "diagnostics", false, "include the per-stage trace")
	f.BoolVar(&asJSON, "json", false, "print the raw JSON response")
	return cmd
}

func printResponse(w io.Writer, resp *assistant.Response, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	body := resp.Draft
	if resp.HTML != "" {
		body = resp.HTML
	}
	fmt.Fprintln(w, strings.TrimRight(body, "\n"))
	fmt.Fprintln(w)

	md := resp.Metadata
	fmt.Fprintf(w, "intent=%s tone=%s context=%s references=%d invocations=%d calls=%d\n",
		md.Intent, md.Tone, md.ContextMode, md.ReferenceCount, resp.Metrics.Invocations, resp.Metrics.CallCount)
	if md.Path != "" && md.ChangeRatio != nil {
		fmt.Fprintf(w, "path=%s change_ratio=%.2f\n", md.Path, *md.ChangeRatio)
	}
	if md.Saved {
		fmt.Fprintf(w, "saved as %s\n", md.DraftID)
	}
	for _, warning := range md.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	for _, t := range resp.Trace {
		fmt.Fprintf(w, "trace: %s attempt=%d outcome=%s %s\n", t.Stage, t.Attempt, t.Outcome, t.Duration)
	}
	return nil
}
