package main

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mailsmith/internal/email"
)

func newProfileCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update the sender profile",
	}
	cmd.AddCommand(newProfileGetCmd(opts), newProfileSetCmd(opts))
	return cmd
}

func profilePath(owner string) string {
	return "/api/v1/owners/" + url.PathEscape(owner) + "/profile"
}

func newProfileGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the stored profile as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.requireOwner(); err != nil {
				return err
			}
			var p email.Profile
			if err := opts.call(cmd.Context(), "GET", profilePath(opts.owner), nil, &p); err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}
}

func newProfileSetCmd(opts *options) *cobra.Command {
	var (
		p     email.Profile
		prefs map[string]string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the profile",
		Long: `Set fetches the current profile, applies the flags that were given
and stores the result.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.requireOwner(); err != nil {
				return err
			}
			var current email.Profile
			if err := opts.call(cmd.Context(), "GET", profilePath(opts.owner), nil, &current); err != nil {
				return err
			}

			f := cmd.Flags()
			if f.Changed("name") {
				current.Name = p.Name
			}
			if f.Changed("title") {
				current.Title = p.Title
			}
			if f.Changed("company") {
				current.Company = p.Company
			}
			if f.Changed("signature") {
				current.Signature = p.Signature
			}
			if f.Changed("style-notes") {
				current.StyleNotes = p.StyleNotes
			}
			if len(prefs) > 0 {
				if current.Preferences == nil {
					current.Preferences = map[string]string{}
				}
				for k, v := range prefs {
					current.Preferences[k] = v
				}
			}
			current.Owner = opts.owner

			var stored email.Profile
			if err := opts.call(cmd.Context(), "PUT", profilePath(opts.owner), current, &stored); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "profile updated for %s\n", stored.Owner)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&p.Name, "name", "", "sender name")
	f.StringVar(&p.Title, "title", "", "sender title")
	f.StringVar(&p.Company, "company", "", "sender company")
	f.StringVar(&p.Signature, "signature", "", "closing signature")
	f.StringVar(&p.StyleNotes, "style-notes", "", "free-text writing style notes")
	f.StringToStringVar(&prefs, "pref", nil, "preference key=value (repeatable)")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
