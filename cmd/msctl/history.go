package main

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mailsmith/internal/assistant"
	"github.com/fyrsmithlabs/mailsmith/internal/email"
	httpapi "github.com/fyrsmithlabs/mailsmith/internal/http"
)

const previewWidth = 60

func newHistoryCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List saved drafts, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.requireOwner(); err != nil {
				return err
			}
			path := "/api/v1/owners/" + url.PathEscape(opts.owner) + "/drafts"
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}
			var resp httpapi.HistoryResponse
			if err := opts.call(cmd.Context(), "GET", path, nil, &resp); err != nil {
				return err
			}
			if len(resp.Drafts) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no drafts saved for %s\n", resp.Owner)
				return nil
			}
			renderHistory(cmd.OutOrStdout(), resp.Drafts)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of drafts (server default when 0)")
	return cmd
}

func newLearnCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "learn <original|@file> <edited|@file|->",
		Short: "Teach the profile from an edited draft",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireOwner(); err != nil {
				return err
			}
			var (
				req assistant.LearnRequest
				err error
			)
			if req.Original, err = readText(cmd, args[0]); err != nil {
				return err
			}
			if req.Edited, err = readText(cmd, args[1]); err != nil {
				return err
			}
			var p email.Profile
			path := "/api/v1/owners/" + url.PathEscape(opts.owner) + "/history/learn"
			if err := opts.call(cmd.Context(), "POST", path, req, &p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "preferred_length=%s tone=%s\n",
				p.Preferences[email.PrefPreferredLength], p.Preferences[email.PrefToneLean])
			return nil
		},
	}
}

func renderHistory(w io.Writer, drafts []httpapi.DraftView) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Draft", "Created", "Tone", "Intent", "Preview"})
	for _, d := range drafts {
		intent, _ := d.Metadata["intent"].(string)
		t.AppendRow(table.Row{
			d.ID,
			d.CreatedAt.Local().Format("2006-01-02 15:04"),
			d.Tone,
			intent,
			preview(d.Content),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(drafts)})
	t.Render()
}

// preview flattens a draft onto one line and cuts it to previewWidth runes.
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= previewWidth {
		return s
	}
	return string(r[:previewWidth-3]) + "..."
}
