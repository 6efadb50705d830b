package main

import (
	"fmt"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/mailsmith/internal/http"
)

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var h httpapi.HealthResponse
			if err := opts.call(cmd.Context(), "GET", "/health", nil, &h); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status: %s\n", h.Status)
			if s := h.Indexer; s != nil {
				fmt.Fprintf(out, "indexer: enabled=%t pending=%d queued=%d indexed=%d failed=%d dropped=%d\n",
					s.Enabled, s.Pending, s.Queued, s.Indexed, s.Failed, s.Dropped)
			}
			return nil
		},
	}
}
