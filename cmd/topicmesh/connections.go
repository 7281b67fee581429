// ABOUTME: connections command: lists the connection audit table
// ABOUTME: --history shows the status changes recorded for one request key

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/topicmesh/internal/connection"
	"github.com/2389/topicmesh/internal/store"
)

func newConnectionsCmd(root *rootOptions) *cobra.Command {
	var (
		status  string
		account string
		limit   int
		history string
	)
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "List recorded peer connections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := root.loadConfig()
			if err != nil {
				return err
			}
			s, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if history != "" {
				changes, err := s.ConnectionHistory(ctx, history)
				if err != nil {
					return fmt.Errorf("loading history: %w", err)
				}
				return printHistory(out, history, changes)
			}

			st := connection.Status(status)
			if status != "" && !st.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			conns, err := s.ListConnections(ctx, store.ConnectionFilter{
				Status:    st,
				AccountID: account,
				Limit:     limit,
			})
			if err != nil {
				return fmt.Errorf("listing connections: %w", err)
			}
			return printConnections(out, conns)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show this status (pending, needs_confirmation, established, closed)")
	cmd.Flags().StringVar(&account, "account", "", "only show connections with this peer account")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Flags().StringVar(&history, "history", "", "show the status history of one request key")
	return cmd
}

func printConnections(w io.Writer, conns []connection.Connection) error {
	if len(conns) == 0 {
		_, err := fmt.Fprintln(w, "No connections recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  KEY\tPEER\tSTATUS\tDIRECTION\tTOPIC\tLAST ACTIVITY")
	fmt.Fprintln(tw, "  ---\t----\t------\t---------\t-----\t-------------")
	for _, c := range conns {
		topic := c.ConnectionTopicID
		if topic == "" {
			topic = "-"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			c.UniqueRequestKey,
			c.TargetAccountID,
			c.Status,
			c.Direction,
			truncate(topic, 12),
			c.LastActivity.Local().Format(time.DateTime),
		)
	}
	return tw.Flush()
}

func printHistory(w io.Writer, key string, changes []store.StatusChange) error {
	if len(changes) == 0 {
		_, err := fmt.Fprintf(w, "No history for %s.\n", key)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  STATUS\tRECORDED")
	fmt.Fprintln(tw, "  ------\t--------")
	for _, ch := range changes {
		fmt.Fprintf(tw, "  %s\t%s\n", ch.Status, ch.RecordedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
