// ABOUTME: publish command: validates an event envelope and appends it to a topic
// ABOUTME: Payloads that fail decoding are rejected before reaching the log

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/topicmesh/internal/event"
)

func newPublishCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish TOPIC [JSON]",
		Short: "Publish an event envelope to a topic (reads stdin without JSON)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload string
			if len(args) == 2 {
				payload = args[1]
			} else {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				payload = string(raw)
			}
			payload = strings.TrimSpace(payload)

			ev, err := event.DecodeString(payload)
			if err != nil {
				return fmt.Errorf("rejecting payload: %w", err)
			}

			cfg, _, err := root.loadConfig()
			if err != nil {
				return err
			}
			t, closer, err := openTransport(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			seq, err := t.Publish(cmd.Context(), args[0], payload)
			if err != nil {
				return fmt.Errorf("publishing: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s (sequence %d)\n", ev.Type(), args[0], seq)
			return err
		},
	}
}
