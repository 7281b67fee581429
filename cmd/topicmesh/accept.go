// ABOUTME: accept command: asks a running node to accept a pending request
// ABOUTME: Publishes accept_connection onto the node's control topic

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/topicmesh/internal/event"
)

func newAcceptCmd(root *rootOptions) *cobra.Command {
	var memo string
	cmd := &cobra.Command{
		Use:   "accept REQUEST_ID",
		Short: "Accept a pending connection request on a running node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requestID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || requestID <= 0 {
				return fmt.Errorf("request id must be a positive integer, got %q", args[0])
			}

			cfg, _, err := root.loadConfig()
			if err != nil {
				return err
			}
			control := cfg.Connections.ControlTopic
			if control == "" {
				return errors.New("connections.control_topic is not configured")
			}

			t, closer, err := openTransport(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			sender, _ := os.Hostname()
			if sender == "" {
				sender = "operator"
			}
			raw, err := event.Encode(&event.AcceptConnection{
				Header:  event.Header{Timestamp: time.Now().UnixMilli(), Sender: sender},
				Details: event.AcceptConnectionDetails{RequestID: requestID, Memo: memo},
			})
			if err != nil {
				return fmt.Errorf("encoding command: %w", err)
			}
			seq, err := t.Publish(cmd.Context(), control, string(raw))
			if err != nil {
				return fmt.Errorf("publishing command: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "queued accept for request %d on %s (sequence %d)\n", requestID, control, seq)
			return err
		},
	}
	cmd.Flags().StringVar(&memo, "memo", "", "memo to include in the connection_created reply")
	return cmd
}
