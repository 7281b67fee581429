// ABOUTME: topic command: inspects the shared topic log
// ABOUTME: list summarises SQLite topics; read prints messages after a cursor

package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/topicmesh/internal/config"
	"github.com/2389/topicmesh/internal/event"
	"github.com/2389/topicmesh/internal/store"
	"github.com/2389/topicmesh/internal/transport"
)

func newTopicCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topic",
		Short: "Inspect topics on the shared log",
	}
	cmd.AddCommand(newTopicListCmd(root), newTopicReadCmd(root))
	return cmd
}

func newTopicListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List topics on a SQLite log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Transport.Kind != config.TransportSQLite {
				return errors.New("topic list needs the sqlite transport")
			}
			t, closer, err := openTransport(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			topics, err := t.(*store.SQLiteStore).ListTopics(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing topics: %w", err)
			}
			return printTopics(cmd.OutOrStdout(), topics)
		},
	}
}

func newTopicReadCmd(root *rootOptions) *cobra.Command {
	var (
		since int64
		raw   bool
	)
	cmd := &cobra.Command{
		Use:   "read TOPIC",
		Short: "Print messages published after a sequence number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.loadConfig()
			if err != nil {
				return err
			}
			t, closer, err := openTransport(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			msgs, err := t.ReadSince(cmd.Context(), args[0], since)
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			return printMessages(cmd.OutOrStdout(), msgs, raw)
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "only messages with a higher sequence number")
	cmd.Flags().BoolVar(&raw, "raw", false, "print payloads verbatim")
	return cmd
}

func printTopics(w io.Writer, topics []store.TopicInfo) error {
	if len(topics) == 0 {
		_, err := fmt.Fprintln(w, "No topics.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  TOPIC\tMESSAGES\tLAST SEQ\tLAST PUBLISHED")
	fmt.Fprintln(tw, "  -----\t--------\t--------\t--------------")
	for _, ti := range topics {
		fmt.Fprintf(tw, "  %s\t%d\t%d\t%s\n", ti.Name, ti.Messages, ti.LastSequence, ti.LastPublished.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func printMessages(w io.Writer, msgs []transport.Message, raw bool) error {
	for _, m := range msgs {
		if raw {
			if _, err := fmt.Fprintf(w, "%d\t%s\n", m.Sequence, m.Contents); err != nil {
				return err
			}
			continue
		}
		summary := "undecodable"
		kind := "?"
		if ev, err := event.DecodeString(m.Contents); err == nil {
			kind = string(ev.Type())
			summary = summarize(ev)
		}
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", m.Sequence, m.Timestamp.Local().Format(time.DateTime), kind, summary); err != nil {
			return err
		}
	}
	return nil
}
