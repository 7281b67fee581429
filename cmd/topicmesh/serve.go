// ABOUTME: serve command: prints the banner, builds the mesh and runs it
// ABOUTME: --watch echoes every published event to stdout as it happens

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/topicmesh/internal/config"
	"github.com/2389/topicmesh/internal/event"
	"github.com/2389/topicmesh/internal/feed"
	"github.com/2389/topicmesh/internal/mesh"
)

const banner = `
 _              _                           _
| |_ ___  _ __ (_) ___ _ __ ___   ___  ___| |__
| __/ _ \| '_ \| |/ __| '_ ' _ \ / _ \/ __| '_ \
| || (_) | |_) | | (__| | | | | |  __/\__ \ | | |
 \__\___/| .__/|_|\___|_| |_| |_|\___||___/_| |_|
         |_|
`

func newServeCmd(root *rootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agents and connection manager",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := root.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printStartup(out, cfg, path)

			logger := setupLogger(cmd.ErrOrStderr(), cfg.Logging)
			logger.Info("starting topicmesh", "config", path, "transport", cfg.Transport.Kind)

			m, err := mesh.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating mesh: %w", err)
			}

			ctx := cmd.Context()
			if watch {
				watchCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				items, _ := m.Feed().Subscribe(watchCtx, feed.AllTopics)
				go printFeed(out, items)
			}
			return m.Run(ctx)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "print every published event")
	return cmd
}

func printStartup(w io.Writer, cfg *config.Config, path string) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(w, banner)
	gray.Fprintf(w, "    version: %s\n\n", version)

	if path == "" {
		path = "(defaults)"
	}
	line := func(label, value string) {
		green.Fprint(w, "    ▶ ")
		fmt.Fprintf(w, "%-11s%s\n", label+":", value)
	}
	line("Config", path)
	line("Transport", cfg.Transport.Kind)
	if db := cfg.DatabasePath(); db != "" {
		line("Database", db)
	}

	ac := cfg.Agents
	if ac.PriceFeed.Enabled {
		line("Price feed", fmt.Sprintf("%v -> %s every %s", ac.PriceFeed.Tokens, ac.PriceFeed.OutputTopic, ac.PriceFeed.Interval))
	}
	if ac.Risk.Enabled {
		line("Risk", ac.Risk.InputTopic+" -> "+ac.Risk.OutputTopic)
	}
	if ac.Rebalance.Enabled {
		line("Rebalance", ac.Rebalance.InputTopic+" -> "+ac.Rebalance.OutputTopic)
	}
	if cc := cfg.Connections; cc.Enabled {
		green.Fprint(w, "    ▶ ")
		fmt.Fprintf(w, "%-11s%s on %s", "Account:", cc.AccountID, cc.InboundTopic)
		yellow.Fprintf(w, " [%s]", cc.Approval.Mode)
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
}

func printFeed(w io.Writer, items <-chan feed.Item) {
	for item := range items {
		fmt.Fprintf(w, "%s %s %s\n",
			color.HiBlackString("%s#%d", item.Topic, item.Sequence),
			colorForType(item.Event.Type()),
			summarize(item.Event),
		)
	}
}

func colorForType(t event.Type) string {
	switch t {
	case event.TypeRiskAlert:
		return color.RedString(string(t))
	case event.TypeRebalanceExecuted:
		return color.GreenString(string(t))
	case event.TypePriceUpdate:
		return color.CyanString(string(t))
	}
	return color.YellowString(string(t))
}

func summarize(ev event.DomainEvent) string {
	switch e := ev.(type) {
	case *event.PriceUpdate:
		return fmt.Sprintf("%s=%.4f", e.Details.TokenID, e.Details.Price)
	case *event.RiskAlert:
		return fmt.Sprintf("%s %s change=%.4f volatility=%.4f", e.Details.TokenID, e.Details.Severity, e.Details.PriceChange, e.Details.Volatility)
	case *event.RebalanceExecuted:
		return fmt.Sprintf("proposal=%s", e.Details.ProposalID)
	case *event.ConnectionCreated:
		return fmt.Sprintf("%s topic=%s", e.Details.ConnectedAccountID, e.Details.ConnectionTopicID)
	case *event.CloseConnection:
		return fmt.Sprintf("topic=%s reason=%q", e.Details.ConnectionTopicID, e.Details.Reason)
	}
	return "from " + ev.Meta().Sender
}
