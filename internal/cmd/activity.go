package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/thaveesi/blackRabbit/internal/aggregator"
	"github.com/thaveesi/blackRabbit/internal/config"
	"github.com/thaveesi/blackRabbit/internal/domain"
)

func newActivityCmd(opts *globalOptions, cfg *config.Config) *cobra.Command {
	var limit, selected int

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recent contracts and the selected contract's events",
		RunE: func(cmd *cobra.Command, args []string) error {
			agg := aggregator.New(opts.client(), aggregator.WithFetchTimeout(opts.timeout))
			view, err := agg.LoadRecentActivity(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printActivity(cmd.OutOrStdout(), view.Select(selected))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", cfg.RecentLimit, "number of recent contracts to join")
	cmd.Flags().IntVarP(&selected, "select", "s", 0, "index of the contract whose events are shown")
	return cmd
}

func printActivity(out io.Writer, view aggregator.View) {
	current, ok := view.Current()
	if !ok {
		fmt.Fprintln(out, "No data available")
		return
	}

	for i, entry := range view.Entries {
		marker := " "
		if i == view.Selected {
			marker = "*"
		}
		fmt.Fprintf(out, "%s [%d] %s (%d events)\n", marker, i, entry.Contract.DisplayName(), len(entry.Events))
	}
	fmt.Fprintln(out)
	printEvents(out, current.Contract.DisplayName(), current.Events)
}

func printEvents(out io.Writer, title string, events []domain.Event) {
	fmt.Fprintf(out, "%s\n", title)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tTIME\tAGENT\tACTION")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\n", e.Date(), e.Clock(), e.Icon(), e.AgentLabel, e.Action)
	}
	w.Flush()
}
