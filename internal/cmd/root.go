// Package cmd implements the dashctl command line.
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/thaveesi/blackRabbit/internal/adapter/pentest"
	"github.com/thaveesi/blackRabbit/internal/config"
)

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	apiURL  string
	wsURL   string
	timeout time.Duration
}

func (o *globalOptions) client() *pentest.Client {
	return pentest.NewClient(o.apiURL, pentest.WithTimeout(o.timeout))
}

// NewRootCmd builds the dashctl command tree with defaults taken from cfg.
func NewRootCmd(cfg *config.Config) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "dashctl",
		Short: "Inspect pentest activity from the terminal",
		Long: `dashctl reads the pentest backend the same way the dashboard does:
it joins recent contracts with their agent events, submits new contracts,
prints reports and follows a contract over the dashboard live feed.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.apiURL, "api", cfg.APIURL, "pentest backend base URL")
	root.PersistentFlags().StringVar(&opts.wsURL, "dashboard", fmt.Sprintf("ws://localhost:%d/ws", cfg.HTTPPort), "dashboard live feed URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", cfg.APITimeout, "per-request timeout")

	root.AddCommand(
		newActivityCmd(opts, cfg),
		newSubmitCmd(opts, cfg),
		newReportsCmd(opts),
		newReportCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd(config.Load()).Execute()
}
