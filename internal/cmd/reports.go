package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/thaveesi/blackRabbit/internal/render"
)

func newReportsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reports",
		Short: "List completed reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, err := opts.client().ListReports(cmd.Context())
			if err != nil {
				return err
			}
			if len(reports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No reports available")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CONTRACT ID\tNAME\tDATE\tTIME")
			for _, r := range reports {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ContractID, r.ContractName, r.Date(), r.Clock())
			}
			return w.Flush()
		},
	}
}

func newReportCmd(opts *globalOptions) *cobra.Command {
	var asHTML bool

	cmd := &cobra.Command{
		Use:   "report <contract_id>",
		Short: "Print a contract's markdown report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := opts.client().GetReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !asHTML {
				fmt.Fprintf(out, "# %s\n\n%s\n", report.ContractName, report.Results)
				return nil
			}
			html, err := render.NewMarkdown().Render(report.Results)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, html)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asHTML, "html", false, "render the report to HTML")
	return cmd
}
