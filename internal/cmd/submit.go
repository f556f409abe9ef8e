package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thaveesi/blackRabbit/internal/config"
	"github.com/thaveesi/blackRabbit/internal/domain"
	"github.com/thaveesi/blackRabbit/internal/policy"
)

func newSubmitCmd(opts *globalOptions, cfg *config.Config) *cobra.Command {
	var sub domain.Submission
	policyFile := cfg.PolicyFile

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a contract for testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sub.Name = strings.TrimSpace(sub.Name)
			sub.Address = strings.TrimSpace(sub.Address)

			engine, err := policy.NewEngineFromFile(ctx, policyFile)
			if err != nil {
				return err
			}
			decision, err := engine.Evaluate(ctx, sub)
			if err != nil {
				return err
			}
			if !decision.Allow {
				return errors.New(decision.Reason)
			}

			contract, err := opts.client().CreateContract(ctx, sub)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s as %s\n", contract.DisplayName(), contract.ContractID)
			return nil
		},
	}

	cmd.Flags().StringVar(&sub.Name, "name", "", "contract name")
	cmd.Flags().StringVar(&sub.Address, "address", "", "contract address (0x followed by 40 hex digits)")
	cmd.Flags().StringVar(&policyFile, "policy", policyFile, "submission policy file (empty uses the built-in policy)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}
