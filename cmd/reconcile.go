package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/transfa/disbursement-service/internal/app"
	"github.com/transfa/disbursement-service/internal/ledger"
)

func init() {
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(keygenCmd)
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass and print its report",
	Long: `Resolve processing disbursements whose settlement outcome is unknown and
re-verify every campaign's balance, freezing campaigns that drifted.`,
	RunE: runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	reconciler := app.NewReconciler(rt.service, rt.cfg.ReconcileStaleAfter(), rt.logger)
	report, err := reconciler.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a fresh ledger account address and secret seed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kp, err := ledger.RandomKeyPair()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "address: %s\n", kp.Address())
		fmt.Fprintf(out, "secret:  %s\n", kp.Seed())
		return nil
	},
}
