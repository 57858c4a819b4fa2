package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/img2kvm/img2kvm/pkg/errors"
)

var historyStatus string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded conversion runs and their status",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Only show runs in this status")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	runs, err := repo.List()
	if historyStatus != "" {
		runs, err = repo.ListByStatus(historyStatus)
	}
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found")
		return nil
	}

	fmt.Fprintf(out, "%-26s %-14s %-6s %-10s %-12s %-20s %s\n", "RUN", "STATUS", "VM", "FORMAT", "STORAGE", "UPDATED", "SOURCE")
	fmt.Fprintln(out, "------------------------------------------------------------------------------------------------------------")

	for _, run := range runs {
		fmt.Fprintf(out, "%-26s %-14s %-6d %-10s %-12s %-20s %s\n",
			run.ID, run.Status, run.VMID, orDash(run.Format), run.Storage, run.UpdatedAt, run.Source)
		if run.ErrorMessage != "" {
			fmt.Fprintf(out, "    error: %s\n", run.ErrorMessage)
		}
	}

	return nil
}
