package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/img2kvm/img2kvm/internal/config"
	"github.com/img2kvm/img2kvm/pkg/db"
	"github.com/img2kvm/img2kvm/pkg/decompress"
	"github.com/img2kvm/img2kvm/pkg/errors"
	"github.com/img2kvm/img2kvm/pkg/hypervisor"
	"github.com/img2kvm/img2kvm/pkg/storage"
)

var (
	cleanupAll      bool
	cleanupRun      string
	cleanupOrphaned bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clean up intermediate files left by failed runs",
	Long: `Clean up decompressed images, converted disks and downloads left behind:
  --all              Clean every unfinished run recorded in the ledger
  --run <id>         Clean a specific run recorded in the ledger
  --orphaned         Clean img2kvm leftovers in the work dir, with or without a ledger`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Clean all unfinished runs")
	cleanupCmd.Flags().StringVar(&cleanupRun, "run", "", "Clean specific run by ID")
	cleanupCmd.Flags().BoolVar(&cleanupOrphaned, "orphaned", false, "Clean orphaned files")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if cleanupOrphaned {
		var repo *db.Repository
		if cfg.HistoryDB != "" {
			if repo, err = openRepository(cfg); err != nil {
				return err
			}
			defer repo.Close()
		}
		return cleanupOrphanedFiles(out, repo, cfg)
	}

	if !cleanupAll && cleanupRun == "" {
		return fmt.Errorf("must specify --all, --run, or --orphaned")
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	if cleanupAll {
		return cleanupAllRuns(out, repo)
	}
	return cleanupSpecificRun(out, repo, cleanupRun)
}

func cleanupAllRuns(out io.Writer, repo *db.Repository) error {
	runs, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	var pending []*db.Run
	for _, run := range runs {
		if run.Status != db.StatusComplete && run.Status != db.StatusCleaned {
			pending = append(pending, run)
		}
	}

	fmt.Fprintf(out, "🧹 Cleaning up %d runs...\n", len(pending))

	for _, run := range pending {
		if err := cleanupRunArtifacts(repo, run); err != nil {
			fmt.Fprintf(out, "⚠️  Failed to clean %s: %v\n", run.ID, err)
		} else {
			fmt.Fprintf(out, "✅ Cleaned: %s\n", run.ID)
		}
	}

	return nil
}

func cleanupSpecificRun(out io.Writer, repo *db.Repository, id string) error {
	run, err := repo.Get(id)
	if err != nil {
		return errors.Wrap(err, "run lookup failed")
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", id)
	}

	fmt.Fprintf(out, "🧹 Cleaning up %s...\n", id)

	if err := cleanupRunArtifacts(repo, run); err != nil {
		return errors.Wrap(err, "cleanup failed")
	}

	fmt.Fprintf(out, "✅ Cleaned: %s\n", id)
	return nil
}

// cleanupRunArtifacts removes the files a run left behind and marks it
// cleaned. The source image is never touched.
func cleanupRunArtifacts(repo *db.Repository, run *db.Run) error {
	for _, p := range run.Artifacts() {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, fmt.Sprintf("failed to remove %s", p))
		}
	}

	run.DecompressedPath = ""
	run.DiskPath = ""
	run.DownloadPath = ""
	run.Status = db.StatusCleaned
	if err := repo.Update(run); err != nil {
		return errors.Wrap(err, "failed to update database")
	}

	return nil
}

// cleanupOrphanedFiles removes a stray converted disk and interrupted partial
// outputs. With a ledger it also removes downloads no unfinished run refers
// to. Only files the tool names itself are considered.
func cleanupOrphanedFiles(out io.Writer, repo *db.Repository, cfg *config.Config) error {
	fmt.Fprintln(out, "🔍 Scanning for orphaned files...")

	var candidates []string
	candidates = append(candidates, filepath.Join(cfg.WorkDir, hypervisor.TempDiskName))
	if partials, err := filepath.Glob(filepath.Join(cfg.WorkDir, decompress.PartialPattern)); err == nil {
		candidates = append(candidates, partials...)
	}

	inUse := map[string]bool{}
	if repo != nil {
		runs, err := repo.List()
		if err != nil {
			return errors.Wrap(err, "list failed")
		}
		for _, run := range runs {
			if run.Status == db.StatusFailed || run.Status == db.StatusComplete || run.Status == db.StatusCleaned {
				continue
			}
			for _, p := range run.Artifacts() {
				inUse[p] = true
			}
		}

		downloadDir := filepath.Join(cfg.WorkDir, storage.DownloadDir)
		if entries, err := os.ReadDir(downloadDir); err == nil {
			for _, entry := range entries {
				if entry.Type().IsRegular() {
					candidates = append(candidates, filepath.Join(downloadDir, entry.Name()))
				}
			}
		}
	}

	orphanCount := 0
	for _, p := range candidates {
		if inUse[p] {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := os.Remove(p); err != nil {
			fmt.Fprintf(out, "⚠️  Failed to remove orphaned file %s: %v\n", p, err)
			continue
		}
		fmt.Fprintf(out, "🗑️  Removed orphaned file: %s\n", p)
		orphanCount++
	}

	fmt.Fprintf(out, "✅ Removed %d orphaned files\n", orphanCount)
	return nil
}
