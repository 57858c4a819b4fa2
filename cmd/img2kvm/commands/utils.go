package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/img2kvm/img2kvm/internal/config"
	"github.com/img2kvm/img2kvm/pkg/db"
	"github.com/img2kvm/img2kvm/pkg/errors"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(historyDB, fsmDBPath, workDir string) error {
	// Create ledger directory (only when the ledger is enabled)
	if historyDB != "" {
		if err := os.MkdirAll(filepath.Dir(historyDB), 0755); err != nil {
			return errors.Wrap(err, "failed to create database directory")
		}
	}

	// Create FSM database directory (temporary when unset)
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	if workDir != "" {
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create work directory")
		}
	}

	return nil
}

// openRepository opens the run ledger, which ledger commands require.
func openRepository(cfg *config.Config) (*db.Repository, error) {
	if cfg.HistoryDB == "" {
		return nil, fmt.Errorf("history-db is not set; enable the run ledger with --history-db or IMG2KVM_HISTORY_DB")
	}
	if err := ensureDirectories(cfg.HistoryDB, "", ""); err != nil {
		return nil, err
	}

	repo, err := db.NewRepository(cfg.HistoryDB)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}
	return repo, nil
}

// orDash renders empty table cells as "-"
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
