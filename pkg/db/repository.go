package db

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/img2kvm/img2kvm/pkg/errors"
	_ "modernc.org/sqlite"
)

const runColumns = `id, source, source_path, download_path, format, decompressed_path, disk_path,
       vm_id, storage, status, error_message, created_at, updated_at`

// Repository provides database operations for runs
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	slog.Info("database_create_schema", "db_path", dbPath)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new run record
func (r *Repository) Create(run *Run) error {
	slog.Info("database_create_run", "run_id", run.ID, "source", run.Source)

	query := `
		INSERT INTO runs (id, source, source_path, download_path, format, decompressed_path, disk_path,
		                  vm_id, storage, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query,
		run.ID, run.Source, run.SourcePath, run.DownloadPath, run.Format, run.DecompressedPath, run.DiskPath,
		run.VMID, run.Storage, run.Status, run.ErrorMessage)
	if err != nil {
		slog.Error("database_insert_failed", "run_id", run.ID, "error", err)
		return errors.Wrap(err, "failed to insert run")
	}

	slog.Info("database_run_created", "run_id", run.ID, "status", run.Status)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var sourcePath, downloadPath, format, decompressedPath, diskPath, errorMessage sql.NullString

	err := s.Scan(
		&run.ID, &run.Source, &sourcePath, &downloadPath, &format, &decompressedPath, &diskPath,
		&run.VMID, &run.Storage, &run.Status, &errorMessage, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	// Handle nullable fields
	run.SourcePath = sourcePath.String
	run.DownloadPath = downloadPath.String
	run.Format = format.String
	run.DecompressedPath = decompressedPath.String
	run.DiskPath = diskPath.String
	run.ErrorMessage = errorMessage.String

	return &run, nil
}

// Get retrieves a run by ID. It returns nil without error when no such run
// exists.
func (r *Repository) Get(id string) (*Run, error) {
	slog.Info("database_query_run", "run_id", id)

	run, err := scanRun(r.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		slog.Info("database_run_not_found", "run_id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "run_id", id, "error", err)
		return nil, errors.Wrap(err, "failed to query run")
	}

	slog.Info("database_run_found", "run_id", id, "status", run.Status)
	return run, nil
}

// Update updates an existing run record
func (r *Repository) Update(run *Run) error {
	slog.Info("database_update_run", "run_id", run.ID, "status", run.Status)

	query := `
		UPDATE runs
		SET source_path = ?, download_path = ?, format = ?, decompressed_path = ?, disk_path = ?,
		    status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		run.SourcePath, run.DownloadPath, run.Format, run.DecompressedPath, run.DiskPath,
		run.Status, run.ErrorMessage, run.ID)
	if err != nil {
		slog.Error("database_update_failed", "run_id", run.ID, "error", err)
		return errors.Wrap(err, "failed to update run")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		slog.Error("database_rows_affected_failed", "run_id", run.ID, "error", err)
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_run_not_found_for_update", "run_id", run.ID)
		return fmt.Errorf("run not found: id=%s", run.ID)
	}

	slog.Info("database_run_updated", "run_id", run.ID, "status", run.Status)
	return nil
}

// UpdateStatus updates only the status field
func (r *Repository) UpdateStatus(id, status, errorMessage string) error {
	slog.Info("database_update_status", "run_id", id, "status", status)

	query := `UPDATE runs SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.Exec(query, status, errorMessage, id); err != nil {
		slog.Error("database_status_update_failed", "run_id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}

	slog.Info("database_status_updated", "run_id", id, "status", status)
	return nil
}

// List retrieves all runs, newest first
func (r *Repository) List() ([]*Run, error) {
	return r.query(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC`)
}

// ListByStatus retrieves runs in the given status, newest first
func (r *Repository) ListByStatus(status string) ([]*Run, error) {
	return r.query(`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY created_at DESC, id DESC`, status)
}

func (r *Repository) query(query string, args ...any) ([]*Run, error) {
	slog.Info("database_list_runs")

	rows, err := r.db.Query(query, args...)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Info("database_list_complete", "run_count", len(runs))
	return runs, nil
}

// Delete deletes a run by ID
func (r *Repository) Delete(id string) error {
	slog.Info("database_delete_run", "run_id", id)

	if _, err := r.db.Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
		slog.Error("database_delete_failed", "run_id", id, "error", err)
		return errors.Wrap(err, "failed to delete run")
	}

	slog.Info("database_run_deleted", "run_id", id)
	return nil
}
