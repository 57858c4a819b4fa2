package db

// Schema defines the SQLite run ledger. Each row is one conversion run with
// the artifacts it created, so leftovers of failed runs can be found later.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    source_path TEXT,
    download_path TEXT,
    format TEXT,
    decompressed_path TEXT,
    disk_path TEXT,
    vm_id INTEGER NOT NULL,
    storage TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('pending', 'decompressing', 'converting', 'importing', 'complete', 'failed', 'cleaned')),
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// Status constants
const (
	StatusPending       = "pending"
	StatusDecompressing = "decompressing"
	StatusConverting    = "converting"
	StatusImporting     = "importing"
	StatusComplete      = "complete"
	StatusFailed        = "failed"
	StatusCleaned       = "cleaned"
)

// Run represents a conversion run record
type Run struct {
	ID               string
	Source           string
	SourcePath       string
	DownloadPath     string
	Format           string
	DecompressedPath string
	DiskPath         string
	VMID             int
	Storage          string
	Status           string
	ErrorMessage     string
	CreatedAt        string
	UpdatedAt        string
}

// Artifacts lists the intermediate files the run may have left on disk.
func (r *Run) Artifacts() []string {
	var paths []string
	for _, p := range []string{r.DecompressedPath, r.DiskPath, r.DownloadPath} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}
