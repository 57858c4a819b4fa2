package db

import (
	"path/filepath"
	"testing"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepository(t)

	run := &Run{
		ID:      "01J0000000000000000000000A",
		Source:  "openwrt.img.gz",
		VMID:    100,
		Storage: "local-lvm",
		Status:  StatusPending,
	}

	if err := repo.Create(run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	retrieved, err := repo.Get(run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}

	if retrieved.Source != run.Source || retrieved.VMID != run.VMID || retrieved.Storage != run.Storage {
		t.Errorf("retrieved run mismatch: got %+v, want %+v", retrieved, run)
	}
	if retrieved.DecompressedPath != "" || retrieved.DiskPath != "" {
		t.Errorf("expected empty artifact paths, got %+v", retrieved)
	}
}

func TestRepository_GetMissing(t *testing.T) {
	repo := newTestRepository(t)

	run, err := repo.Get("missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run != nil {
		t.Errorf("expected nil run, got %+v", run)
	}
}

func TestRepository_UpdateAndStatus(t *testing.T) {
	repo := newTestRepository(t)

	run := &Run{ID: "run-1", Source: "disk.img.xz", VMID: 101, Storage: "local-lvm", Status: StatusPending}
	if err := repo.Create(run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	run.Format = "xz"
	run.DecompressedPath = "/work/disk.img"
	run.Status = StatusConverting
	if err := repo.Update(run); err != nil {
		t.Fatalf("failed to update run: %v", err)
	}

	if err := repo.UpdateStatus(run.ID, StatusFailed, "qemu-img failed: exit status 1"); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}

	updated, _ := repo.Get(run.ID)
	if updated.Status != StatusFailed {
		t.Errorf("status not updated: got %s, want %s", updated.Status, StatusFailed)
	}
	if updated.DecompressedPath != "/work/disk.img" || updated.Format != "xz" {
		t.Errorf("update lost fields: %+v", updated)
	}
	if got := updated.Artifacts(); len(got) != 1 || got[0] != "/work/disk.img" {
		t.Errorf("unexpected artifacts %v", got)
	}
}

func TestRepository_UpdateMissing(t *testing.T) {
	repo := newTestRepository(t)

	if err := repo.Update(&Run{ID: "missing", Status: StatusFailed}); err == nil {
		t.Error("expected error updating a missing run")
	}
}

func TestRepository_ListAndDelete(t *testing.T) {
	repo := newTestRepository(t)

	repo.Create(&Run{ID: "a", Source: "a.img", VMID: 1, Storage: "local-lvm", Status: StatusComplete})
	repo.Create(&Run{ID: "b", Source: "b.img.gz", VMID: 2, Storage: "local-lvm", Status: StatusFailed})

	runs, err := repo.List()
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}

	failed, err := repo.ListByStatus(StatusFailed)
	if err != nil {
		t.Fatalf("failed to list failed runs: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "b" {
		t.Errorf("unexpected failed runs %+v", failed)
	}

	if err := repo.Delete("a"); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	runs, _ = repo.List()
	if len(runs) != 1 {
		t.Errorf("expected 1 run after delete, got %d", len(runs))
	}
}
