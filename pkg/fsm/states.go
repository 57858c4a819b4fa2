package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/superfly/fsm"

	"github.com/img2kvm/img2kvm/pkg/db"
	"github.com/img2kvm/img2kvm/pkg/decompress"
	"github.com/img2kvm/img2kvm/pkg/errors"
	"github.com/img2kvm/img2kvm/pkg/format"
	"github.com/img2kvm/img2kvm/pkg/hypervisor"
	"github.com/img2kvm/img2kvm/pkg/storage"
)

type phase func(ctx context.Context, msg *RunRequest, resp *RunResponse) error

// step adapts a phase to an FSM transition. Every failure aborts the run.
func (m *Machine) step(ctx context.Context, req *fsm.Request[RunRequest, RunResponse], name string, p phase) (*fsm.Response[RunResponse], error) {
	slog.Info("fsm_state_"+name, "run_id", req.Msg.RunID, "image", req.Msg.ImageName)

	resp := req.W.Msg
	if resp == nil {
		if name != StateResolve {
			return nil, m.fail(req.Msg, &RunResponse{}, fmt.Errorf("response not initialized"))
		}
		resp = &RunResponse{}
	}

	if err := p(ctx, req.Msg, resp); err != nil {
		return nil, m.fail(req.Msg, resp, err)
	}
	return fsm.NewResponse(resp), nil
}

func (m *Machine) handleResolve(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	return m.step(ctx, req, StateResolve, m.resolve)
}

func (m *Machine) handleClassify(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	return m.step(ctx, req, StateClassify, m.classify)
}

func (m *Machine) handleDecompress(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	return m.step(ctx, req, StateDecompress, m.decompress)
}

func (m *Machine) handleConvert(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	return m.step(ctx, req, StateConvert, m.convert)
}

func (m *Machine) handleImport(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	return m.step(ctx, req, StateImport, m.importDisk)
}

func (m *Machine) handleCleanup(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	return m.step(ctx, req, StateCleanup, m.cleanup)
}

func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	return m.step(ctx, req, StateComplete, m.complete)
}

// resolve fetches remote sources and canonicalizes the local image path.
func (m *Machine) resolve(ctx context.Context, msg *RunRequest, resp *RunResponse) error {
	if m.repo != nil {
		run := &db.Run{
			ID:      msg.RunID,
			Source:  msg.ImageName,
			VMID:    msg.VMID,
			Storage: msg.Storage,
			Status:  db.StatusPending,
		}
		if err := m.repo.Create(run); err != nil {
			return errors.Wrap(err, "failed to create run record")
		}
	}

	source := msg.ImageName
	if storage.IsRemote(source) {
		local, err := m.download(ctx, source)
		if err != nil {
			return err
		}
		resp.DownloadPath = local
		source = local
	}

	abs, err := filepath.Abs(source)
	if err == nil {
		abs, err = filepath.EvalSymlinks(abs)
	}
	if err != nil {
		slog.Error("canonicalize_failed", "image", source, "error", err)
		return errors.E(errors.KindIO, "failed to canonicalize image path", source, err)
	}
	resp.SourcePath = abs

	slog.Info("source_resolved", "run_id", msg.RunID, "path", abs)
	return m.record(msg, resp, db.StatusPending)
}

func (m *Machine) download(ctx context.Context, name string) (string, error) {
	loc, err := storage.ParseLocation(name)
	if err != nil {
		return "", errors.E(errors.KindPath, "invalid image name", name, err)
	}
	if m.s3Client == nil {
		return "", errors.E(errors.KindIO, "S3 source given but no S3 client configured", name, nil)
	}

	downloadDir := filepath.Join(m.engine.WorkDir(), storage.DownloadDir)
	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		slog.Error("download_dir_creation_failed", "path", downloadDir, "error", err)
		return "", errors.E(errors.KindIO, "failed to create download dir", downloadDir, err)
	}

	fmt.Fprintf(m.out, "download %s...\n", loc)
	result, err := m.s3Client.Download(ctx, loc, filepath.Join(downloadDir, path.Base(loc.Key)))
	if err != nil {
		return "", err
	}
	return result.LocalPath, nil
}

// classify picks the handling strategy from the file extension.
func (m *Machine) classify(ctx context.Context, msg *RunRequest, resp *RunResponse) error {
	tag, err := format.Classify(resp.SourcePath)
	if err != nil {
		return err
	}
	resp.Format = tag.String()
	return m.record(msg, resp, db.StatusPending)
}

// decompress turns compressed sources into a raw image in the work dir.
// Raw images pass through unchanged.
func (m *Machine) decompress(ctx context.Context, msg *RunRequest, resp *RunResponse) error {
	tag, ok := format.ParseTag(resp.Format)
	if !ok {
		return errors.E(errors.KindUnsupportedFormat, fmt.Sprintf("unknown format %q", resp.Format), resp.SourcePath, nil)
	}

	if !tag.Compressed() {
		resp.ImagePath = resp.SourcePath
		resp.Decompressed = false
		return m.record(msg, resp, db.StatusPending)
	}

	if err := m.record(msg, resp, db.StatusDecompressing); err != nil {
		return err
	}

	fmt.Fprintf(m.out, "decompress %s file %s...\n", decompress.Label(tag), resp.SourcePath)
	out, err := m.engine.Resolve(ctx, tag, resp.SourcePath)
	if err != nil {
		return err
	}
	resp.ImagePath = out
	resp.Decompressed = true
	return m.record(msg, resp, db.StatusDecompressing)
}

// convert writes the qcow2 disk next to the decompressed image.
func (m *Machine) convert(ctx context.Context, msg *RunRequest, resp *RunResponse) error {
	resp.DiskPath = filepath.Join(m.engine.WorkDir(), hypervisor.TempDiskName)
	if err := m.record(msg, resp, db.StatusConverting); err != nil {
		return err
	}

	fmt.Fprintln(m.out, "--- convert img to qcow2...")
	res, err := m.hv.ConvertImage(ctx, resp.ImagePath, resp.DiskPath)
	if err != nil {
		return err
	}
	fmt.Fprintln(m.out, res.Stdout)
	return nil
}

func (m *Machine) importDisk(ctx context.Context, msg *RunRequest, resp *RunResponse) error {
	if err := m.record(msg, resp, db.StatusImporting); err != nil {
		return err
	}

	fmt.Fprintln(m.out, "--- importdisk...")
	res, err := m.hv.ImportDisk(ctx, msg.VMID, resp.DiskPath, msg.Storage)
	if err != nil {
		return err
	}
	fmt.Fprintln(m.out, res.Stdout)
	return nil
}

// cleanup removes the converted disk, the decompressed image (never a raw
// source) and any downloaded copy.
func (m *Machine) cleanup(ctx context.Context, msg *RunRequest, resp *RunResponse) error {
	fmt.Fprintln(m.out, "--- remove temp file...")

	if err := os.Remove(resp.DiskPath); err != nil {
		slog.Error("remove_disk_failed", "path", resp.DiskPath, "error", err)
		return errors.E(errors.KindIO, "failed to remove temporary qcow2 file", resp.DiskPath, err)
	}
	resp.DiskPath = ""

	if resp.Decompressed {
		if err := os.Remove(resp.ImagePath); err != nil {
			slog.Error("remove_image_failed", "path", resp.ImagePath, "error", err)
			return errors.E(errors.KindIO, "failed to remove decompressed image file", resp.ImagePath, err)
		}
		resp.Decompressed = false
	}

	if resp.DownloadPath != "" {
		if err := os.Remove(resp.DownloadPath); err != nil {
			slog.Error("remove_download_failed", "path", resp.DownloadPath, "error", err)
			return errors.E(errors.KindIO, "failed to remove downloaded image", resp.DownloadPath, err)
		}
		resp.DownloadPath = ""
	}

	slog.Info("cleanup_complete", "run_id", msg.RunID)
	return nil
}

func (m *Machine) complete(ctx context.Context, msg *RunRequest, resp *RunResponse) error {
	resp.Status = db.StatusComplete
	if err := m.record(msg, resp, db.StatusComplete); err != nil {
		return err
	}

	fmt.Fprintln(m.out, "--- success")
	slog.Info("fsm_complete", "run_id", msg.RunID, "vm_id", msg.VMID, "storage", msg.Storage)
	return nil
}

// record mirrors resp into the run ledger, if one is configured.
func (m *Machine) record(msg *RunRequest, resp *RunResponse, status string) error {
	if m.repo == nil {
		return nil
	}

	run := &db.Run{
		ID:           msg.RunID,
		SourcePath:   resp.SourcePath,
		DownloadPath: resp.DownloadPath,
		Format:       resp.Format,
		DiskPath:     resp.DiskPath,
		Status:       status,
		ErrorMessage: resp.ErrorMessage,
	}
	if resp.Decompressed {
		run.DecompressedPath = resp.ImagePath
	}

	if err := m.repo.Update(run); err != nil {
		return errors.Wrap(err, "failed to update run record")
	}
	return nil
}

// fail marks the run failed and aborts the FSM. Artifacts created so far are
// left in place and stay listed in the ledger for the cleanup command.
func (m *Machine) fail(msg *RunRequest, resp *RunResponse, err error) error {
	slog.Error("fsm_run_failed", "run_id", msg.RunID, "error", err)

	m.errs.Store(msg.RunID, err)
	resp.Status = db.StatusFailed
	resp.ErrorMessage = err.Error()

	if rerr := m.record(msg, resp, db.StatusFailed); rerr != nil {
		slog.Warn("run_record_failed", "run_id", msg.RunID, "error", rerr)
	}

	return fsm.Abort(err)
}
