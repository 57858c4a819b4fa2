//go:build linux

package hypervisor

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"

	"github.com/img2kvm/img2kvm/pkg/errors"
)

// LinuxManager drives qemu-img and qm on a Proxmox VE host
type LinuxManager struct {
	qemuImgPath string
	qmPath      string
}

// NewManager creates a Linux manager
func NewManager(opts Options) (Manager, error) {
	m := &LinuxManager{
		qemuImgPath: opts.QemuImgPath,
		qmPath:      opts.QmPath,
	}
	if m.qemuImgPath == "" {
		m.qemuImgPath = DefaultQemuImgPath
	}
	if m.qmPath == "" {
		m.qmPath = DefaultQmPath
	}

	slog.Info("hypervisor_init", "qemu_img", m.qemuImgPath, "qm", m.qmPath, "platform", "linux")

	for _, bin := range []string{m.qemuImgPath, m.qmPath} {
		if _, err := exec.LookPath(bin); err != nil {
			// Not fatal here: the failing step reports it with full context.
			slog.Warn("hypervisor_tool_not_found", "tool", bin, "error", err)
		}
	}

	return m, nil
}

func (m *LinuxManager) ConvertImage(ctx context.Context, src, dst string) (*Result, error) {
	slog.Info("convert_image_start", "src", src, "dst", dst)

	res, err := run(ctx, "qemu-img", m.qemuImgPath, "convert", "-f", "raw", "-O", "qcow2", src, dst)
	if err != nil {
		return res, err
	}

	slog.Info("convert_image_complete", "dst", dst)
	return res, nil
}

func (m *LinuxManager) ImportDisk(ctx context.Context, vmID int, disk, storage string) (*Result, error) {
	slog.Info("import_disk_start", "vm_id", vmID, "disk", disk, "storage", storage)

	res, err := run(ctx, "qm importdisk", m.qmPath, "importdisk", strconv.Itoa(vmID), disk, storage)
	if err != nil {
		return res, err
	}

	slog.Info("import_disk_complete", "vm_id", vmID, "storage", storage)
	return res, nil
}

func (m *LinuxManager) Close() error {
	return nil
}

// run executes bin and waits for it, capturing stdout and stderr separately.
// tool names the step in error messages.
func run(ctx context.Context, tool, bin string, args ...string) (*Result, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	perr := &ProcessError{Tool: tool, Args: args, ExitCode: -1, Err: err}
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		perr.ExitCode = exitErr.ExitCode()
		perr.Output = res.Stderr
		if perr.Output == "" {
			perr.Output = res.Stdout
		}
		slog.Error("external_command_failed", "tool", tool, "exit_code", perr.ExitCode, "stderr", res.Stderr)
		return res, errors.E(errors.KindExternalProcess, fmt.Sprintf("%s failed", tool), "", perr)
	}

	slog.Error("external_command_spawn_failed", "tool", tool, "bin", bin, "error", err)
	return res, errors.E(errors.KindExternalProcess, fmt.Sprintf("failed to execute %s command", tool), "", perr)
}
