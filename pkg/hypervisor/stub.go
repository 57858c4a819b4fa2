//go:build !linux

package hypervisor

import (
	"context"
	"fmt"
	"runtime"

	"github.com/img2kvm/img2kvm/pkg/errors"
)

// StubManager is a no-op manager for platforms without Proxmox VE
type StubManager struct{}

// NewManager creates a stub manager on non-Linux systems
func NewManager(opts Options) (Manager, error) {
	return &StubManager{}, nil
}

func (m *StubManager) ConvertImage(ctx context.Context, src, dst string) (*Result, error) {
	return nil, errors.E(errors.KindExternalProcess, "qemu-img failed", "", fmt.Errorf("not supported on %s", runtime.GOOS))
}

func (m *StubManager) ImportDisk(ctx context.Context, vmID int, disk, storage string) (*Result, error) {
	return nil, errors.E(errors.KindExternalProcess, "qm importdisk failed", "", fmt.Errorf("not supported on %s", runtime.GOOS))
}

func (m *StubManager) Close() error {
	return nil
}
