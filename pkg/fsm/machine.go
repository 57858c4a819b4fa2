// Package fsm implements the conversion run as a finite state machine.
// It orchestrates resolving the source, decompression, qcow2 conversion,
// disk import and cleanup using the superfly/fsm library.
package fsm

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/superfly/fsm"

	"github.com/img2kvm/img2kvm/pkg/db"
	"github.com/img2kvm/img2kvm/pkg/decompress"
	"github.com/img2kvm/img2kvm/pkg/errors"
	"github.com/img2kvm/img2kvm/pkg/hypervisor"
	"github.com/img2kvm/img2kvm/pkg/storage"
)

// Machine holds dependencies for FSM transitions
type Machine struct {
	engine   *decompress.Engine
	hv       hypervisor.Manager
	repo     *db.Repository
	s3Client *storage.Client
	out      io.Writer

	errs sync.Map
}

// NewMachine creates a new FSM machine with dependencies. repo and s3Client
// may be nil when the run ledger or S3 sources are not configured. Progress
// lines are written to out, or stdout when out is nil.
func NewMachine(
	engine *decompress.Engine,
	hv hypervisor.Manager,
	repo *db.Repository,
	s3Client *storage.Client,
	out io.Writer,
) *Machine {
	if out == nil {
		out = os.Stdout
	}
	return &Machine{
		engine:   engine,
		hv:       hv,
		repo:     repo,
		s3Client: s3Client,
		out:      out,
	}
}

// Register registers the conversion FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[RunRequest, RunResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[RunRequest, RunResponse](manager, "img2kvm-run").
		Start(StateResolve, m.handleResolve).
		To(StateClassify, m.handleClassify).
		To(StateDecompress, m.handleDecompress).
		To(StateConvert, m.handleConvert).
		To(StateImport, m.handleImport).
		To(StateCleanup, m.handleCleanup).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// Err returns the error that aborted run runID, or nil if it did not fail.
func (m *Machine) Err(runID string) error {
	if v, ok := m.errs.Load(runID); ok {
		return v.(error)
	}
	return nil
}

// CheckToolsHealth reports for each external tool whether it can be found.
// Values are "ok" or the lookup error.
func CheckToolsHealth(opts hypervisor.Options) map[string]string {
	tools := map[string]string{
		hypervisor.DefaultQemuImgPath: opts.QemuImgPath,
		hypervisor.DefaultQmPath:      opts.QmPath,
	}

	health := make(map[string]string, len(tools))
	for name, bin := range tools {
		if bin == "" {
			bin = name
		}
		if _, err := exec.LookPath(bin); err != nil {
			health[name] = err.Error()
			continue
		}
		health[name] = "ok"
	}
	return health
}
