package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"github.com/superfly/fsm"

	"github.com/img2kvm/img2kvm/pkg/db"
	"github.com/img2kvm/img2kvm/pkg/decompress"
	"github.com/img2kvm/img2kvm/pkg/errors"
	appfsm "github.com/img2kvm/img2kvm/pkg/fsm"
	"github.com/img2kvm/img2kvm/pkg/hypervisor"
	"github.com/img2kvm/img2kvm/pkg/security"
	"github.com/img2kvm/img2kvm/pkg/storage"
)

var (
	imageName string
	vmID      int
)

func runConvert(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if vmID < 0 {
		return fmt.Errorf("invalid vm-id %d", vmID)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Ensure all necessary directories exist
	if err := ensureDirectories(cfg.HistoryDB, cfg.FSMDBPath, cfg.WorkDir); err != nil {
		return err
	}

	var repo *db.Repository
	if cfg.HistoryDB != "" {
		repo, err = db.NewRepository(cfg.HistoryDB)
		if err != nil {
			return errors.Wrap(err, "db init failed")
		}
		defer repo.Close()
	}

	var s3Client *storage.Client
	if storage.IsRemote(imageName) {
		s3Client, err = storage.NewClient(ctx, cfg.S3Region, cfg.S3Anonymous)
		if err != nil {
			return errors.Wrap(err, "S3 client failed")
		}
	}

	validator := security.NewValidator(cfg.MaxOutputSize, cfg.MaxCompressionRatio)
	engine := decompress.NewEngine(decompress.Options{
		WorkDir:         cfg.WorkDir,
		LzmaMemLimitKiB: cfg.LzmaMemLimitKiB,
		Validator:       validator,
	})

	hv, err := hypervisor.NewManager(hypervisor.Options{QemuImgPath: cfg.QemuImgPath, QmPath: cfg.QmPath})
	if err != nil {
		return errors.Wrap(err, "hypervisor init failed")
	}
	defer hv.Close()

	fsmDBPath := cfg.FSMDBPath
	if fsmDBPath == "" {
		dir, err := os.MkdirTemp("", "img2kvm-fsm-")
		if err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
		defer os.RemoveAll(dir)
		fsmDBPath = dir
	}

	manager, err := fsm.New(fsm.Config{DBPath: fsmDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := appfsm.NewMachine(engine, hv, repo, s3Client, cmd.OutOrStdout())
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	runID := ulid.Make().String()
	req := &appfsm.RunRequest{
		RunID:     runID,
		ImageName: imageName,
		VMID:      vmID,
		Storage:   cfg.Storage,
	}
	resp := &appfsm.RunResponse{}

	version, err := start(ctx, runID, fsm.NewRequest(req, resp))
	if err != nil {
		return errors.Wrap(err, "FSM start failed")
	}

	slog.Info("fsm started", "run_id", runID, "version", version)

	waitErr := manager.Wait(ctx, version)
	// The phase error is the one worth showing; the FSM only knows it aborted.
	if runErr := machine.Err(runID); runErr != nil {
		return runErr
	}
	if waitErr != nil {
		return errors.Wrap(waitErr, "FSM execution failed")
	}

	slog.Info("convert completed", "run_id", runID, "vm_id", vmID, "storage", cfg.Storage)
	return nil
}
