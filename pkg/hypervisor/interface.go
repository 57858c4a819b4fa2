package hypervisor

import (
	"context"
	"fmt"
	"strings"
)

// Result holds the output a tool produced. It is captured in full and only
// available after the tool exited.
type Result struct {
	Stdout string
	Stderr string
}

// Options selects the tool binaries.
type Options struct {
	QemuImgPath string
	QmPath      string
}

// Manager runs the external conversion and attach tools
type Manager interface {
	// ConvertImage converts the raw image at src into a qcow2 image at dst
	ConvertImage(ctx context.Context, src, dst string) (*Result, error)

	// ImportDisk attaches disk to VM vmID on the given storage pool
	ImportDisk(ctx context.Context, vmID int, disk, storage string) (*Result, error)

	// Close cleans up resources
	Close() error
}

// ProcessError describes a tool that could not be started or exited with a
// non-zero status. Output is the tool's captured stderr, or stdout when
// stderr was empty.
type ProcessError struct {
	Tool     string
	Args     []string
	ExitCode int // -1 when the process never ran or was killed by a signal
	Output   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.ExitCode < 0 {
		return e.Err.Error()
	}
	out := strings.TrimRight(e.Output, "\n")
	if out == "" {
		return fmt.Sprintf("exit status %d", e.ExitCode)
	}
	return fmt.Sprintf("exit status %d: %s", e.ExitCode, out)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}
