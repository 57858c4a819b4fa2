package fsm

// RunRequest is the FSM input
type RunRequest struct {
	RunID     string
	ImageName string
	VMID      int
	Storage   string
}

// RunResponse is the FSM output (accumulated across transitions)
type RunResponse struct {
	// From Resolve
	SourcePath   string
	DownloadPath string

	// From Classify
	Format string

	// From Decompress
	ImagePath    string
	Decompressed bool

	// From Convert
	DiskPath string

	// From Complete/Failed
	Status       string
	ErrorMessage string
}

// State names
const (
	StateResolve    = "resolve"
	StateClassify   = "classify"
	StateDecompress = "decompress"
	StateConvert    = "convert"
	StateImport     = "import"
	StateCleanup    = "cleanup"
	StateComplete   = "complete"
	StateFailed     = "failed"
)
