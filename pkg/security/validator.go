package security

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
)

// ErrLimitExceeded is wrapped by every limit violation.
var ErrLimitExceeded = errors.New("security: limit exceeded")

// Validator enforces limits on decompressed payloads. A zero limit disables
// the corresponding check.
type Validator struct {
	maxOutputSize       int64
	maxCompressionRatio float64

	mu               sync.Mutex
	currentTotalSize int64
}

// NewValidator creates a new security validator
func NewValidator(maxOutputSize int64, maxCompressionRatio float64) *Validator {
	slog.Info("security_validator_init",
		"max_output_size", humanize.IBytes(uint64(max(maxOutputSize, 0))),
		"max_compression_ratio", maxCompressionRatio)

	return &Validator{
		maxOutputSize:       maxOutputSize,
		maxCompressionRatio: maxCompressionRatio,
	}
}

// ValidateFileSize checks a declared decompressed size, such as a zip entry's
// uncompressed size, against the output limit before decoding starts.
func (v *Validator) ValidateFileSize(size int64) error {
	if v.maxOutputSize > 0 && size > v.maxOutputSize {
		slog.Error("security_file_size_exceeded",
			"file_size_mb", size/1024/1024,
			"max_output_size_mb", v.maxOutputSize/1024/1024)
		return fmt.Errorf("%w: declared size %d exceeds max %d", ErrLimitExceeded, size, v.maxOutputSize)
	}
	return nil
}

// AddExtractedSize tracks total decoded size and checks against limit
func (v *Validator) AddExtractedSize(size int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.currentTotalSize += size

	if v.maxOutputSize > 0 && v.currentTotalSize > v.maxOutputSize {
		slog.Error("security_total_size_exceeded",
			"current_total_mb", v.currentTotalSize/1024/1024,
			"max_output_mb", v.maxOutputSize/1024/1024)
		return fmt.Errorf("%w: decompressed size %d exceeds max %d",
			ErrLimitExceeded, v.currentTotalSize, v.maxOutputSize)
	}

	return nil
}

// ValidateCompressionRatio checks for compression bombs
func (v *Validator) ValidateCompressionRatio(compressedSize, uncompressedSize int64) error {
	if v.maxCompressionRatio <= 0 {
		return nil
	}
	if compressedSize == 0 {
		slog.Error("security_compression_validation_failed", "reason", "zero_compressed_size")
		return fmt.Errorf("security: compressed size cannot be zero")
	}

	ratio := float64(uncompressedSize) / float64(compressedSize)

	if ratio > v.maxCompressionRatio {
		slog.Error("security_compression_bomb_detected",
			"ratio", ratio,
			"max_ratio", v.maxCompressionRatio,
			"compressed_mb", compressedSize/1024/1024,
			"uncompressed_mb", uncompressedSize/1024/1024)
		return fmt.Errorf("%w: compression ratio %.2f exceeds max %.2f (compressed: %d, uncompressed: %d)",
			ErrLimitExceeded, ratio, v.maxCompressionRatio, compressedSize, uncompressedSize)
	}

	slog.Info("security_compression_validated", "ratio", ratio, "compressed_mb", compressedSize/1024/1024, "uncompressed_mb", uncompressedSize/1024/1024)
	return nil
}

// Reset resets the total size counter
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.currentTotalSize = 0
}

// GetCurrentTotalSize returns the current total decoded size
func (v *Validator) GetCurrentTotalSize() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentTotalSize
}

// Writer returns a writer that counts every byte written to w against the
// output limit and fails the write once it is exceeded.
func (v *Validator) Writer(w io.Writer) io.Writer {
	return &limitedWriter{v: v, w: w}
}

type limitedWriter struct {
	v *Validator
	w io.Writer
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if err := lw.v.AddExtractedSize(int64(len(p))); err != nil {
		return 0, err
	}
	return lw.w.Write(p)
}
