// Package decompress turns a compressed disk image into a single raw file in
// the working directory. Each supported format has its own decoder; all of
// them share the same output naming and failure contract.
package decompress

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/img2kvm/img2kvm/pkg/errors"
	"github.com/img2kvm/img2kvm/pkg/format"
	"github.com/img2kvm/img2kvm/pkg/security"
)

// PartialPrefix starts the name of every in-progress output file.
const PartialPrefix = ".img2kvm-"

// PartialPattern matches in-progress output files in the work dir.
const PartialPattern = PartialPrefix + "*.partial"

// DefaultLzmaMemLimitKiB bounds the memory a legacy .lzma decoder may claim,
// mostly its dictionary.
const DefaultLzmaMemLimitKiB = 64 * 1024

// Options configures an Engine.
type Options struct {
	// WorkDir receives the decompressed file. It is fixed for the run.
	WorkDir string
	// LzmaMemLimitKiB caps the decoder memory of .lzma files. Zero means
	// DefaultLzmaMemLimitKiB.
	LzmaMemLimitKiB int64
	// Validator limits decoded output. Nil disables the limits.
	Validator *security.Validator
}

// Engine decompresses source files into WorkDir.
type Engine struct {
	workDir      string
	lzmaMemLimit int64
	validator    *security.Validator
}

// NewEngine creates a decompression engine
func NewEngine(opts Options) *Engine {
	limit := opts.LzmaMemLimitKiB
	if limit <= 0 {
		limit = DefaultLzmaMemLimitKiB
	}
	validator := opts.Validator
	if validator == nil {
		validator = security.NewValidator(0, 0)
	}
	return &Engine{
		workDir:      opts.WorkDir,
		lzmaMemLimit: limit,
		validator:    validator,
	}
}

// WorkDir returns the directory decompressed files are written to.
func (e *Engine) WorkDir() string {
	return e.workDir
}

// Resolve returns the raw image path for src. Raw images are returned
// unchanged; compressed files are decompressed first.
func (e *Engine) Resolve(ctx context.Context, tag format.Tag, src string) (string, error) {
	switch tag {
	case format.RawImage, format.RawIso:
		slog.Info("decompress_skipped", "path", src, "tag", tag.String())
		return src, nil
	case format.Unsupported:
		return "", errors.E(errors.KindUnsupportedFormat, "unsupported file format", src, nil)
	}
	return e.Decompress(ctx, tag, src)
}

// Decompress decodes src according to tag and writes the payload to
// OutputPath(WorkDir, src). The output only appears once decoding finished
// without error; an existing file at that path is replaced.
func (e *Engine) Decompress(ctx context.Context, tag format.Tag, src string) (string, error) {
	switch tag {
	case format.Bzip2:
		return e.decompressStream(ctx, src, Label(tag), newBzip2Reader)
	case format.Gzip:
		return e.decompressStream(ctx, src, Label(tag), newGzipReader)
	case format.Lzma:
		return e.decompressStream(ctx, src, Label(tag), e.newLzmaReader)
	case format.Xz:
		return e.decompressStream(ctx, src, Label(tag), newXzReader)
	case format.Zip:
		return e.decompressZip(ctx, src)
	}
	return "", errors.E(errors.KindUnsupportedFormat, fmt.Sprintf("no decoder for %s", tag), src, nil)
}

var labels = map[format.Tag]string{
	format.Bzip2: "bz2",
	format.Gzip:  "gz",
	format.Lzma:  "lzma",
	format.Xz:    "xz",
	format.Zip:   "zip",
}

// Label is the short name used for tag in progress output and error
// messages, e.g. "gz" for gzip.
func Label(tag format.Tag) string {
	if l, ok := labels[tag]; ok {
		return l
	}
	return tag.String()
}

// decoderFunc wraps a decoder around the compressed stream r.
type decoderFunc func(r io.Reader) (io.Reader, error)

func (e *Engine) decompressStream(ctx context.Context, src, kind string, newDecoder decoderFunc) (string, error) {
	slog.Info("decompress_start", "path", src, "format", kind)

	f, err := os.Open(src)
	if err != nil {
		slog.Error("decompress_open_failed", "path", src, "error", err)
		return "", errors.E(errors.KindIO, fmt.Sprintf("failed to open %s file", kind), src, err)
	}
	defer f.Close()

	compressedSize := int64(0)
	if fi, err := f.Stat(); err == nil {
		compressedSize = fi.Size()
	}

	dec, err := newDecoder(f)
	if err != nil {
		slog.Error("decoder_init_failed", "path", src, "format", kind, "error", err)
		return "", errors.E(errors.KindDecode, fmt.Sprintf("failed to create %s decoder", kind), src, err)
	}
	if c, ok := dec.(io.Closer); ok {
		defer c.Close()
	}

	return e.writeOutput(ctx, src, kind, dec, compressedSize)
}

// writeOutput drains r into a temporary file next to the final output and
// renames it into place after r reached EOF.
func (e *Engine) writeOutput(ctx context.Context, src, kind string, r io.Reader, compressedSize int64) (string, error) {
	target, err := OutputPath(e.workDir, src)
	if err != nil {
		return "", err
	}

	e.validator.Reset()

	tmp, err := os.CreateTemp(e.workDir, PartialPrefix+filepath.Base(target)+".*.partial")
	if err != nil {
		slog.Error("output_create_failed", "path", target, "error", err)
		return "", errors.E(errors.KindIO, "failed to create decompressed file", target, err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	dr := &decodeReader{ctx: ctx, r: r}
	written, err := io.Copy(e.validator.Writer(tmp), dr)
	if err != nil {
		switch {
		case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
			return "", errors.Wrap(err, fmt.Sprintf("decompression of %s interrupted", src))
		case stderrors.Is(err, security.ErrLimitExceeded):
			return "", errors.E(errors.KindDecode, "decompressed payload rejected", src, err)
		case dr.err != nil:
			slog.Error("decompress_failed", "path", src, "format", kind, "error", err)
			return "", errors.E(errors.KindDecode, fmt.Sprintf("failed to decompress %s file", kind), src, err)
		default:
			slog.Error("output_write_failed", "path", target, "error", err)
			return "", errors.E(errors.KindIO, "failed to write decompressed data", target, err)
		}
	}

	if err := e.validator.ValidateCompressionRatio(compressedSize, written); err != nil {
		return "", errors.E(errors.KindDecode, "decompressed payload rejected", src, err)
	}

	if err := tmp.Chmod(0644); err != nil {
		slog.Error("output_chmod_failed", "path", tmp.Name(), "error", err)
		return "", errors.E(errors.KindIO, "failed to write decompressed data", target, err)
	}
	if err := tmp.Close(); err != nil {
		slog.Error("output_close_failed", "path", tmp.Name(), "error", err)
		return "", errors.E(errors.KindIO, "failed to write decompressed data", target, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		slog.Error("output_rename_failed", "from", tmp.Name(), "to", target, "error", err)
		return "", errors.E(errors.KindIO, "failed to create decompressed file", target, err)
	}
	committed = true

	slog.Info("decompress_complete",
		"path", src,
		"format", kind,
		"output", target,
		"size", humanize.IBytes(uint64(written)),
	)
	return target, nil
}

// decodeReader remembers read-side failures so they can be told apart from
// write failures, and stops early once ctx is done.
type decodeReader struct {
	ctx context.Context
	r   io.Reader
	err error
}

func (d *decodeReader) Read(p []byte) (int, error) {
	if err := d.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := d.r.Read(p)
	if err != nil && err != io.EOF {
		d.err = err
	}
	return n, err
}
