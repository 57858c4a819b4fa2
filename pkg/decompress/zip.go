package decompress

import (
	"context"
	"log/slog"
	"os"

	"github.com/klauspost/compress/zip"

	"github.com/img2kvm/img2kvm/pkg/errors"
)

// decompressZip extracts the entry at index 0 of the archive. Other entries
// are ignored; no entry is searched for by name or size.
func (e *Engine) decompressZip(ctx context.Context, src string) (string, error) {
	slog.Info("decompress_start", "path", src, "format", "zip")

	f, err := os.Open(src)
	if err != nil {
		slog.Error("decompress_open_failed", "path", src, "error", err)
		return "", errors.E(errors.KindIO, "failed to open zip file", src, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", errors.E(errors.KindIO, "failed to stat zip file", src, err)
	}

	archive, err := zip.NewReader(f, fi.Size())
	if err != nil {
		slog.Error("zip_read_failed", "path", src, "error", err)
		return "", errors.E(errors.KindDecode, "failed to read zip archive", src, err)
	}

	if len(archive.File) == 0 {
		slog.Error("zip_empty", "path", src)
		return "", errors.E(errors.KindDecode, "zip archive is empty", src, nil)
	}

	entry := archive.File[0]
	slog.Info("zip_entry_selected",
		"path", src,
		"entry", entry.Name,
		"entries", len(archive.File),
		"uncompressed_size", entry.UncompressedSize64)

	if err := e.validator.ValidateFileSize(int64(entry.UncompressedSize64)); err != nil {
		return "", errors.E(errors.KindDecode, "zip entry rejected", src, err)
	}

	rc, err := entry.Open()
	if err != nil {
		slog.Error("zip_entry_open_failed", "path", src, "entry", entry.Name, "error", err)
		return "", errors.E(errors.KindDecode, "failed to access first file in zip archive", src, err)
	}
	defer rc.Close()

	return e.writeOutput(ctx, src, "zip", rc, fi.Size())
}
