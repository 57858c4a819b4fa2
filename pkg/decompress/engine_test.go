package decompress_test

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/img2kvm/img2kvm/pkg/decompress"
	"github.com/img2kvm/img2kvm/pkg/errors"
	"github.com/img2kvm/img2kvm/pkg/format"
	"github.com/img2kvm/img2kvm/pkg/security"
)

var fixturePayload = bytes.Repeat([]byte("img2kvm fixture payload\n"), 64)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func xzBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func lzmaBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type zipEntry struct {
	name string
	data []byte
}

func zipBytes(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		fw, err := w.Create(e.name)
		require.NoError(t, err)
		_, err = fw.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return b
}

// writeSource places data under a fresh source directory, separate from the
// engine's work dir.
func writeSource(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func newEngine(t *testing.T) (*decompress.Engine, string) {
	t.Helper()
	workDir := t.TempDir()
	return decompress.NewEngine(decompress.Options{WorkDir: workDir}), workDir
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "expected no files left in %s", dir)
}

func TestDecompress_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		file string
		data func(t *testing.T) []byte
		want []byte
		stem string
	}{
		{"gzip", "disk.img.gz", func(t *testing.T) []byte { return gzipBytes(t, fixturePayload) }, fixturePayload, "disk.img"},
		{"xz", "disk.img.xz", func(t *testing.T) []byte { return xzBytes(t, fixturePayload) }, fixturePayload, "disk.img"},
		{"lzma", "disk.img.lzma", func(t *testing.T) []byte { return lzmaBytes(t, fixturePayload) }, fixturePayload, "disk.img"},
		{"zip", "disk.zip", func(t *testing.T) []byte { return zipBytes(t, zipEntry{"disk.img", fixturePayload}) }, fixturePayload, "disk"},
		{"bzip2", "disk.img.bz2", func(t *testing.T) []byte { return fixture(t, "fixture.img.bz2") }, fixturePayload, "disk.img"},
		{"bzip2 multistream", "disk.img.bzip2", func(t *testing.T) []byte { return fixture(t, "multi.img.bzip2") }, []byte("first stream\nsecond stream\n"), "disk.img"},
		{"lzma from xz-utils", "disk.img.LZMA", func(t *testing.T) []byte { return fixture(t, "fixture.img.lzma") }, fixturePayload, "disk.img"},
		{"xz from xz-utils", "disk.img.XZ", func(t *testing.T) []byte { return fixture(t, "fixture.img.xz") }, fixturePayload, "disk.img"},
		{"gzip empty payload", "empty.img.gz", func(t *testing.T) []byte { return gzipBytes(t, nil) }, []byte{}, "empty.img"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := writeSource(t, tt.file, tt.data(t))
			engine, workDir := newEngine(t)

			tag, err := format.Classify(src)
			require.NoError(t, err)

			out, err := engine.Resolve(context.Background(), tag, src)
			require.NoError(t, err)
			require.Equal(t, filepath.Join(workDir, tt.stem), out)

			got, err := os.ReadFile(out)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)

			entries, err := os.ReadDir(workDir)
			require.NoError(t, err)
			require.Len(t, entries, 1, "only the decompressed file should remain")
		})
	}
}

func TestResolve_RawPassThrough(t *testing.T) {
	for _, name := range []string{"disk.img", "installer.iso"} {
		t.Run(name, func(t *testing.T) {
			src := writeSource(t, name, []byte("raw"))
			engine, workDir := newEngine(t)

			tag, err := format.Classify(src)
			require.NoError(t, err)
			require.False(t, tag.Compressed())

			out, err := engine.Resolve(context.Background(), tag, src)
			require.NoError(t, err)
			require.Equal(t, src, out)
			requireEmptyDir(t, workDir)
		})
	}
}

func TestResolve_Unsupported(t *testing.T) {
	engine, workDir := newEngine(t)

	_, err := engine.Resolve(context.Background(), format.Unsupported, "/images/disk.rar")
	require.Error(t, err)
	require.True(t, stderrors.Is(err, errors.ErrUnsupportedFormat))
	requireEmptyDir(t, workDir)
}

func TestDecompress_GzipTenBytes(t *testing.T) {
	payload := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	src := writeSource(t, "disk.img.gz", gzipBytes(t, payload))
	engine, workDir := newEngine(t)

	out, err := engine.Decompress(context.Background(), format.Gzip, src)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(workDir, "disk.img"), out)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDecompress_GzipIgnoresTrailingData(t *testing.T) {
	payload := []byte("0123456789")
	data := append(gzipBytes(t, payload), []byte("\x00\x00\x00\x00FWx0metadata-json-{\"version\":\"24.10.2\"}")...)
	src := writeSource(t, "openwrt.img.gz", data)
	engine, workDir := newEngine(t)

	out, err := engine.Decompress(context.Background(), format.Gzip, src)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(workDir, "openwrt.img"), out)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDecompress_GzipFirstMemberOnly(t *testing.T) {
	data := append(gzipBytes(t, []byte("first")), gzipBytes(t, []byte("second"))...)
	src := writeSource(t, "disk.img.gz", data)
	engine, _ := newEngine(t)

	out, err := engine.Decompress(context.Background(), format.Gzip, src)
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "first", string(got))
}

func TestDecompress_OutputMode(t *testing.T) {
	src := writeSource(t, "disk.img.gz", gzipBytes(t, fixturePayload))
	engine, _ := newEngine(t)

	out, err := engine.Decompress(context.Background(), format.Gzip, src)
	require.NoError(t, err)

	fi, err := os.Stat(out)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0644), fi.Mode().Perm())
}

func TestDecompress_ZipFirstEntryOnly(t *testing.T) {
	src := writeSource(t, "archive.zip", zipBytes(t,
		zipEntry{"a.bin", []byte{1, 2, 3}},
		zipEntry{"b.bin", []byte{4, 5, 6, 7}},
	))
	engine, workDir := newEngine(t)

	out, err := engine.Decompress(context.Background(), format.Zip, src)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(workDir, "archive"), out)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, got)
}

func TestDecompress_EmptyZip(t *testing.T) {
	src := writeSource(t, "empty.zip", zipBytes(t))
	engine, workDir := newEngine(t)

	_, err := engine.Decompress(context.Background(), format.Zip, src)
	require.Error(t, err)
	require.Equal(t, errors.KindDecode, errors.KindOf(err))
	require.Contains(t, err.Error(), "empty")
	requireEmptyDir(t, workDir)
}

func TestDecompress_XzCorruptTrailingChecksum(t *testing.T) {
	data := xzBytes(t, []byte("0123456789"))
	// the stream footer starts with a CRC32 over its flags and backward size
	data[len(data)-12] ^= 0xff

	src := writeSource(t, "disk.xz", data)
	engine, workDir := newEngine(t)

	_, err := engine.Decompress(context.Background(), format.Xz, src)
	require.Error(t, err)
	require.Equal(t, errors.KindDecode, errors.KindOf(err))
	requireEmptyDir(t, workDir)
}

func TestDecompress_XzCorruptPayload(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefghijklmnopqrstuvwxyz0123456789"), 2048)
	data := xzBytes(t, payload)
	data[len(data)/2] ^= 0x55

	src := writeSource(t, "disk.img.xz", data)
	engine, workDir := newEngine(t)

	_, err := engine.Decompress(context.Background(), format.Xz, src)
	require.Error(t, err)
	requireEmptyDir(t, workDir)
}

func TestDecompress_Truncated(t *testing.T) {
	tests := []struct {
		name string
		file string
		tag  format.Tag
		data func(t *testing.T) []byte
	}{
		{"gzip", "disk.img.gz", format.Gzip, func(t *testing.T) []byte { return gzipBytes(t, fixturePayload) }},
		{"xz", "disk.img.xz", format.Xz, func(t *testing.T) []byte { return xzBytes(t, fixturePayload) }},
		{"lzma", "disk.img.lzma", format.Lzma, func(t *testing.T) []byte { return fixture(t, "fixture.img.lzma") }},
		{"bzip2", "disk.img.bz2", format.Bzip2, func(t *testing.T) []byte { return fixture(t, "fixture.img.bz2") }},
		{"zip", "disk.zip", format.Zip, func(t *testing.T) []byte { return zipBytes(t, zipEntry{"disk.img", fixturePayload}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.data(t)
			src := writeSource(t, tt.file, data[:len(data)/2])
			engine, workDir := newEngine(t)

			_, err := engine.Decompress(context.Background(), tt.tag, src)
			require.Error(t, err)
			require.Equal(t, errors.KindDecode, errors.KindOf(err), "got %v", err)
			require.Contains(t, err.Error(), src)
			requireEmptyDir(t, workDir)
		})
	}
}

func TestDecompress_MissingSource(t *testing.T) {
	engine, workDir := newEngine(t)
	src := filepath.Join(t.TempDir(), "missing.img.gz")

	_, err := engine.Decompress(context.Background(), format.Gzip, src)
	require.Error(t, err)
	require.True(t, stderrors.Is(err, errors.ErrIO))
	require.Contains(t, err.Error(), src)
	requireEmptyDir(t, workDir)
}

func TestDecompress_LzmaMemLimit(t *testing.T) {
	// fixture.img.lzma declares an 8 MiB dictionary
	src := writeSource(t, "disk.img.lzma", fixture(t, "fixture.img.lzma"))
	workDir := t.TempDir()
	engine := decompress.NewEngine(decompress.Options{WorkDir: workDir, LzmaMemLimitKiB: 1024})

	_, err := engine.Decompress(context.Background(), format.Lzma, src)
	require.Error(t, err)
	require.Equal(t, errors.KindDecode, errors.KindOf(err))
	require.Contains(t, err.Error(), "limit")
	requireEmptyDir(t, workDir)
}

func TestDecompress_LzmaInvalidProperties(t *testing.T) {
	data := fixture(t, "fixture.img.lzma")
	data[0] = 0xff

	src := writeSource(t, "disk.img.lzma", data)
	engine, workDir := newEngine(t)

	_, err := engine.Decompress(context.Background(), format.Lzma, src)
	require.Error(t, err)
	require.Equal(t, errors.KindDecode, errors.KindOf(err))
	requireEmptyDir(t, workDir)
}

func TestDecompress_GzipBadHeader(t *testing.T) {
	src := writeSource(t, "disk.img.gz", []byte("this is not gzip at all"))
	engine, workDir := newEngine(t)

	_, err := engine.Decompress(context.Background(), format.Gzip, src)
	require.Error(t, err)
	require.Equal(t, errors.KindDecode, errors.KindOf(err))
	requireEmptyDir(t, workDir)
}

func TestDecompress_OverwritesExistingOutput(t *testing.T) {
	src := writeSource(t, "disk.img.gz", gzipBytes(t, []byte("fresh")))
	engine, workDir := newEngine(t)

	existing := filepath.Join(workDir, "disk.img")
	require.NoError(t, os.WriteFile(existing, []byte("stale content from an earlier run"), 0644))

	out, err := engine.Decompress(context.Background(), format.Gzip, src)
	require.NoError(t, err)
	require.Equal(t, existing, out)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "fresh", string(got))
}

func TestDecompress_OutputSizeLimit(t *testing.T) {
	src := writeSource(t, "disk.img.gz", gzipBytes(t, fixturePayload))
	workDir := t.TempDir()
	engine := decompress.NewEngine(decompress.Options{
		WorkDir:   workDir,
		Validator: security.NewValidator(100, 0),
	})

	_, err := engine.Decompress(context.Background(), format.Gzip, src)
	require.Error(t, err)
	require.True(t, stderrors.Is(err, security.ErrLimitExceeded))
	requireEmptyDir(t, workDir)
}

func TestDecompress_ZipDeclaredSizeLimit(t *testing.T) {
	src := writeSource(t, "disk.zip", zipBytes(t, zipEntry{"disk.img", fixturePayload}))
	workDir := t.TempDir()
	engine := decompress.NewEngine(decompress.Options{
		WorkDir:   workDir,
		Validator: security.NewValidator(100, 0),
	})

	_, err := engine.Decompress(context.Background(), format.Zip, src)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "declared size"))
	requireEmptyDir(t, workDir)
}

func TestDecompress_Canceled(t *testing.T) {
	src := writeSource(t, "disk.img.gz", gzipBytes(t, fixturePayload))
	engine, workDir := newEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Decompress(ctx, format.Gzip, src)
	require.Error(t, err)
	require.True(t, stderrors.Is(err, context.Canceled))
	requireEmptyDir(t, workDir)
}
