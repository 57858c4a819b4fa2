package format

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/img2kvm/img2kvm/pkg/errors"
)

func TestClassify_Supported(t *testing.T) {
	tests := []struct {
		path string
		want Tag
	}{
		{"/images/disk.img.bz2", Bzip2},
		{"/images/disk.img.BZ2", Bzip2},
		{"/images/disk.bzip2", Bzip2},
		{"/images/disk.BZip2", Bzip2},
		{"/images/disk.img.gz", Gzip},
		{"/images/disk.GZ", Gzip},
		{"/images/disk.lzma", Lzma},
		{"/images/disk.LzMa", Lzma},
		{"/images/disk.xz", Xz},
		{"/images/disk.XZ", Xz},
		{"/images/archive.zip", Zip},
		{"/images/archive.Zip", Zip},
		{"/images/disk.img", RawImage},
		{"/images/disk.IMG", RawImage},
		{"/images/installer.iso", RawIso},
		{"/images/openwrt-24.10.2-x86-64-generic-squashfs-combined-efi.img.gz", Gzip},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := Classify(tt.path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestClassify_Unsupported(t *testing.T) {
	tests := []struct {
		path    string
		message string
	}{
		{"/images/disk.rar", `"rar"`},
		{"/images/disk.7z", `"7z"`},
		{"/images/disk.tar", `"tar"`},
		{"/images/disk.qcow2", `"qcow2"`},
		{"/images/disk", "no valid extension"},
		{"/images/.gz", "no valid extension"},
		{"/images/disk.", `""`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			tag, err := Classify(tt.path)
			if err == nil {
				t.Fatalf("expected error, got tag %v", tag)
			}
			if tag != Unsupported {
				t.Errorf("expected Unsupported tag, got %v", tag)
			}
			if !stderrors.Is(err, errors.ErrUnsupportedFormat) {
				t.Errorf("expected UnsupportedFormat kind, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("expected message to contain %s, got %q", tt.message, err.Error())
			}
			if !strings.Contains(err.Error(), tt.path) {
				t.Errorf("expected message to name %s, got %q", tt.path, err.Error())
			}
		})
	}
}

func TestSplitExt(t *testing.T) {
	tests := []struct {
		name string
		stem string
		ext  string
		ok   bool
	}{
		{"foo.img.gz", "foo.img", "gz", true},
		{"foo.tar.gz", "foo.tar", "gz", true},
		{"archive.zip", "archive", "zip", true},
		{"disk", "disk", "", false},
		{".gz", ".gz", "", false},
		{"..gz", ".", "gz", true},
		{"foo.", "foo", "", true},
		{".", ".", "", false},
		{"..", "..", "", false},
	}

	for _, tt := range tests {
		stem, ext, ok := SplitExt(tt.name)
		if stem != tt.stem || ext != tt.ext || ok != tt.ok {
			t.Errorf("SplitExt(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.name, stem, ext, ok, tt.stem, tt.ext, tt.ok)
		}
	}
}

func TestTag_Compressed(t *testing.T) {
	for _, tag := range []Tag{Bzip2, Gzip, Lzma, Xz, Zip} {
		if !tag.Compressed() {
			t.Errorf("expected %v to be compressed", tag)
		}
	}
	for _, tag := range []Tag{RawImage, RawIso, Unsupported} {
		if tag.Compressed() {
			t.Errorf("expected %v not to be compressed", tag)
		}
	}
}

func TestParseTag_RoundTrip(t *testing.T) {
	for tag := Unsupported; tag <= RawIso; tag++ {
		got, ok := ParseTag(tag.String())
		if !ok || got != tag {
			t.Errorf("ParseTag(%q) = %v, %v", tag.String(), got, ok)
		}
	}
}

func TestExtensions(t *testing.T) {
	exts := Extensions()
	if len(exts) != 8 {
		t.Fatalf("expected 8 extensions, got %d", len(exts))
	}
	if exts[0].Ext != "bz2" || exts[1].Ext != "bzip2" || exts[0].Tag != Bzip2 {
		t.Errorf("unexpected ordering: %+v", exts[:2])
	}
}
