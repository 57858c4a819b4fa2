// Package format classifies an image file by its extension.
package format

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/img2kvm/img2kvm/pkg/errors"
)

// Tag is the handling strategy chosen for a source file.
type Tag int

const (
	Unsupported Tag = iota
	Bzip2
	Gzip
	Lzma
	Xz
	Zip
	RawImage
	RawIso
)

var tagNames = map[Tag]string{
	Unsupported: "unsupported",
	Bzip2:       "bzip2",
	Gzip:        "gzip",
	Lzma:        "lzma",
	Xz:          "xz",
	Zip:         "zip",
	RawImage:    "raw-image",
	RawIso:      "raw-iso",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tag(%d)", int(t))
}

// Compressed reports whether files of this tag need decompression
// before conversion.
func (t Tag) Compressed() bool {
	switch t {
	case Bzip2, Gzip, Lzma, Xz, Zip:
		return true
	}
	return false
}

// ParseTag is the inverse of Tag.String.
func ParseTag(s string) (Tag, bool) {
	for t, name := range tagNames {
		if name == s {
			return t, true
		}
	}
	return Unsupported, false
}

var extensions = map[string]Tag{
	"bz2":   Bzip2,
	"bzip2": Bzip2,
	"gz":    Gzip,
	"lzma":  Lzma,
	"xz":    Xz,
	"zip":   Zip,
	"img":   RawImage,
	"iso":   RawIso,
}

// Extension pairs a recognized extension with its tag.
type Extension struct {
	Ext string
	Tag Tag
}

// Extensions lists every recognized extension, ordered by tag then name.
func Extensions() []Extension {
	out := make([]Extension, 0, len(extensions))
	for t := Bzip2; t <= RawIso; t++ {
		var names []string
		for ext, tag := range extensions {
			if tag == t {
				names = append(names, ext)
			}
		}
		slices.Sort(names)
		for _, ext := range names {
			out = append(out, Extension{Ext: ext, Tag: t})
		}
	}
	return out
}

// SplitExt splits a file name into stem and final extension. A name whose only
// dot is the leading one (".gz") has no extension; ok is false then.
func SplitExt(name string) (stem, ext string, ok bool) {
	if name == "." || name == ".." {
		return name, "", false
	}
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return name, "", false
	}
	return name[:i], name[i+1:], true
}

// Classify maps the final extension of path, case-insensitively, to a Tag.
// Missing and unrecognized extensions fail with an UnsupportedFormat error.
func Classify(path string) (Tag, error) {
	_, ext, ok := SplitExt(filepath.Base(path))
	if !ok {
		slog.Error("classify_failed", "path", path, "reason", "no_extension")
		return Unsupported, errors.E(errors.KindUnsupportedFormat, "file has no valid extension", path, nil)
	}

	ext = strings.ToLower(ext)
	tag, found := extensions[ext]
	if !found {
		slog.Error("classify_failed", "path", path, "extension", ext, "reason", "unsupported")
		return Unsupported, errors.E(errors.KindUnsupportedFormat, fmt.Sprintf("unsupported file extension: %q", ext), path, nil)
	}

	slog.Info("classified", "path", path, "extension", ext, "tag", tag.String())
	return tag, nil
}
