package decompress

import (
	"bufio"
	"io"

	"github.com/klauspost/compress/gzip"
)

// newGzipReader decodes the first gzip member only. Bytes after it, such as
// the metadata trailer OpenWrt appends to its images, are ignored.
func newGzipReader(r io.Reader) (io.Reader, error) {
	zr, err := gzip.NewReader(bufio.NewReader(r))
	if err != nil {
		return nil, err
	}
	zr.Multistream(false)
	return zr, nil
}
