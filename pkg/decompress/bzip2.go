package decompress

import (
	"bufio"
	"compress/bzip2"
	"io"
)

// newBzip2Reader decodes every concatenated bzip2 stream in r, as produced by
// parallel compressors such as pbzip2.
func newBzip2Reader(r io.Reader) (io.Reader, error) {
	return bzip2.NewReader(bufio.NewReader(r)), nil
}
