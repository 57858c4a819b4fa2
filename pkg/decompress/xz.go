package decompress

import (
	"bufio"
	"io"

	"github.com/ulikunitz/xz"
)

// newXzReader decodes an .xz container. Block checks, the index and the
// stream footer are all verified, so a corrupt checksum fails the read.
func newXzReader(r io.Reader) (io.Reader, error) {
	xr, err := xz.ReaderConfig{SingleStream: false}.NewReader(bufio.NewReader(r))
	if err != nil {
		return nil, err
	}
	return xr, nil
}
