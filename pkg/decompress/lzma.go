package decompress

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/ulikunitz/xz/lzma"
)

// lzmaHeaderLen is the size of the legacy .lzma header: one properties byte,
// the little-endian dictionary size and the uncompressed size.
const lzmaHeaderLen = 13

// lzmaHeader is the decoded legacy .lzma header.
type lzmaHeader struct {
	lc, lp, pb int
	dictSize   uint32
	size       int64 // -1 when unknown
}

func parseLzmaHeader(b []byte) (lzmaHeader, error) {
	if len(b) < lzmaHeaderLen {
		return lzmaHeader{}, fmt.Errorf("lzma header truncated: %d of %d bytes", len(b), lzmaHeaderLen)
	}
	props := int(b[0])
	if props >= 9*5*5 {
		return lzmaHeader{}, fmt.Errorf("invalid lzma properties byte %#x", props)
	}
	return lzmaHeader{
		lc:       props % 9,
		lp:       (props / 9) % 5,
		pb:       props / 45,
		dictSize: binary.LittleEndian.Uint32(b[1:5]),
		size:     int64(binary.LittleEndian.Uint64(b[5:13])),
	}, nil
}

// memoryUsageKiB estimates the decoder footprint: the dictionary rounded as
// the decoder allocates it, plus the literal probability tables.
func (h lzmaHeader) memoryUsageKiB() int64 {
	dict := int64(h.dictSize)
	if dict < 4096 {
		dict = 4096
	}
	dict = (dict + 15) &^ 15
	return 10 + dict/1024 + int64((2*0x300)<<(h.lc+h.lp))/1024
}

// newLzmaReader checks the header against the engine's memory ceiling before
// handing the stream to the decoder. No uncompressed size hint is passed; the
// header's own value (or the end marker) terminates the stream.
func (e *Engine) newLzmaReader(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	b, err := br.Peek(lzmaHeaderLen)
	if err != nil {
		return nil, fmt.Errorf("failed to read lzma header: %w", err)
	}
	h, err := parseLzmaHeader(b)
	if err != nil {
		return nil, err
	}

	usage := h.memoryUsageKiB()
	if usage > e.lzmaMemLimit {
		slog.Error("lzma_mem_limit_exceeded", "dict_size", h.dictSize, "usage_kib", usage, "limit_kib", e.lzmaMemLimit)
		return nil, fmt.Errorf("lzma decoder needs %d KiB, limit is %d KiB", usage, e.lzmaMemLimit)
	}
	slog.Info("lzma_header", "lc", h.lc, "lp", h.lp, "pb", h.pb, "dict_size", h.dictSize, "usage_kib", usage)

	lr, err := lzma.NewReader(br)
	if err != nil {
		return nil, err
	}
	return lr, nil
}
