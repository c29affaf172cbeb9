package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	oggHeaderSize = 27
	oggFlagEOS    = 0x04
)

// oggPage locates one page inside a muxed stream.
type oggPage struct {
	off, end int
}

// oggPages splits an Ogg stream into its pages.
func oggPages(data []byte) ([]oggPage, error) {
	var pages []oggPage
	for off := 0; off < len(data); {
		if len(data)-off < oggHeaderSize || string(data[off:off+4]) != "OggS" {
			return nil, fmt.Errorf("no page at offset %d", off)
		}
		segs := int(data[off+26])
		end := off + oggHeaderSize + segs
		if end > len(data) {
			return nil, fmt.Errorf("truncated segment table at offset %d", off)
		}
		for _, lace := range data[off+oggHeaderSize : end] {
			end += int(lace)
		}
		if end > len(data) {
			return nil, fmt.Errorf("truncated page at offset %d", off)
		}
		pages = append(pages, oggPage{off: off, end: end})
		off = end
	}
	if len(pages) == 0 {
		return nil, errors.New("empty stream")
	}
	return pages, nil
}

// oggGranule returns the granule position and header flags of a page.
func oggGranule(page []byte) (uint64, byte) {
	return binary.LittleEndian.Uint64(page[6:]), page[5]
}

// patchOggPage rewrites the granule position of a page, ORs in header
// flags and recomputes the page checksum.
func patchOggPage(page []byte, granule uint64, flags byte) {
	page[5] |= flags
	binary.LittleEndian.PutUint64(page[6:], granule)
	binary.LittleEndian.PutUint32(page[22:], 0)
	binary.LittleEndian.PutUint32(page[22:], oggChecksum(page))
}

// oggChecksum is the unreflected CRC-32 (poly 0x04c11db7, zero init) that
// Ogg stores in every page header.
func oggChecksum(page []byte) uint32 {
	var crc uint32
	for _, b := range page {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}

var oggCRCTable = func() (t [256]uint32) {
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()
