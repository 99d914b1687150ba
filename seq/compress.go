package seq

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/ioutil"

	"github.com/klauspost/compress/flate"
)

// Compressed-sequence blob: one tag byte '#', the uncompressed payload size
// as uint16 LE, then a deflate stream over <one byte per base><4 bytes per
// base of little-endian delta-encoded positions, column-major>. A sentinel
// entry at the alignment width is appended before packing so that the width
// survives the round trip.

const blobTag = '#'

const posSize = 4 // bytes per encoded position delta

// Compress packs the sequence's bases, positions and width into a blob.
func (c *CSeq) Compress() ([]byte, error) {
	entries := append(append([]ABase(nil), c.bases...), ABase{c.width, 0})
	n := len(entries)
	origSize := n * (1 + posSize)

	buf := make([]byte, origSize)
	for i, ab := range entries {
		buf[i] = byte(ab.Base)
	}
	last := uint32(0)
	for i, ab := range entries {
		diff := ab.Pos - last
		for j := 0; j < posSize; j++ {
			buf[(j+1)*n+i] = byte(diff)
			diff >>= 8
		}
		last = ab.Pos
	}

	out := bytes.NewBuffer(nil)
	out.WriteByte(blobTag)
	var size [2]byte
	binary.LittleEndian.PutUint16(size[:], uint16(origSize))
	out.Write(size[:])
	fw, err := flate.NewWriter(out, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(buf); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// AssignFromCompressed replaces the sequence contents with the blob's,
// restoring bases, positions and width.
func (c *CSeq) AssignFromCompressed(blob []byte) error {
	if len(blob) < 3 || blob[0] != blobTag {
		return fmt.Errorf("%s: not a compressed sequence blob", c.name)
	}
	origSize := int(binary.LittleEndian.Uint16(blob[1:3]))
	fr := flate.NewReader(bytes.NewReader(blob[3:]))
	buf, err := ioutil.ReadAll(fr)
	if err != nil {
		return err
	}
	if err := fr.Close(); err != nil {
		return err
	}
	if len(buf) < origSize {
		return fmt.Errorf("%s: truncated sequence blob (%d < %d)",
			c.name, len(buf), origSize)
	}
	n := origSize / (1 + posSize)
	c.bases = make([]ABase, 0, n)
	last := uint32(0)
	for i := 0; i < n; i++ {
		diff := uint32(0)
		for j := posSize - 1; j >= 0; j-- {
			diff = diff<<8 | uint32(buf[(j+1)*n+i])
		}
		last += diff
		c.bases = append(c.bases, ABase{last, Base(buf[i])})
	}
	if n == 0 {
		c.width = 0
		return nil
	}
	c.width = c.bases[n-1].Pos
	c.bases = c.bases[:n-1]
	return nil
}
