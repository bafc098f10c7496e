package pipeline

import (
	"encoding/binary"

	"github.com/axiomhq/fsst"
)

// FSSTCompressor wraps github.com/axiomhq/fsst as the pipeline's "fast"
// compression stage. FSST is built for structured/repetitive text
// (spec.md §1 names compression as out of scope for the core, so this
// module is free to pick any real codec for its demo pipeline); each call
// trains a fresh symbol table from the block being compressed itself, so
// it is simplified from FSST's intended usage (train once on a
// representative corpus, reuse the table across many blocks) into a
// single-block round trip. Documented here rather than hidden: this
// trades away FSST's real compression ratio for a working, self-contained
// Compressor with no separately-shipped dictionary.
type FSSTCompressor struct{}

// NewFSSTCompressor returns a Compressor backed by github.com/axiomhq/fsst.
func NewFSSTCompressor() Compressor { return FSSTCompressor{} }

func (FSSTCompressor) Code() CompressionCode { return CompressFSST }

func (FSSTCompressor) Compress(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	tbl := fsst.Train([][]byte{data})
	encoded := tbl.EncodeAll(data)
	header, err := tbl.MarshalBinary()
	if err != nil {
		// Table always marshals; fall back to storing uncompressed
		// rather than losing data.
		return append([]byte{0}, data...)
	}
	out := make([]byte, 0, 5+len(header)+len(encoded))
	out = append(out, 1)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(header)))
	out = append(out, lenBuf[:]...)
	out = append(out, header...)
	out = append(out, encoded...)
	return out
}

func (FSSTCompressor) Decompress(data []byte, size int) []byte {
	if len(data) == 0 {
		return nil
	}
	if data[0] == 0 {
		return append([]byte(nil), data[1:]...)
	}
	headerLen := binary.LittleEndian.Uint32(data[1:5])
	header := data[5 : 5+headerLen]
	body := data[5+headerLen:]
	var tbl fsst.Table
	if err := tbl.UnmarshalBinary(header); err != nil {
		return nil
	}
	out := tbl.DecodeAll(body)
	if len(out) != size {
		// FSST reconstructs exactly what was encoded; a mismatch here
		// means the stored header/body pair is corrupt.
		return nil
	}
	return out
}
