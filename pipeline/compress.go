// Package pipeline implements the storage-pipeline collaborators spec.md
// §1 lists as out of scope for the burst dedup core itself: the
// compression and encryption stages, and the zio_free/zio_add_child calls
// the core fires into on teardown. The core only ever reads/writes the bit
// flags these stages leave behind in bstp.prop (spec.md §6); this package
// gives the compression code a real implementation behind it. The
// encryption flag has no stage behind it: the write path always records
// it as false.
package pipeline

// CompressionCode identifies the compression algorithm recorded in
// bstp.prop bits 32-38 (spec.md §6).
type CompressionCode uint8

const (
	CompressOff CompressionCode = iota
	CompressFSST
)

// Compressor is the compression stage of the storage pipeline. The write
// path (dedupcore/ingest.Put) runs every block through Compress to stamp
// the compressed size and code on its block pointer; the demo content
// store keeps the uncompressed bytes, so the read path never calls
// Decompress.
type Compressor interface {
	Code() CompressionCode
	Compress(data []byte) []byte
	Decompress(data []byte, size int) []byte
}

type offCompressor struct{}

func (offCompressor) Code() CompressionCode                { return CompressOff }
func (offCompressor) Compress(data []byte) []byte          { return data }
func (offCompressor) Decompress(data []byte, _ int) []byte { return data }

// NewOffCompressor returns the no-op compression stage.
func NewOffCompressor() Compressor { return offCompressor{} }
