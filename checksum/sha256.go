package checksum

import "crypto/sha256"

type sha256Function struct{}

func (sha256Function) Algorithm() Algorithm { return AlgorithmSHA256 }

func (sha256Function) Sum(data []byte) Value {
	return Value(sha256.Sum256(data))
}
