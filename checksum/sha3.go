package checksum

import "golang.org/x/crypto/sha3"

type sha3Function struct{}

func (sha3Function) Algorithm() Algorithm { return AlgorithmSHA3_256 }

func (sha3Function) Sum(data []byte) Value {
	return Value(sha3.Sum256(data))
}
