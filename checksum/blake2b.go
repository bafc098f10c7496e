package checksum

import "golang.org/x/crypto/blake2b"

type blake2bFunction struct{}

func (blake2bFunction) Algorithm() Algorithm { return AlgorithmBlake2b256 }

func (blake2bFunction) Sum(data []byte) Value {
	return Value(blake2b.Sum256(data))
}
