package checksum

import "hash/fnv"

// fnv64Function is the cheap, non-cryptographic algorithm. A pool that
// selects it uses it for every key it computes — the DDT and BSTT keys of
// whole blocks as well as the HTDDT head/tail keys — so it gives no
// collision resistance for whole-block dedup. Its 8-byte sum fills the
// first 8 bytes of Value; the rest stay zero.
type fnv64Function struct{}

func (fnv64Function) Algorithm() Algorithm { return AlgorithmFNV64 }

func (fnv64Function) Sum(data []byte) Value {
	h := fnv.New64a()
	_, _ = h.Write(data)
	sum := h.Sum(nil)
	var v Value
	copy(v[:len(sum)], sum)
	return v
}
