package embeddings

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
)

// localProvider is a deterministic, dependency-free embedder: it hashes
// token n-grams into a fixed number of buckets and L2-normalizes the
// result. Vectors are stable across runs, so re-projection of unchanged
// rows is a no-op, but the geometry is only good enough for development
// and tests, not for production retrieval quality.
type localProvider struct {
	dims int
}

func newLocal(dims int) Provider {
	if dims <= 0 {
		dims = 256
	}
	return &localProvider{dims: dims}
}

func (p *localProvider) Name() string    { return "local" }
func (p *localProvider) Dimensions() int { return p.dims }

func (p *localProvider) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = p.embedOne(in)
	}
	return out, nil
}

func (p *localProvider) embedOne(text string) []float32 {
	vec := make([]float32, p.dims)
	runes := []rune(text)
	const n = 3
	if len(runes) == 0 {
		return vec
	}
	for i := 0; i+n <= len(runes); i++ {
		h := fnv.New64a()
		var buf [4]byte
		for _, r := range runes[i : i+n] {
			binary.LittleEndian.PutUint32(buf[:], uint32(r))
			h.Write(buf[:])
		}
		sum := h.Sum64()
		bucket := int(sum % uint64(p.dims))
		// Sign bit from the hash keeps buckets from only accumulating.
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
