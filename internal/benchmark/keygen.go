// Package benchmark drives configurable read/write workloads against
// the storage kernel, adapted from the teacher's common/benchmark
// (keygen.go, metrics.go, framework.go kept close to verbatim;
// compare.go, which drove side-by-side hashindex/lsm/btree
// comparisons, has no home here since this repo implements a single
// engine — see DESIGN.md).
package benchmark

import (
	"encoding/binary"
	"fmt"
	"math"
	mrand "math/rand"
	"sync/atomic"
)

// KeyDistribution defines how keys are accessed.
type KeyDistribution string

const (
	DistUniform    KeyDistribution = "uniform"
	DistZipfian    KeyDistribution = "zipfian"
	DistSequential KeyDistribution = "sequential"
	DistLatest     KeyDistribution = "latest"
)

// KeyGenerator generates keys according to a distribution.
type KeyGenerator struct {
	numKeys      int
	keySize      int
	distribution KeyDistribution
	rng          *mrand.Rand

	zipf *mrand.Zipf

	seqCounter atomic.Int64
}

func NewKeyGenerator(numKeys, keySize int, distribution KeyDistribution, seed int64) *KeyGenerator {
	rng := mrand.New(mrand.NewSource(seed))

	kg := &KeyGenerator{
		numKeys:      numKeys,
		keySize:      keySize,
		distribution: distribution,
		rng:          rng,
	}

	if distribution == DistZipfian {
		kg.zipf = mrand.NewZipf(rng, 1.1, 1, uint64(numKeys))
	}

	return kg
}

func (kg *KeyGenerator) NextKey() []byte {
	var keyNum int

	switch kg.distribution {
	case DistUniform:
		keyNum = kg.rng.Intn(kg.numKeys)
	case DistZipfian:
		keyNum = int(kg.zipf.Uint64())
	case DistSequential:
		keyNum = int(kg.seqCounter.Add(1) % int64(kg.numKeys))
	case DistLatest:
		rangeSize := kg.numKeys / 10
		if rangeSize < 100 {
			rangeSize = 100
		}
		offset := int(math.Abs(kg.rng.NormFloat64()) * float64(rangeSize))
		keyNum = kg.numKeys - 1 - offset
		if keyNum < 0 {
			keyNum = 0
		}
	default:
		keyNum = kg.rng.Intn(kg.numKeys)
	}

	return kg.formatKey(keyNum)
}

func (kg *KeyGenerator) GenerateSequential(n int) []byte {
	return kg.formatKey(n)
}

func (kg *KeyGenerator) formatKey(n int) []byte {
	key := fmt.Sprintf("key%010d", n)

	if len(key) < kg.keySize {
		padding := make([]byte, kg.keySize-len(key))
		if len(padding) >= 8 {
			binary.LittleEndian.PutUint64(padding, uint64(n))
		} else {
			for i := range padding {
				padding[i] = byte(n + i)
			}
		}
		return append([]byte(key), padding...)
	}

	return []byte(key)[:kg.keySize]
}
