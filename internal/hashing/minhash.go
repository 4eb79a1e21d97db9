package hashing

import (
	"encoding/hex"
	"math/rand"

	"github.com/flanglet/kanzi-go/v2/hash"
)

// primeModulus is the universal-hashing prime used by MinHash32's coefficient
// combination, carried over from original_source/src/models/hashing/minhash.rs.
const primeModulus = 4294967291

const maxHash = ^uint32(0)

// minHashHex ports MinHash32::hexdigest: derive cfg.NumberOfHashes seeded
// (a, b) coefficient pairs from cfg.Seed, slide a cfg.ShingleSize-byte
// shingle window over data, hash each shingle, and keep a running minimum of
// (a*shingleHash + b) mod primeModulus per hash index. The shingle hash
// itself uses flanglet-kanzi-go's XXHash64 truncated to 32 bits in place of
// the Rust original's xxhash32 — this package's determinism contract is
// same-run reproducibility for a given (seed, number_of_hashes,
// shingle_size), not a byte-identical digest across implementations.
func minHashHex(data []byte, cfg MinHashConfig) (string, bool) {
	if cfg.NumberOfHashes <= 0 || cfg.ShingleSize <= 0 {
		return "", false
	}
	if cfg.MaximumByteSize > 0 && len(data) > cfg.MaximumByteSize {
		return "", false
	}
	if len(data) < cfg.ShingleSize {
		return "", false
	}

	rng := rand.New(rand.NewSource(int64(cfg.Seed)))
	a := make([]uint32, cfg.NumberOfHashes)
	b := make([]uint32, cfg.NumberOfHashes)
	for i := 0; i < cfg.NumberOfHashes; i++ {
		a[i] = 1 + uint32(rng.Int63n(int64(maxHash-1)))
		b[i] = uint32(rng.Int63n(int64(maxHash)))
	}

	hasher, err := hash.NewXXHash64(cfg.Seed)
	if err != nil {
		return "", false
	}

	minHashes := make([]uint32, cfg.NumberOfHashes)
	for i := range minHashes {
		minHashes[i] = uint32(maxHash)
	}

	for start := 0; start+cfg.ShingleSize <= len(data); start++ {
		shingle := data[start : start+cfg.ShingleSize]
		shingleHash := uint32(hasher.Hash(shingle))
		for i := 0; i < cfg.NumberOfHashes; i++ {
			value := uint32((uint64(a[i])*uint64(shingleHash) + uint64(b[i])) % primeModulus)
			if value < minHashes[i] {
				minHashes[i] = value
			}
		}
	}

	buf := make([]byte, 0, cfg.NumberOfHashes*4)
	for _, v := range minHashes {
		var be [4]byte
		be[0] = byte(v >> 24)
		be[1] = byte(v >> 16)
		be[2] = byte(v >> 8)
		be[3] = byte(v)
		buf = append(buf, be[:]...)
	}
	return hex.EncodeToString(buf), true
}
