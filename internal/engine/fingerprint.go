package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
)

// Digest is a fixed 256-bit hash.
type Digest [32]byte

// String returns the hex form of d.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// IsZero reports whether d is unset.
func (d Digest) IsZero() bool { return d == Digest{} }

// fingerprint hashes a cell name and its input versions in key order, so two
// results computed from the same inputs share a fingerprint.
func fingerprint(name string, deps map[Key]uint64) Digest {
	keys := make([]string, 0, len(deps))
	for k := range deps {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	h := sha256.New()
	_, _ = h.Write([]byte(name))
	var buf [8]byte
	for _, k := range keys {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(k))
		binary.LittleEndian.PutUint64(buf[:], deps[Key(k)])
		_, _ = h.Write(buf[:])
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}
