package crypto

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Blake2b computes the 256-bit Blake2b digest of the concatenation of the
// given byte slices. All block and vote hashes in the protocol use it.
func Blake2b(data ...[]byte) [32]byte {
	h, _ := blake2b.New256(nil)
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// WorkValue computes the 64-bit Blake2b digest of (work, root) that work
// validation compares against the network threshold. The work nonce is
// hashed little-endian, matching the wire representation.
func WorkValue(root [32]byte, work uint64) uint64 {
	h, _ := blake2b.New(8, nil)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], work)
	h.Write(buf[:])
	h.Write(root[:])
	return binary.LittleEndian.Uint64(h.Sum(nil))
}

// ValidateWork reports whether the work nonce meets the threshold for the
// given root.
func ValidateWork(root [32]byte, work uint64, threshold uint64) bool {
	return WorkValue(root, work) >= threshold
}

// GenerateWork brute-forces a work nonce meeting the threshold. It is only
// suitable for test network thresholds; production work generation is
// delegated to work peers.
func GenerateWork(root [32]byte, threshold uint64) uint64 {
	for work := uint64(0); ; work++ {
		if WorkValue(root, work) >= threshold {
			return work
		}
	}
}
