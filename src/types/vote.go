package types

import (
	"encoding/binary"

	"github.com/rkanadev/raiblocks/src/crypto"
)

// Vote is a representative's statement that a given block should be the
// successor of its root. Sequence numbers increase monotonically per
// representative; a higher sequence supersedes a lower one.
type Vote struct {
	Account   Account
	Signature [64]byte
	Sequence  uint64
	Block     Block
}

// NewVote builds and signs a vote with the representative's key.
func NewVote(kp crypto.KeyPair, sequence uint64, block Block) *Vote {
	v := &Vote{
		Account:  AccountFromBytes(kp.Public),
		Sequence: sequence,
		Block:    block,
	}
	digest := v.Digest()
	v.Signature = kp.Sign(digest[:])
	return v
}

// Digest is the Blake2b digest the representative signs: the block hash
// followed by the little-endian sequence number.
func (v *Vote) Digest() [32]byte {
	hash := v.Block.Hash()
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], v.Sequence)
	return crypto.Blake2b(hash[:], seq[:])
}

// Validate checks the vote signature against the representative account.
func (v *Vote) Validate() bool {
	digest := v.Digest()
	return crypto.Verify(v.Account[:], digest[:], v.Signature)
}

// Votes tallies the currently-held vote of each representative for one
// conflict root. At most one entry exists per representative, always the
// highest sequence observed.
type Votes struct {
	Root BlockHash
	Rep  map[Account]*Vote
}

// NewVotes creates an empty tally for the given root.
func NewVotes(root BlockHash) *Votes {
	return &Votes{
		Root: root,
		Rep:  make(map[Account]*Vote),
	}
}

// Insert records the vote, overwriting any lower-sequence vote from the same
// representative. It returns true iff the tally changed; replaying a vote
// with an equal or lower sequence is a no-op.
func (v *Votes) Insert(vote *Vote) bool {
	existing, ok := v.Rep[vote.Account]
	if ok && existing.Sequence >= vote.Sequence {
		return false
	}
	v.Rep[vote.Account] = vote
	return true
}

// Size returns the number of representatives in the tally.
func (v *Votes) Size() int {
	return len(v.Rep)
}
