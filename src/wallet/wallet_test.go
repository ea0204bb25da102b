package wallet

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/rkanadev/raiblocks/src/common"
	"github.com/rkanadev/raiblocks/src/crypto"
	"github.com/rkanadev/raiblocks/src/types"
)

func TestVoteSequencesIncrease(t *testing.T) {
	w := New(common.NewTestLogger(t, logrus.DebugLevel).WithField("prefix", "wallet"))

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	account := w.Insert(kp)

	if !w.Exists(account) {
		t.Fatal("inserted key not found")
	}

	var previous types.BlockHash
	block := types.NewSendBlock(previous, account, types.NewAmount(1), kp, 0)

	first, ok := w.Vote(account, block)
	if !ok {
		t.Fatal("vote refused for held key")
	}
	second, ok := w.Vote(account, block)
	if !ok {
		t.Fatal("vote refused for held key")
	}

	if second.Sequence <= first.Sequence {
		t.Fatalf("sequences not monotone: %d then %d", first.Sequence, second.Sequence)
	}
	if !first.Validate() || !second.Validate() {
		t.Fatal("wallet votes must carry valid signatures")
	}
}

func TestVoteUnknownAccount(t *testing.T) {
	w := New(common.NewTestLogger(t, logrus.DebugLevel).WithField("prefix", "wallet"))

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	var previous types.BlockHash
	block := types.NewSendBlock(previous, types.AccountFromBytes(kp.Public), types.NewAmount(1), kp, 0)

	if _, ok := w.Vote(types.AccountFromBytes(kp.Public), block); ok {
		t.Fatal("vote produced for a key the wallet does not hold")
	}
}
