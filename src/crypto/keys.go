package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"path"
	"strings"
)

var ErrBadKeyLength = errors.New("bad key length")

// KeyPair holds an ed25519 key pair. The public key doubles as the account
// identifier throughout the protocol.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh random key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// Sign signs the message with the pair's private key.
func (k KeyPair) Sign(message []byte) [64]byte {
	var sig [64]byte
	copy(sig[:], ed25519.Sign(k.Private, message))
	return sig
}

// Verify checks an ed25519 signature made by the holder of pub.
func Verify(pub []byte, message []byte, sig [64]byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, sig[:])
}

// ReadKeyPair loads a key pair from a hex-encoded seed file, creating a new
// one if the file does not exist.
func ReadKeyPair(file string) (KeyPair, error) {
	data, err := os.ReadFile(file)
	if os.IsNotExist(err) {
		kp, err := GenerateKeyPair()
		if err != nil {
			return KeyPair{}, err
		}
		return kp, WriteKeyPair(kp, file)
	}
	if err != nil {
		return KeyPair{}, err
	}

	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return KeyPair{}, err
	}
	if len(seed) != ed25519.SeedSize {
		return KeyPair{}, ErrBadKeyLength
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// WriteKeyPair saves the key pair's seed to file, hex encoded, creating the
// parent directory if necessary.
func WriteKeyPair(kp KeyPair, file string) error {
	if err := os.MkdirAll(path.Dir(file), 0700); err != nil {
		return err
	}
	return os.WriteFile(file, []byte(hex.EncodeToString(kp.Private.Seed())), 0600)
}
