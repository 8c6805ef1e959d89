package ice

import (
	"crypto/rand"
	"encoding/hex"
)

// RandSource is the injected source of randomness for tie-breakers, ufrag/
// pwd generation, and peer-reflexive foundation minting (spec §9: "the
// session's ... random source should be injectable").
type RandSource interface {
	// Uint64 returns a uniformly random 64-bit value, used for tie-breakers.
	Uint64() uint64
	// HexString returns a random hex string of n characters (n must be
	// even), used for ufrag/pwd and peer-reflexive foundations.
	HexString(n int) string
}

// CryptoRandSource is the production RandSource, backed by crypto/rand.
type CryptoRandSource struct{}

// Uint64 returns a cryptographically random 64-bit value.
func (CryptoRandSource) Uint64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// HexString returns n hex characters of cryptographically random data.
// n must be even.
func (CryptoRandSource) HexString(n int) string {
	b := make([]byte, n/2)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
