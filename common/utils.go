package common

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// RandBytes32 generates [32]byte with random values
func RandBytes32() [32]byte {
	var b [32]byte
	n, err := rand.Read(b[:])

	if err != nil {
		return [32]byte{}
	}
	if n != 32 {
		return [32]byte{}
	}

	return b
}

func RandBytes(n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil
	}
	return b
}

// RandHash returns a random chainhash.Hash, used for block and output hashes in tests.
func RandHash() chainhash.Hash {
	return chainhash.Hash(RandBytes32())
}

// RandDBFile returns a fresh sqlite file path in the working directory.
func RandDBFile() string {
	return "./" + hex.EncodeToString(RandBytes(16)) + ".db"
}

// HashFromStr parses the display form produced by chainhash.Hash.String().
func HashFromStr(s string) (chainhash.Hash, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return *h, nil
}

// Shorten shortens a hex string so that both sides have n characters and
// the rest is replaced with "..."
func Shorten(hexStr string, n int) string {
	if len(hexStr) <= n*2 {
		return hexStr
	}
	return hexStr[:n] + "..." + hexStr[len(hexStr)-n:]
}

func MinUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func MaxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
